package migrator

import "github.com/pkg/errors"

// GetVBucketState runs the synchronous GET_VBUCKET request/response probe
// described in spec.md §4.2/§4.9's open question: always emit opcode 0x3B
// on request, accept either 0x3B or 0x84 on response (both generations
// appear in the wild). Must be called only after ReadLoop/WriteLoop have
// stopped, per spec.md §5's "after it has finished (probe)".
func (p *Pipe) GetVBucketState(vbucket uint16) (uint32, error) {
	req := NewRequest(OpGetVBucket, vbucket, nil, nil, nil, 0)
	resp, err := p.syncRoundTrip(req)
	if err != nil {
		return 0, errors.Wrapf(err, "get vbucket state for %d", vbucket)
	}
	if resp.Opcode() != OpGetVBucket && resp.Opcode() != OpGetVBucketAlt {
		return 0, newProtocolError("GET_VBUCKET for %d got unexpected opcode 0x%02x", vbucket, resp.Opcode())
	}
	if resp.Status() != StatusSuccess {
		return 0, newProtocolError("GET_VBUCKET for %d failed with status 0x%02x", vbucket, resp.Status())
	}
	body := resp.Value()
	if len(body) < 4 {
		return 0, newProtocolError("GET_VBUCKET for %d returned short body", vbucket)
	}
	return decodeVbucketState(body), nil
}

func decodeVbucketState(body []byte) uint32 {
	return uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
}
