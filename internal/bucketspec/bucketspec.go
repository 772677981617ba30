// Package bucketspec parses the -b vbucket selector accepted by
// cmd/vbucketmigrator, ported from original_source/src/buckets.cc's
// range-or-list grammar into idiomatic Go.
package bucketspec

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Parse turns one -b argument into its vbucket ids. Two grammars are
// accepted, per buckets.cc:
//   - a range: "[start,stop]", inclusive of both ends
//   - a list: comma- or semicolon-separated bucket ids, e.g. "3,7;12"
func Parse(arg string) ([]uint16, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, errors.New("empty bucket spec")
	}
	if strings.HasPrefix(arg, "[") {
		return parseRange(arg)
	}
	return parseList(arg)
}

// ParseAll parses and merges every arg (the -b flag is repeatable, per
// spec.md §6), producing one combined, unsorted id slice; the caller feeds
// the result to migrator.NewVbucketFilter, which sorts and dedups it.
func ParseAll(args []string) ([]uint16, error) {
	var ids []uint16
	for _, a := range args {
		parsed, err := Parse(a)
		if err != nil {
			return nil, errors.Wrapf(err, "bucket spec %q", a)
		}
		ids = append(ids, parsed...)
	}
	return ids, nil
}

func parseRange(arg string) ([]uint16, error) {
	if !strings.HasSuffix(arg, "]") {
		return nil, errors.Errorf("range %q missing closing ]", arg)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(arg, "["), "]")
	parts := strings.SplitN(body, ",", 2)
	if len(parts) != 2 {
		return nil, errors.Errorf("range %q must be [start,stop]", arg)
	}
	start, err := parseBucketID(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}
	stop, err := parseBucketID(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, err
	}
	if start > stop {
		return nil, errors.Errorf("range %q has start > stop", arg)
	}
	ids := make([]uint16, 0, int(stop-start)+1)
	for id := start; id <= stop; id++ {
		ids = append(ids, id)
		if id == stop {
			break // guards against uint16 wraparound when stop == 65535
		}
	}
	return ids, nil
}

func parseList(arg string) ([]uint16, error) {
	fields := strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ';' })
	if len(fields) == 0 {
		return nil, errors.Errorf("bucket list %q has no ids", arg)
	}
	ids := make([]uint16, 0, len(fields))
	for _, f := range fields {
		id, err := parseBucketID(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseBucketID(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Errorf("invalid bucket id %q", s)
	}
	return uint16(n), nil
}
