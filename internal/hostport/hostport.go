// Package hostport parses the "host[:port]" addresses cmd/vbucketmigrator
// accepts for -h and -d, per spec.md §6.
package hostport

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// DefaultPort is used when arg carries no ":port" suffix.
const DefaultPort = 11211

// Parse normalizes arg into a "host:port" string suitable for net.Dial.
func Parse(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("empty host:port")
	}
	host, port, err := net.SplitHostPort(arg)
	if err != nil {
		// No ":port" present at all; net.SplitHostPort rejects a bare
		// host the same way, so fall back to the default port.
		return net.JoinHostPort(arg, strconv.Itoa(DefaultPort)), nil
	}
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}
	return net.JoinHostPort(host, port), nil
}
