// Package port finds free TCP ports.
package port

import (
	"errors"
	"net"

	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

var errNotTCP = errors.New("listener address is not TCP")

// AvailablePort asks the kernel for a free port on localhost. The port is
// released before returning, so another process may take it first.
func AvailablePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, stacktrace.Wrap(err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, stacktrace.Wrap(errNotTCP)
	}
	return addr.Port, nil
}
