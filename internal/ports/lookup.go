package ports

import (
	"context"
	"net"
)

// PathLookup finds executables on the search path.
type PathLookup interface {
	LookPath(name string) (string, error)
}

// Dialer opens network connections for liveness checks.
// *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}
