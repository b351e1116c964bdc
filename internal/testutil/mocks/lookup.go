package mocks

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"sync"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// PathLookup is a test double for ports.PathLookup backed by a fixed table.
type PathLookup struct {
	mu    sync.RWMutex
	paths map[string]string
}

// NewPathLookup creates a lookup that knows the given binaries.
// Each name resolves to /usr/bin/<name>.
func NewPathLookup(names ...string) *PathLookup {
	l := &PathLookup{paths: make(map[string]string)}
	for _, n := range names {
		l.paths[n] = "/usr/bin/" + n
	}
	return l
}

// Add registers a binary.
func (l *PathLookup) Add(name, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths[name] = path
}

// LookPath resolves a binary or returns exec.ErrNotFound.
func (l *PathLookup) LookPath(name string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.paths[name]; ok {
		return p, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Dialer is a test double for ports.Dialer. Addresses listed as reachable get
// an in-memory connection; everything else is refused.
type Dialer struct {
	mu        sync.Mutex
	reachable map[string]bool
	opened    int
	closed    int
}

// NewDialer creates a dialer that reaches the given addresses.
func NewDialer(reachable ...string) *Dialer {
	d := &Dialer{reachable: make(map[string]bool)}
	for _, a := range reachable {
		d.reachable[a] = true
	}
	return d
}

// DialContext returns one end of a net.Pipe for reachable addresses.
func (d *Dialer) DialContext(ctx context.Context, _, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reachable[address] {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	_ = server.Close()
	d.opened++
	return &trackedConn{Conn: client, onClose: d.markClosed}, nil
}

// Open returns the number of connections not yet closed.
func (d *Dialer) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened - d.closed
}

func (d *Dialer) markClosed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
}

type trackedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *trackedConn) Close() error {
	c.once.Do(c.onClose)
	return c.Conn.Close()
}

var (
	_ ports.PathLookup = (*PathLookup)(nil)
	_ ports.Dialer     = (*Dialer)(nil)
)
