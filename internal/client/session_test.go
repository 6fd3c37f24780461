package client

import (
	"net"
	"sync"
	"testing"
	"time"

	"openfms/flic/internal/protocol"
)

const waitTimeout = 2 * time.Second

// fakeDaemon is the flicd end of a net.Pipe session.
type fakeDaemon struct {
	conn net.Conn
	cmds chan protocol.Command
}

func (d *fakeDaemon) readLoop() {
	defer close(d.cmds)
	for {
		f, err := protocol.ReadFrame(d.conn)
		if err != nil {
			return
		}
		cmd, err := protocol.DecodeCommand(f.Opcode, f.Payload)
		if err != nil {
			continue
		}
		d.cmds <- cmd
	}
}

func (d *fakeDaemon) expect(t *testing.T) protocol.Command {
	t.Helper()
	select {
	case cmd, ok := <-d.cmds:
		if !ok {
			t.Fatal("connection closed while waiting for a command")
		}
		return cmd
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a command")
	}
	return nil
}

func (d *fakeDaemon) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case cmd := <-d.cmds:
		t.Fatalf("unexpected command %#v", cmd)
	case <-time.After(within):
	}
}

func (d *fakeDaemon) send(t *testing.T, evt protocol.Event) {
	t.Helper()
	b, err := protocol.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("EncodeEvent(%T): %v", evt, err)
	}
	d.write(t, b)
}

func (d *fakeDaemon) write(t *testing.T, b []byte) {
	t.Helper()
	if _, err := d.conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type session struct {
	client *Client
	daemon *fakeDaemon
	done   chan error
}

func newSession(t *testing.T) *session {
	t.Helper()
	server, conn := net.Pipe()
	s := &session{
		client: New(conn),
		daemon: &fakeDaemon{conn: server, cmds: make(chan protocol.Command, 64)},
		done:   make(chan error, 1),
	}
	go s.daemon.readLoop()
	go func() { s.done <- s.client.RunForever() }()
	t.Cleanup(func() {
		s.client.Close()
		server.Close()
		select {
		case <-s.done:
		case <-time.After(waitTimeout):
			t.Error("event loop did not stop")
		}
	})
	return s
}

// recorder collects values delivered on the event loop.
type recorder[T any] struct {
	mu    sync.Mutex
	items []T
	ch    chan T
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{ch: make(chan T, 64)}
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()
	r.ch <- v
}

func (r *recorder[T]) next(t *testing.T) T {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a callback")
	}
	var zero T
	return zero
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}
