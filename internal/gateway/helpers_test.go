package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"openfms/flic/internal/client"
	"openfms/flic/internal/config"
	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

const waitTimeout = 2 * time.Second

type published struct {
	subject string
	msg     model.ButtonMessage
}

type fakePublisher struct {
	ch chan published
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{ch: make(chan published, 256)}
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	var msg model.ButtonMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	p.ch <- published{subject: subject, msg: msg}
	return nil
}

// next returns the next message published on the catch-all subject with the
// given type, skipping others.
func (p *fakePublisher) next(t *testing.T, msgType string) model.ButtonMessage {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case m := <-p.ch:
			if m.subject == model.SubjectUplinkAll && m.msg.Type == msgType {
				return m.msg
			}
		case <-deadline:
			t.Fatalf("no %s message published", msgType)
			return model.ButtonMessage{}
		}
	}
}

type fakeShadow struct {
	mu      sync.Mutex
	fields  map[string]map[string]interface{}
	removed []string
}

func newFakeShadow() *fakeShadow {
	return &fakeShadow{fields: make(map[string]map[string]interface{})}
}

func (s *fakeShadow) Update(_ context.Context, address string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.fields[address]
	if m == nil {
		m = make(map[string]interface{})
		s.fields[address] = m
	}
	for k, v := range fields {
		m[k] = v
	}
	return nil
}

func (s *fakeShadow) Remove(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fields, address)
	s.removed = append(s.removed, address)
	return nil
}

func (s *fakeShadow) get(address, field string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[address][field]
}

// wait polls until field holds want and returns the last value seen.
func (s *fakeShadow) wait(address, field string, want interface{}) interface{} {
	deadline := time.Now().Add(waitTimeout)
	for {
		got := s.get(address, field)
		if got == want || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// stallShadow blocks every write until released or the write's context ends.
type stallShadow struct {
	release chan struct{}
}

func newStallShadow() *stallShadow {
	return &stallShadow{release: make(chan struct{})}
}

func (s *stallShadow) Update(ctx context.Context, _ string, _ map[string]interface{}) error {
	return s.block(ctx)
}

func (s *stallShadow) Remove(ctx context.Context, _ string) error {
	return s.block(ctx)
}

func (s *stallShadow) block(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.release:
		return nil
	}
}

type fakeDaemon struct {
	conn net.Conn
	cmds chan protocol.Command
}

func newFakeDaemon() (*fakeDaemon, *client.Client) {
	server, conn := net.Pipe()
	d := &fakeDaemon{conn: server, cmds: make(chan protocol.Command, 64)}
	go func() {
		defer close(d.cmds)
		for {
			f, err := protocol.ReadFrame(server)
			if err != nil {
				return
			}
			if cmd, err := protocol.DecodeCommand(f.Opcode, f.Payload); err == nil {
				d.cmds <- cmd
			}
		}
	}()
	return d, client.New(conn)
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

func (d *fakeDaemon) send(t *testing.T, evt protocol.Event) {
	t.Helper()
	b, err := protocol.EncodeEvent(evt)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		FlicdHost:          "localhost",
		FlicdPort:          5551,
		GatewayID:          "test-gw",
		LatencyMode:        protocol.LowLatency,
		AutoDisconnectTime: 60,
		ReconnectDelay:     10 * time.Millisecond,
		DownlinkRatePerMin: 600,
	}
}

type harness struct {
	gw     *Gateway
	daemon *fakeDaemon
	pub    *fakePublisher
	shadow *fakeShadow
	cancel context.CancelFunc
	done   chan error
}

// startGateway serves one session against a fake daemon and answers the
// initial get info with verified.
func startGateway(t *testing.T, cfg *config.Config, verified ...protocol.BdAddr) *harness {
	t.Helper()
	shadow := newFakeShadow()
	h := startGatewayWithShadow(t, cfg, shadow, verified...)
	h.shadow = shadow
	return h
}

func startGatewayWithShadow(t *testing.T, cfg *config.Config, shadow ShadowStore, verified ...protocol.BdAddr) *harness {
	t.Helper()
	h := &harness{pub: newFakePublisher(), done: make(chan error, 1)}
	h.gw = New(cfg, h.pub, shadow)
	d, c := newFakeDaemon()
	h.daemon = d

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.gw.Serve(ctx, c) }()
	t.Cleanup(func() {
		cancel()
		d.conn.Close()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
			t.Error("Serve did not return")
		}
	})

	if _, ok := d.expect(t).(*protocol.CmdGetInfo); !ok {
		t.Fatal("first command is not get info")
	}
	d.send(t, &protocol.EvtGetInfoResponse{
		BluetoothControllerState: protocol.Attached,
		VerifiedButtons:          verified,
	})
	return h
}

// expectOpen consumes the channel and listener registration for addr and
// returns the connection id.
func (h *harness) expectOpen(t *testing.T, addr protocol.BdAddr) uint32 {
	t.Helper()
	create, ok := h.daemon.expect(t).(*protocol.CmdCreateConnectionChannel)
	if !ok || create.BdAddr != addr {
		t.Fatalf("expected channel to %s, got %#v", addr, create)
	}
	listener, ok := h.daemon.expect(t).(*protocol.CmdCreateBatteryStatusListener)
	if !ok || listener.BdAddr != addr {
		t.Fatalf("expected battery listener for %s, got %#v", addr, listener)
	}
	return create.ConnID
}
