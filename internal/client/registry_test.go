package client

import (
	"errors"
	"testing"

	"openfms/flic/internal/protocol"
)

func TestRegistryCountersPerKind(t *testing.T) {
	r := newRegistry()
	c := &Client{}

	s1, s2 := NewButtonScanner(nil), NewButtonScanner(nil)
	id1, err := r.addScanner(c, s1)
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := r.addScanner(c, s2)
	if id2 <= id1 {
		t.Errorf("scanner ids %d then %d, want increasing", id1, id2)
	}

	ch := NewConnectionChannel(protocol.BdAddr{1}, nil)
	p, err := r.addChannel(c, ch)
	if err != nil {
		t.Fatal(err)
	}
	if p.id != 1 {
		t.Errorf("first channel id = %d, want 1", p.id)
	}
	if p.latencyMode != protocol.NormalLatency || p.autoDisconnectTime != protocol.MaxAutoDisconnectTime {
		t.Errorf("channel params = %+v", p)
	}

	if _, err := r.removeScanner(c, s1); err != nil {
		t.Fatal(err)
	}
	id3, _ := r.addScanner(c, s1)
	if id3 == id1 || id3 == id2 {
		t.Errorf("re-added scanner got reused id %d", id3)
	}
	if r.scanner(id1) != nil {
		t.Errorf("stale id %d still resolves", id1)
	}
	if r.scanner(id3) != s1 {
		t.Errorf("scanner(%d) does not resolve to the re-added scanner", id3)
	}
}

func TestRegistryOwnership(t *testing.T) {
	r := newRegistry()
	a, b := &Client{}, &Client{}
	l := NewBatteryStatusListener(protocol.BdAddr{}, nil)
	if _, err := r.addListener(a, l); err != nil {
		t.Fatal(err)
	}
	if _, err := r.addListener(b, l); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("add to second client: err = %v, want ErrAlreadyRegistered", err)
	}
	if _, err := r.removeListener(b, l); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("remove via other client: err = %v, want ErrNotRegistered", err)
	}
}

func TestRegistryTakeChannel(t *testing.T) {
	r := newRegistry()
	c := &Client{}
	ch := NewConnectionChannel(protocol.BdAddr{}, nil)
	p, _ := r.addChannel(c, ch)
	if ch.State() != StateRegistered {
		t.Errorf("state = %v, want Registered", ch.State())
	}
	if got := r.takeChannel(p.id); got != ch {
		t.Fatalf("takeChannel returned %p, want %p", got, ch)
	}
	if r.takeChannel(p.id) != nil {
		t.Error("second takeChannel found the channel")
	}
	if ch.State() != StateUnregistered {
		t.Errorf("state = %v, want Unregistered", ch.State())
	}
	if _, err := r.channelID(c, ch); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("channelID after take: err = %v", err)
	}
	if _, err := r.addChannel(c, ch); err != nil {
		t.Errorf("re-add after take: %v", err)
	}
}
