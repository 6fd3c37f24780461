package client

import (
	"sync"
	"sync/atomic"

	"openfms/flic/internal/protocol"
)

// registry maps protocol ids back to the entities that requested them.
// Ids come from one counter per entity kind and are never reused by a
// client, so a late event for a removed entity finds nothing.
type registry struct {
	nextScannerID  atomic.Uint32
	nextChannelID  atomic.Uint32
	nextWizardID   atomic.Uint32
	nextListenerID atomic.Uint32

	mu        sync.Mutex
	scanners  map[uint32]*ButtonScanner
	channels  map[uint32]*ConnectionChannel
	wizards   map[uint32]*ScanWizard
	listeners map[uint32]*BatteryStatusListener
}

func newRegistry() *registry {
	return &registry{
		scanners:  make(map[uint32]*ButtonScanner),
		channels:  make(map[uint32]*ConnectionChannel),
		wizards:   make(map[uint32]*ScanWizard),
		listeners: make(map[uint32]*BatteryStatusListener),
	}
}

func (r *registry) scanner(id uint32) *ButtonScanner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanners[id]
}

func (r *registry) channel(id uint32) *ConnectionChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[id]
}

func (r *registry) wizard(id uint32) *ScanWizard {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wizards[id]
}

func (r *registry) listener(id uint32) *BatteryStatusListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeners[id]
}

func (r *registry) addScanner(c *Client, s *ButtonScanner) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return 0, ErrAlreadyRegistered
	}
	id := r.nextScannerID.Add(1)
	s.client, s.id = c, id
	r.scanners[id] = s
	return id, nil
}

func (r *registry) removeScanner(c *Client, s *ButtonScanner) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != c {
		return 0, ErrNotRegistered
	}
	id := s.id
	delete(r.scanners, id)
	s.client = nil
	return id, nil
}

func (r *registry) addChannel(c *Client, ch *ConnectionChannel) (channelParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.client != nil {
		return channelParams{}, ErrAlreadyRegistered
	}
	id := r.nextChannelID.Add(1)
	ch.client, ch.id = c, id
	ch.state = StateRegistered
	ch.status = 0
	r.channels[id] = ch
	return ch.paramsLocked(), nil
}

// channelID returns the id ch is registered under with c.
func (r *registry) channelID(c *Client, ch *ConnectionChannel) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.client != c {
		return 0, ErrNotRegistered
	}
	return ch.id, nil
}

// takeChannel unregisters the channel with the given id and returns it.
func (r *registry) takeChannel(id uint32) *ConnectionChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channels[id]
	if ch == nil {
		return nil
	}
	delete(r.channels, id)
	ch.mu.Lock()
	ch.client = nil
	ch.state = StateUnregistered
	ch.mu.Unlock()
	return ch
}

func (r *registry) addWizard(c *Client, w *ScanWizard) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return 0, ErrAlreadyRegistered
	}
	id := r.nextWizardID.Add(1)
	w.client, w.id = c, id
	w.state = WizardSearching
	w.bdAddr, w.name = protocol.BdAddr{}, ""
	r.wizards[id] = w
	return id, nil
}

func (r *registry) wizardID(c *Client, w *ScanWizard) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != c {
		return 0, ErrNotRegistered
	}
	return w.id, nil
}

func (r *registry) takeWizard(id uint32) *ScanWizard {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.wizards[id]
	if w == nil {
		return nil
	}
	delete(r.wizards, id)
	w.mu.Lock()
	w.client = nil
	w.mu.Unlock()
	return w
}

func (r *registry) addListener(c *Client, l *BatteryStatusListener) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return 0, ErrAlreadyRegistered
	}
	id := r.nextListenerID.Add(1)
	l.client, l.id = c, id
	r.listeners[id] = l
	return id, nil
}

func (r *registry) removeListener(c *Client, l *BatteryStatusListener) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != c {
		return 0, ErrNotRegistered
	}
	id := l.id
	delete(r.listeners, id)
	l.client = nil
	return id, nil
}

// counts reports the number of live entities of each kind.
func (r *registry) counts() (scanners, channels, wizards, listeners int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scanners), len(r.channels), len(r.wizards), len(r.listeners)
}
