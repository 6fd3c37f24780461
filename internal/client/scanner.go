package client

import "sync"

// ScannerHandler receives advertisement observations on the event loop goroutine.
type ScannerHandler func(s *ButtonScanner, adv Advertisement)

// ButtonScanner reports every Flic advertisement the daemon hears while it
// is registered.
type ButtonScanner struct {
	handler ScannerHandler

	mu     sync.Mutex
	client *Client
	id     uint32
}

func NewButtonScanner(handler ScannerHandler) *ButtonScanner {
	return &ButtonScanner{handler: handler}
}

func (s *ButtonScanner) ID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *ButtonScanner) deliver(adv Advertisement) {
	if s.handler != nil {
		s.handler(s, adv)
	}
}
