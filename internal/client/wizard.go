package client

import (
	"sync"

	"openfms/flic/internal/protocol"
)

// WizardState tracks how far a scan wizard run has progressed.
type WizardState uint8

const (
	WizardIdle WizardState = iota
	WizardSearching
	WizardFoundPrivateButton
	WizardFoundPublicButton
	WizardConnecting
	WizardDone
)

func (s WizardState) String() string {
	switch s {
	case WizardIdle:
		return "Idle"
	case WizardSearching:
		return "Searching"
	case WizardFoundPrivateButton:
		return "FoundPrivate"
	case WizardFoundPublicButton:
		return "FoundPublic"
	case WizardConnecting:
		return "Connecting"
	case WizardDone:
		return "Completed"
	}
	return "Unknown"
}

// WizardHandler receives scan wizard progress on the event loop goroutine.
type WizardHandler func(w *ScanWizard, ev WizardEvent)

// ScanWizard runs the daemon's guided find, connect and verify flow for a
// single new button.
type ScanWizard struct {
	handler WizardHandler

	mu     sync.Mutex
	client *Client
	id     uint32
	state  WizardState
	bdAddr protocol.BdAddr
	name   string
}

func NewScanWizard(handler WizardHandler) *ScanWizard {
	return &ScanWizard{handler: handler}
}

func (w *ScanWizard) ID() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

func (w *ScanWizard) State() WizardState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Found returns the public button captured by the current run, if any.
func (w *ScanWizard) Found() (protocol.BdAddr, string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WizardFoundPublicButton && w.state != WizardConnecting {
		return protocol.BdAddr{}, "", false
	}
	return w.bdAddr, w.name, true
}

func (w *ScanWizard) foundPrivate() {
	w.mu.Lock()
	w.state = WizardFoundPrivateButton
	w.mu.Unlock()
	w.deliver(WizardFoundPrivate{})
}

func (w *ScanWizard) foundPublic(addr protocol.BdAddr, name string) {
	w.mu.Lock()
	w.state = WizardFoundPublicButton
	w.bdAddr, w.name = addr, name
	w.mu.Unlock()
	w.deliver(WizardFoundPublic{BdAddr: addr, Name: name})
}

func (w *ScanWizard) connected() {
	w.mu.Lock()
	w.state = WizardConnecting
	addr, name := w.bdAddr, w.name
	w.mu.Unlock()
	w.deliver(WizardButtonConnected{BdAddr: addr, Name: name})
}

// complete clears the captured button before notifying.
func (w *ScanWizard) complete(result protocol.ScanWizardResult) {
	w.mu.Lock()
	w.state = WizardDone
	addr, name := w.bdAddr, w.name
	w.bdAddr, w.name = protocol.BdAddr{}, ""
	w.mu.Unlock()
	w.deliver(WizardCompleted{Result: result, BdAddr: addr, Name: name})
}

func (w *ScanWizard) deliver(ev WizardEvent) {
	if w.handler != nil {
		w.handler(w, ev)
	}
}
