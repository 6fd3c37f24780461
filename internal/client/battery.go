package client

import (
	"sync"

	"openfms/flic/internal/protocol"
)

// BatteryHandler receives battery readings on the event loop goroutine.
type BatteryHandler func(l *BatteryStatusListener, status BatteryStatus)

// BatteryStatusListener receives the initial and subsequent battery
// readings of one button.
type BatteryStatusListener struct {
	bdAddr  protocol.BdAddr
	handler BatteryHandler

	mu     sync.Mutex
	client *Client
	id     uint32
}

func NewBatteryStatusListener(bdAddr protocol.BdAddr, handler BatteryHandler) *BatteryStatusListener {
	return &BatteryStatusListener{bdAddr: bdAddr, handler: handler}
}

func (l *BatteryStatusListener) BdAddr() protocol.BdAddr { return l.bdAddr }

func (l *BatteryStatusListener) ID() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

func (l *BatteryStatusListener) deliver(status BatteryStatus) {
	if l.handler != nil {
		l.handler(l, status)
	}
}
