package client

import (
	"sync"

	"openfms/flic/internal/protocol"
)

// ChannelState is the registration state of a ConnectionChannel.
type ChannelState uint8

const (
	StateUnregistered ChannelState = iota
	// StateRegistered means the create command was sent and no answer has
	// arrived yet.
	StateRegistered
	StateOpen
)

func (s ChannelState) String() string {
	switch s {
	case StateUnregistered:
		return "Unregistered"
	case StateRegistered:
		return "Registered"
	case StateOpen:
		return "Open"
	}
	return "Unknown"
}

// ChannelHandler receives every event for one connection channel, on the
// event loop goroutine.
type ChannelHandler func(ch *ConnectionChannel, ev ChannelEvent)

// ConnectionChannel subscribes to connection and button events of one
// button. A channel may be added to a client again after it was removed or
// rejected.
type ConnectionChannel struct {
	bdAddr  protocol.BdAddr
	handler ChannelHandler

	mu                 sync.Mutex
	client             *Client
	id                 uint32
	state              ChannelState
	status             protocol.ConnectionStatus
	latencyMode        protocol.LatencyMode
	autoDisconnectTime int16
}

type channelParams struct {
	id                 uint32
	latencyMode        protocol.LatencyMode
	autoDisconnectTime int16
}

// NewConnectionChannel creates an unregistered channel with normal latency
// and a 511 second auto-disconnect time.
func NewConnectionChannel(bdAddr protocol.BdAddr, handler ChannelHandler) *ConnectionChannel {
	return &ConnectionChannel{
		bdAddr:             bdAddr,
		handler:            handler,
		latencyMode:        protocol.NormalLatency,
		autoDisconnectTime: protocol.MaxAutoDisconnectTime,
	}
}

// BdAddr returns the button address the channel targets.
func (ch *ConnectionChannel) BdAddr() protocol.BdAddr { return ch.bdAddr }

// ID returns the protocol id of the current or last registration.
func (ch *ConnectionChannel) ID() uint32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.id
}

func (ch *ConnectionChannel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// ConnectionStatus is meaningful only while the channel is open.
func (ch *ConnectionChannel) ConnectionStatus() protocol.ConnectionStatus {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.status
}

func (ch *ConnectionChannel) LatencyMode() protocol.LatencyMode {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.latencyMode
}

func (ch *ConnectionChannel) AutoDisconnectTime() int16 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.autoDisconnectTime
}

// SetLatencyMode changes the latency mode, notifying the daemon if the
// channel is registered.
func (ch *ConnectionChannel) SetLatencyMode(mode protocol.LatencyMode) error {
	if !mode.Valid() {
		return ErrInvalidArgument
	}
	ch.mu.Lock()
	ch.latencyMode = mode
	c, params := ch.client, ch.paramsLocked()
	ch.mu.Unlock()
	return ch.sendModeParameters(c, params)
}

// SetAutoDisconnectTime sets the auto-disconnect timeout in seconds (0-511,
// or 512 to disable), notifying the daemon if the channel is registered.
func (ch *ConnectionChannel) SetAutoDisconnectTime(seconds int16) error {
	if !validAutoDisconnectTime(seconds) {
		return ErrInvalidArgument
	}
	ch.mu.Lock()
	ch.autoDisconnectTime = seconds
	c, params := ch.client, ch.paramsLocked()
	ch.mu.Unlock()
	return ch.sendModeParameters(c, params)
}

func (ch *ConnectionChannel) sendModeParameters(c *Client, p channelParams) error {
	if c == nil {
		return nil
	}
	return c.Send(&protocol.CmdChangeModeParameters{
		ConnID:             p.id,
		LatencyMode:        p.latencyMode,
		AutoDisconnectTime: p.autoDisconnectTime,
	})
}

func (ch *ConnectionChannel) paramsLocked() channelParams {
	return channelParams{id: ch.id, latencyMode: ch.latencyMode, autoDisconnectTime: ch.autoDisconnectTime}
}

func (ch *ConnectionChannel) markOpen(status protocol.ConnectionStatus) {
	ch.mu.Lock()
	ch.state = StateOpen
	ch.status = status
	ch.mu.Unlock()
}

func (ch *ConnectionChannel) setStatus(status protocol.ConnectionStatus) {
	ch.mu.Lock()
	ch.status = status
	ch.mu.Unlock()
}

func (ch *ConnectionChannel) deliver(ev ChannelEvent) {
	if ch.handler != nil {
		ch.handler(ch, ev)
	}
}

func validAutoDisconnectTime(seconds int16) bool {
	return seconds >= 0 && seconds <= protocol.AutoDisconnectTimeDisabled
}
