package gateway

import (
	"time"

	"github.com/pkg/errors"

	"openfms/flic/internal/client"
	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

// button is a managed button. The mutable fields are guarded by Gateway.mu.
type button struct {
	addr    protocol.BdAddr
	name    string
	channel *client.ConnectionChannel
	battery *client.BatteryStatusListener

	status       string
	batteryLevel int
	lastClick    string
	lastEvent    time.Time
}

// onInfo opens channels for newly allowed verified buttons and closes the
// ones that are no longer allowed.
func (g *Gateway) onInfo(c *client.Client, info client.InfoResponse) {
	g.mu.Lock()
	if g.client != c {
		g.mu.Unlock()
		return
	}
	g.info = &info
	var open []protocol.BdAddr
	for _, addr := range info.VerifiedButtons {
		if g.allow.Allowed(addr) && g.buttons[addr] == nil {
			open = append(open, addr)
		}
	}
	var closing []*button
	for addr, b := range g.buttons {
		if !g.allow.Allowed(addr) {
			closing = append(closing, b)
		}
	}
	g.mu.Unlock()

	for _, addr := range open {
		g.openButton(c, addr)
	}
	for _, b := range closing {
		g.closeButton(c, b)
	}

	g.publish(&model.ButtonMessage{
		Type:   model.MsgTypeDaemonInfo,
		Status: info.BluetoothControllerState.String(),
		Extras: map[string]interface{}{
			"my_bd_addr":                  info.MyBdAddr.String(),
			"max_pending_connections":     info.MaxPendingConnections,
			"max_concurrently_connected":  info.MaxConcurrentlyConnectedButtons,
			"current_pending_connections": info.CurrentPendingConnections,
			"currently_no_space":          info.CurrentlyNoSpaceForConnection,
			"verified_buttons":            len(info.VerifiedButtons),
			"managed_buttons":             len(g.Buttons()),
		},
	})
}

func (g *Gateway) openButton(c *client.Client, addr protocol.BdAddr) {
	b := &button{
		addr:         addr,
		status:       protocol.Disconnected.String(),
		batteryLevel: -1,
	}
	b.channel = client.NewConnectionChannel(addr, func(_ *client.ConnectionChannel, ev client.ChannelEvent) {
		g.onChannelEvent(c, b, ev)
	})
	if err := b.channel.SetLatencyMode(g.cfg.LatencyMode); err != nil {
		log.Warningf("[Gateway] Latency mode for %s: %v", addr, err)
	}
	if err := b.channel.SetAutoDisconnectTime(g.cfg.AutoDisconnectTime); err != nil {
		log.Warningf("[Gateway] Auto disconnect time for %s: %v", addr, err)
	}
	b.battery = client.NewBatteryStatusListener(addr, func(_ *client.BatteryStatusListener, st client.BatteryStatus) {
		g.onBattery(b, st)
	})

	g.mu.Lock()
	if g.buttons[addr] != nil {
		g.mu.Unlock()
		return
	}
	b.name = g.allow.Name(addr)
	g.buttons[addr] = b
	g.mu.Unlock()

	if err := c.AddConnectionChannel(b.channel); err != nil {
		log.Errorf("[Gateway] Open channel to %s: %v", addr, err)
		g.forget(b)
		return
	}
	if err := c.AddBatteryStatusListener(b.battery); err != nil {
		log.Warningf("[Gateway] Battery listener for %s: %v", addr, err)
	}
	log.Infof("[Gateway] Managing button %s", addr)
}

// closeButton stops managing b. The channel is gone once flicd confirms the
// removal.
func (g *Gateway) closeButton(c *client.Client, b *button) {
	g.forget(b)
	if err := c.RemoveConnectionChannel(b.channel); err != nil && !errors.Is(err, client.ErrNotRegistered) {
		log.Warningf("[Gateway] Remove channel to %s: %v", b.addr, err)
	}
	if err := c.RemoveBatteryStatusListener(b.battery); err != nil && !errors.Is(err, client.ErrNotRegistered) {
		log.Warningf("[Gateway] Remove battery listener for %s: %v", b.addr, err)
	}
	log.Infof("[Gateway] Stopped managing button %s", b.addr)
}

func (g *Gateway) forget(b *button) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.buttons[b.addr] != b {
		return false
	}
	delete(g.buttons, b.addr)
	return true
}

func (g *Gateway) managed(b *button) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buttons[b.addr] == b
}

func (g *Gateway) onChannelEvent(c *client.Client, b *button, ev client.ChannelEvent) {
	addr := b.addr.String()
	switch e := ev.(type) {
	case client.ChannelCreated:
		if e.Error != protocol.NoError {
			g.publish(&model.ButtonMessage{Type: model.MsgTypeChannelCreated, Address: addr, Reason: e.Error.String()})
			c.SetTimer(g.cfg.ReconnectDelay, func() {
				if !g.managed(b) {
					return
				}
				if err := c.AddConnectionChannel(b.channel); err != nil && !errors.Is(err, client.ErrAlreadyRegistered) {
					log.Warningf("[Gateway] Retry channel to %s: %v", addr, err)
				}
			})
			return
		}
		g.setStatus(b, e.Status)
		msg := &model.ButtonMessage{Type: model.MsgTypeChannelCreated, Address: addr, Status: e.Status.String()}
		if b.name != "" {
			msg.Extras = map[string]interface{}{"name": b.name}
		}
		g.updateShadow(b.addr, map[string]interface{}{model.ShadowConnection: e.Status.String()})
		g.publish(msg)

	case client.ChannelStatusChanged:
		g.setStatus(b, e.Status)
		msg := &model.ButtonMessage{Type: model.MsgTypeConnection, Address: addr, Status: e.Status.String()}
		if e.Status == protocol.Disconnected {
			msg.Reason = e.Reason.String()
		}
		g.updateShadow(b.addr, map[string]interface{}{model.ShadowConnection: e.Status.String()})
		g.publish(msg)

	case client.ChannelRemoved:
		g.publish(&model.ButtonMessage{Type: model.MsgTypeChannelRemoved, Address: addr, Reason: e.Reason.String()})
		if g.forget(b) {
			if err := c.RemoveBatteryStatusListener(b.battery); err != nil && !errors.Is(err, client.ErrNotRegistered) {
				log.Warningf("[Gateway] Remove battery listener for %s: %v", addr, err)
			}
		}
		g.updateShadow(b.addr, map[string]interface{}{model.ShadowConnection: protocol.Disconnected.String()})

	case client.ButtonPressed:
		// The click and hold streams are derivable from these two.
		if e.Kind != client.UpOrDown && e.Kind != client.SingleOrDoubleClickOrHold {
			return
		}
		g.mu.Lock()
		b.lastClick = e.ClickType.String()
		b.lastEvent = time.Now()
		g.mu.Unlock()
		g.updateShadow(b.addr, map[string]interface{}{model.ShadowLastClick: e.ClickType.String()})
		g.publish(&model.ButtonMessage{
			Type:      model.MsgTypeClick,
			Address:   addr,
			Kind:      e.Kind.String(),
			ClickType: e.ClickType.String(),
			WasQueued: e.WasQueued,
			TimeDiff:  e.TimeDiff,
		})
	}
}

func (g *Gateway) setStatus(b *button, status protocol.ConnectionStatus) {
	g.mu.Lock()
	b.status = status.String()
	b.lastEvent = time.Now()
	g.mu.Unlock()
}

func (g *Gateway) onBattery(b *button, st client.BatteryStatus) {
	level := int(st.Percentage)
	g.mu.Lock()
	b.batteryLevel = level
	g.mu.Unlock()
	g.updateShadow(b.addr, map[string]interface{}{model.ShadowBattery: level})
	g.publish(&model.ButtonMessage{Type: model.MsgTypeBattery, Address: b.addr.String(), Battery: &level})
}

func (g *Gateway) onGeneralEvent(c *client.Client, ev client.GeneralEvent) {
	switch e := ev.(type) {
	case client.NewVerifiedButton:
		g.publish(&model.ButtonMessage{Type: model.MsgTypeNewButton, Address: e.BdAddr.String()})
		if g.allowed(e.BdAddr) {
			g.openButton(c, e.BdAddr)
		}
	case client.ButtonDeleted:
		g.infoCache.Remove(e.BdAddr)
		g.publish(&model.ButtonMessage{
			Type:    model.MsgTypeButtonDeleted,
			Address: e.BdAddr.String(),
			Extras:  map[string]interface{}{"deleted_by_this_client": e.DeletedByThisClient},
		})
		g.removeShadow(e.BdAddr)
	case client.NoSpaceForNewConnection:
		g.publish(&model.ButtonMessage{
			Type:   model.MsgTypeNoSpace,
			Extras: map[string]interface{}{"max_concurrently_connected": e.MaxConcurrentlyConnectedButtons},
		})
	case client.GotSpaceForNewConnection:
		g.publish(&model.ButtonMessage{
			Type:   model.MsgTypeGotSpace,
			Extras: map[string]interface{}{"max_concurrently_connected": e.MaxConcurrentlyConnectedButtons},
		})
	case client.ControllerStateChanged:
		log.Infof("[Gateway] Bluetooth controller %s", e.State)
		g.publish(&model.ButtonMessage{Type: model.MsgTypeControllerState, Status: e.State.String()})
	}
}

// ButtonState is a snapshot of a managed button.
type ButtonState struct {
	Address          string     `json:"address"`
	Name             string     `json:"name,omitempty"`
	ConnectionStatus string     `json:"connection_status"`
	ChannelState     string     `json:"channel_state"`
	Battery          int        `json:"battery"`
	LastClick        string     `json:"last_click,omitempty"`
	LastEvent        *time.Time `json:"last_event,omitempty"`
}

// Buttons returns the managed buttons.
func (g *Gateway) Buttons() []ButtonState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ButtonState, 0, len(g.buttons))
	for _, b := range g.buttons {
		s := ButtonState{
			Address:          b.addr.String(),
			Name:             b.name,
			ConnectionStatus: b.status,
			Battery:          b.batteryLevel,
			LastClick:        b.lastClick,
		}
		if b.channel != nil {
			s.ChannelState = b.channel.State().String()
		}
		if !b.lastEvent.IsZero() {
			t := b.lastEvent
			s.LastEvent = &t
		}
		out = append(out, s)
	}
	return out
}

func (g *Gateway) channelFor(addr protocol.BdAddr) *client.ConnectionChannel {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b := g.buttons[addr]; b != nil {
		return b.channel
	}
	return nil
}
