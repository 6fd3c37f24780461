package client

import (
	"context"

	"openfms/flic/internal/protocol"
)

// AddScanner registers s and starts scanning for advertisements.
func (c *Client) AddScanner(s *ButtonScanner) error {
	if s == nil {
		return ErrInvalidArgument
	}
	id, err := c.reg.addScanner(c, s)
	if err != nil {
		return err
	}
	if err := c.Send(&protocol.CmdCreateScanner{ScanID: id}); err != nil {
		c.reg.removeScanner(c, s)
		return err
	}
	return nil
}

// RemoveScanner stops s. No more advertisements are delivered to it.
func (c *Client) RemoveScanner(s *ButtonScanner) error {
	if s == nil {
		return ErrInvalidArgument
	}
	id, err := c.reg.removeScanner(c, s)
	if err != nil {
		return err
	}
	return c.Send(&protocol.CmdRemoveScanner{ScanID: id})
}

// AddConnectionChannel registers ch. The outcome arrives as a ChannelCreated
// event.
func (c *Client) AddConnectionChannel(ch *ConnectionChannel) error {
	if ch == nil {
		return ErrInvalidArgument
	}
	p, err := c.reg.addChannel(c, ch)
	if err != nil {
		return err
	}
	err = c.Send(&protocol.CmdCreateConnectionChannel{
		ConnID:             p.id,
		BdAddr:             ch.bdAddr,
		LatencyMode:        p.latencyMode,
		AutoDisconnectTime: p.autoDisconnectTime,
	})
	if err != nil {
		c.reg.takeChannel(p.id)
		return err
	}
	return nil
}

// RemoveConnectionChannel asks the daemon to remove ch. The channel stays
// registered until the ChannelRemoved event arrives.
func (c *Client) RemoveConnectionChannel(ch *ConnectionChannel) error {
	if ch == nil {
		return ErrInvalidArgument
	}
	id, err := c.reg.channelID(c, ch)
	if err != nil {
		return err
	}
	return c.Send(&protocol.CmdRemoveConnectionChannel{ConnID: id})
}

// AddScanWizard starts a wizard run. It ends with a WizardCompleted event.
func (c *Client) AddScanWizard(w *ScanWizard) error {
	if w == nil {
		return ErrInvalidArgument
	}
	id, err := c.reg.addWizard(c, w)
	if err != nil {
		return err
	}
	if err := c.Send(&protocol.CmdCreateScanWizard{ScanWizardID: id}); err != nil {
		c.reg.takeWizard(id)
		return err
	}
	return nil
}

// CancelScanWizard asks the daemon to stop w. The run ends when the daemon
// sends WizardCompleted with WizardCancelledByUser.
func (c *Client) CancelScanWizard(w *ScanWizard) error {
	if w == nil {
		return ErrInvalidArgument
	}
	id, err := c.reg.wizardID(c, w)
	if err != nil {
		return err
	}
	return c.Send(&protocol.CmdCancelScanWizard{ScanWizardID: id})
}

// AddBatteryStatusListener registers l and asks the daemon for its button's
// battery readings.
func (c *Client) AddBatteryStatusListener(l *BatteryStatusListener) error {
	if l == nil {
		return ErrInvalidArgument
	}
	id, err := c.reg.addListener(c, l)
	if err != nil {
		return err
	}
	if err := c.Send(&protocol.CmdCreateBatteryStatusListener{ListenerID: id, BdAddr: l.bdAddr}); err != nil {
		c.reg.removeListener(c, l)
		return err
	}
	return nil
}

// RemoveBatteryStatusListener unregisters l and stops its readings.
func (c *Client) RemoveBatteryStatusListener(l *BatteryStatusListener) error {
	if l == nil {
		return ErrInvalidArgument
	}
	id, err := c.reg.removeListener(c, l)
	if err != nil {
		return err
	}
	return c.Send(&protocol.CmdRemoveBatteryStatusListener{ListenerID: id})
}

// GetInfo requests the daemon state. callback runs on the event loop.
// Requests are answered in order, so the enqueue and the send both happen on
// the event loop.
func (c *Client) GetInfo(callback func(InfoResponse)) error {
	if callback == nil {
		return ErrInvalidArgument
	}
	if c.isClosed() {
		return ErrClosed
	}
	c.SetTimer(0, func() {
		c.infoQueue = append(c.infoQueue, callback)
		if err := c.Send(&protocol.CmdGetInfo{}); err != nil {
			log.Warningf("[Client] Get info: %v", err)
			c.infoQueue = c.infoQueue[:len(c.infoQueue)-1]
		}
	})
	return nil
}

// GetButtonInfo looks up a button in the daemon's database. callback runs on
// the event loop.
func (c *Client) GetButtonInfo(addr protocol.BdAddr, callback func(ButtonInfo)) error {
	if callback == nil {
		return ErrInvalidArgument
	}
	if c.isClosed() {
		return ErrClosed
	}
	c.SetTimer(0, func() {
		c.buttonInfoQueue = append(c.buttonInfoQueue, callback)
		if err := c.Send(&protocol.CmdGetButtonInfo{BdAddr: addr}); err != nil {
			log.Warningf("[Client] Get button info %s: %v", addr, err)
			c.buttonInfoQueue = c.buttonInfoQueue[:len(c.buttonInfoQueue)-1]
		}
	})
	return nil
}

// GetInfoContext is GetInfo for callers that want to block. It must not be
// called from the event loop goroutine.
func (c *Client) GetInfoContext(ctx context.Context) (InfoResponse, error) {
	ch := make(chan InfoResponse, 1)
	if err := c.GetInfo(func(info InfoResponse) { ch <- info }); err != nil {
		return InfoResponse{}, err
	}
	select {
	case info := <-ch:
		return info, nil
	case <-ctx.Done():
		return InfoResponse{}, ctx.Err()
	}
}

// GetButtonInfoContext is GetButtonInfo for callers that want to block. It
// must not be called from the event loop goroutine.
func (c *Client) GetButtonInfoContext(ctx context.Context, addr protocol.BdAddr) (ButtonInfo, error) {
	ch := make(chan ButtonInfo, 1)
	if err := c.GetButtonInfo(addr, func(info ButtonInfo) { ch <- info }); err != nil {
		return ButtonInfo{}, err
	}
	select {
	case info := <-ch:
		return info, nil
	case <-ctx.Done():
		return ButtonInfo{}, ctx.Err()
	}
}

// ForceDisconnect drops the button's link even if other clients have
// channels open to it.
func (c *Client) ForceDisconnect(addr protocol.BdAddr) error {
	return c.Send(&protocol.CmdForceDisconnect{BdAddr: addr})
}

// DeleteButton removes the button from the daemon's database. A ButtonDeleted
// general event follows.
func (c *Client) DeleteButton(addr protocol.BdAddr) error {
	return c.Send(&protocol.CmdDeleteButton{BdAddr: addr})
}

// ChangeModeParameters is a convenience for updating both parameters of ch at once.
func (c *Client) ChangeModeParameters(ch *ConnectionChannel, mode protocol.LatencyMode, autoDisconnectTime int16) error {
	if ch == nil || !mode.Valid() || !validAutoDisconnectTime(autoDisconnectTime) {
		return ErrInvalidArgument
	}
	if _, err := c.reg.channelID(c, ch); err != nil {
		return err
	}
	ch.mu.Lock()
	ch.latencyMode, ch.autoDisconnectTime = mode, autoDisconnectTime
	p := ch.paramsLocked()
	ch.mu.Unlock()
	return ch.sendModeParameters(c, p)
}
