package client

import (
	"time"

	"github.com/pkg/errors"

	"openfms/flic/internal/protocol"
)

// dispatchFrame decodes one frame and routes it. Bad frames are dropped.
func (c *Client) dispatchFrame(f protocol.Frame) {
	evt, err := protocol.DecodeEvent(f.Opcode, f.Payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownOpcode) {
			log.Debugf("[Client] Dropping frame: %v", err)
		} else {
			log.Warningf("[Client] Dropping malformed frame with opcode %d: %v", f.Opcode, err)
		}
		return
	}
	c.dispatch(evt)
}

func (c *Client) dispatch(evt protocol.Event) {
	switch e := evt.(type) {
	case *protocol.EvtAdvertisementPacket:
		if s := c.reg.scanner(e.ScanID); s != nil {
			s.deliver(Advertisement{
				BdAddr:                        e.BdAddr,
				Name:                          e.Name,
				RSSI:                          e.RSSI,
				IsPrivate:                     e.IsPrivate,
				AlreadyVerified:               e.AlreadyVerified,
				AlreadyConnectedToThisDevice:  e.AlreadyConnectedToThisDevice,
				AlreadyConnectedToOtherDevice: e.AlreadyConnectedToOtherDevice,
			})
		}

	case *protocol.EvtCreateConnectionChannelResponse:
		ev := ChannelCreated{Error: e.Error, Status: e.ConnectionStatus}
		if e.Error != protocol.NoError {
			// Unregistered first so the handler can add the channel again.
			if ch := c.reg.takeChannel(e.ConnID); ch != nil {
				ch.deliver(ev)
			}
			return
		}
		if ch := c.reg.channel(e.ConnID); ch != nil {
			ch.markOpen(e.ConnectionStatus)
			ch.deliver(ev)
		}

	case *protocol.EvtConnectionStatusChanged:
		if ch := c.reg.channel(e.ConnID); ch != nil {
			ch.setStatus(e.ConnectionStatus)
			ch.deliver(ChannelStatusChanged{Status: e.ConnectionStatus, Reason: e.DisconnectReason})
		}

	case *protocol.EvtConnectionChannelRemoved:
		if ch := c.reg.takeChannel(e.ConnID); ch != nil {
			ch.deliver(ChannelRemoved{Reason: e.RemovedReason})
		}

	case *protocol.EvtButtonUpOrDown:
		c.buttonEvent(UpOrDown, e.ButtonEvent)
	case *protocol.EvtButtonClickOrHold:
		c.buttonEvent(ClickOrHold, e.ButtonEvent)
	case *protocol.EvtButtonSingleOrDoubleClick:
		c.buttonEvent(SingleOrDoubleClick, e.ButtonEvent)
	case *protocol.EvtButtonSingleOrDoubleClickOrHold:
		c.buttonEvent(SingleOrDoubleClickOrHold, e.ButtonEvent)

	case *protocol.EvtNewVerifiedButton:
		c.generalEvent(NewVerifiedButton{BdAddr: e.BdAddr})

	case *protocol.EvtGetInfoResponse:
		if len(c.infoQueue) == 0 {
			log.Warning("[Client] Get info response with no pending request")
			return
		}
		cb := c.infoQueue[0]
		c.infoQueue[0] = nil
		c.infoQueue = c.infoQueue[1:]
		cb(*e)

	case *protocol.EvtNoSpaceForNewConnection:
		c.generalEvent(NoSpaceForNewConnection{MaxConcurrentlyConnectedButtons: int(e.MaxConcurrentlyConnectedButtons)})
	case *protocol.EvtGotSpaceForNewConnection:
		c.generalEvent(GotSpaceForNewConnection{MaxConcurrentlyConnectedButtons: int(e.MaxConcurrentlyConnectedButtons)})
	case *protocol.EvtBluetoothControllerStateChange:
		c.generalEvent(ControllerStateChanged{State: e.State})

	case *protocol.EvtPingResponse:
		c.mu.Lock()
		done := c.pings[e.PingID]
		delete(c.pings, e.PingID)
		c.mu.Unlock()
		if done != nil {
			done()
		}

	case *protocol.EvtGetButtonInfoResponse:
		if len(c.buttonInfoQueue) == 0 {
			log.Warning("[Client] Button info response with no pending request")
			return
		}
		cb := c.buttonInfoQueue[0]
		c.buttonInfoQueue[0] = nil
		c.buttonInfoQueue = c.buttonInfoQueue[1:]
		cb(ButtonInfo{BdAddr: e.BdAddr, UUID: e.UUID, Color: e.Color, SerialNumber: e.SerialNumber})

	case *protocol.EvtScanWizardFoundPrivateButton:
		if w := c.reg.wizard(e.ScanWizardID); w != nil {
			w.foundPrivate()
		}
	case *protocol.EvtScanWizardFoundPublicButton:
		if w := c.reg.wizard(e.ScanWizardID); w != nil {
			w.foundPublic(e.BdAddr, e.Name)
		}
	case *protocol.EvtScanWizardButtonConnected:
		if w := c.reg.wizard(e.ScanWizardID); w != nil {
			w.connected()
		}
	case *protocol.EvtScanWizardCompleted:
		if w := c.reg.takeWizard(e.ScanWizardID); w != nil {
			w.complete(e.Result)
		}

	case *protocol.EvtButtonDeleted:
		c.generalEvent(ButtonDeleted{BdAddr: e.BdAddr, DeletedByThisClient: e.DeletedByThisClient})

	case *protocol.EvtBatteryStatus:
		if l := c.reg.listener(e.ListenerID); l != nil {
			l.deliver(BatteryStatus{Percentage: e.BatteryPercentage, UpdatedAt: time.Unix(e.Timestamp, 0)})
		}

	default:
		log.Debugf("[Client] Unhandled event %T", evt)
	}
}

// buttonEvent delivers a press only to an open channel.
func (c *Client) buttonEvent(kind ButtonEventKind, e protocol.ButtonEvent) {
	ch := c.reg.channel(e.ConnID)
	if ch == nil || ch.State() != StateOpen {
		return
	}
	ch.deliver(ButtonPressed{Kind: kind, ClickType: e.ClickType, WasQueued: e.WasQueued, TimeDiff: e.TimeDiff})
}

func (c *Client) generalEvent(ev GeneralEvent) {
	c.mu.Lock()
	h := c.general
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}
