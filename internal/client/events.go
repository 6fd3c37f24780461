package client

import (
	"time"

	"github.com/google/uuid"

	"openfms/flic/internal/protocol"
)

// ChannelEvent is delivered to a ConnectionChannel's handler. The concrete
// types are ChannelCreated, ChannelStatusChanged, ChannelRemoved and
// ButtonPressed.
type ChannelEvent interface {
	channelEvent()
}

// ChannelCreated answers a registration. A non-NoError Error means the
// daemon rejected the channel and it is already unregistered.
type ChannelCreated struct {
	Error  protocol.CreateConnectionChannelError
	Status protocol.ConnectionStatus
}

type ChannelStatusChanged struct {
	Status protocol.ConnectionStatus
	Reason protocol.DisconnectReason
}

// ChannelRemoved is delivered after the channel has been unregistered, so
// the handler may add it again.
type ChannelRemoved struct {
	Reason protocol.RemovedReason
}

// ButtonEventKind tells which of the four button event streams a press came from.
type ButtonEventKind uint8

const (
	UpOrDown ButtonEventKind = iota
	ClickOrHold
	SingleOrDoubleClick
	SingleOrDoubleClickOrHold
)

func (k ButtonEventKind) String() string {
	switch k {
	case UpOrDown:
		return "UpOrDown"
	case ClickOrHold:
		return "ClickOrHold"
	case SingleOrDoubleClick:
		return "SingleOrDoubleClick"
	case SingleOrDoubleClickOrHold:
		return "SingleOrDoubleClickOrHold"
	}
	return "Unknown"
}

type ButtonPressed struct {
	Kind      ButtonEventKind
	ClickType protocol.ClickType
	WasQueued bool
	// TimeDiff is how many seconds ago a queued event happened.
	TimeDiff int32
}

func (ChannelCreated) channelEvent()       {}
func (ChannelStatusChanged) channelEvent() {}
func (ChannelRemoved) channelEvent()       {}
func (ButtonPressed) channelEvent()        {}

// WizardEvent is delivered to a ScanWizard's handler. The concrete types are
// WizardFoundPrivate, WizardFoundPublic, WizardButtonConnected and
// WizardCompleted.
type WizardEvent interface {
	wizardEvent()
}

// WizardFoundPrivate means the button must be put in public mode by holding
// it down for 7 seconds.
type WizardFoundPrivate struct{}

type WizardFoundPublic struct {
	BdAddr protocol.BdAddr
	Name   string
}

type WizardButtonConnected struct {
	BdAddr protocol.BdAddr
	Name   string
}

// WizardCompleted ends a wizard run. BdAddr and Name are zero unless a
// public button was found during the run.
type WizardCompleted struct {
	Result protocol.ScanWizardResult
	BdAddr protocol.BdAddr
	Name   string
}

func (WizardFoundPrivate) wizardEvent()    {}
func (WizardFoundPublic) wizardEvent()     {}
func (WizardButtonConnected) wizardEvent() {}
func (WizardCompleted) wizardEvent()       {}

// Advertisement is one observation reported to a ButtonScanner.
type Advertisement struct {
	BdAddr                        protocol.BdAddr
	Name                          string
	RSSI                          int8
	IsPrivate                     bool
	AlreadyVerified               bool
	AlreadyConnectedToThisDevice  bool
	AlreadyConnectedToOtherDevice bool
}

// BatteryStatus is a reading delivered to a BatteryStatusListener.
// Percentage is -1 when the level is unknown.
type BatteryStatus struct {
	Percentage int8
	UpdatedAt  time.Time
}

// GeneralEvent is a session wide notification with no per-entity target.
// The concrete types are NewVerifiedButton, NoSpaceForNewConnection,
// GotSpaceForNewConnection, ControllerStateChanged and ButtonDeleted.
type GeneralEvent interface {
	generalEvent()
}

type NewVerifiedButton struct {
	BdAddr protocol.BdAddr
}

type NoSpaceForNewConnection struct {
	MaxConcurrentlyConnectedButtons int
}

type GotSpaceForNewConnection struct {
	MaxConcurrentlyConnectedButtons int
}

type ControllerStateChanged struct {
	State protocol.BluetoothControllerState
}

type ButtonDeleted struct {
	BdAddr              protocol.BdAddr
	DeletedByThisClient bool
}

func (NewVerifiedButton) generalEvent()        {}
func (NoSpaceForNewConnection) generalEvent()  {}
func (GotSpaceForNewConnection) generalEvent() {}
func (ControllerStateChanged) generalEvent()   {}
func (ButtonDeleted) generalEvent()            {}

// GeneralHandler receives session wide events.
type GeneralHandler func(ev GeneralEvent)

// ButtonInfo answers GetButtonInfo. UUID is uuid.Nil when the daemon does
// not know the button.
type ButtonInfo struct {
	BdAddr       protocol.BdAddr
	UUID         uuid.UUID
	Color        string
	SerialNumber string
}

// Known reports whether the daemon has the button in its database.
func (b ButtonInfo) Known() bool {
	return b.UUID != uuid.Nil
}

// InfoResponse answers GetInfo.
type InfoResponse = protocol.EvtGetInfoResponse
