package protocol

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Event opcodes (daemon to client).
const (
	EvtIDAdvertisementPacket             uint8 = 0
	EvtIDCreateConnectionChannelResponse uint8 = 1
	EvtIDConnectionStatusChanged         uint8 = 2
	EvtIDConnectionChannelRemoved        uint8 = 3
	EvtIDButtonUpOrDown                  uint8 = 4
	EvtIDButtonClickOrHold               uint8 = 5
	EvtIDButtonSingleOrDoubleClick       uint8 = 6
	EvtIDButtonSingleOrDoubleClickOrHold uint8 = 7
	EvtIDNewVerifiedButton               uint8 = 8
	EvtIDGetInfoResponse                 uint8 = 9
	EvtIDNoSpaceForNewConnection         uint8 = 10
	EvtIDGotSpaceForNewConnection        uint8 = 11
	EvtIDBluetoothControllerStateChange  uint8 = 12
	EvtIDPingResponse                    uint8 = 13
	EvtIDGetButtonInfoResponse           uint8 = 14
	EvtIDScanWizardFoundPrivateButton    uint8 = 15
	EvtIDScanWizardFoundPublicButton     uint8 = 16
	EvtIDScanWizardButtonConnected       uint8 = 17
	EvtIDScanWizardCompleted             uint8 = 18
	EvtIDButtonDeleted                   uint8 = 19
	EvtIDBatteryStatus                   uint8 = 20
)

// Event is a daemon to client message.
type Event interface {
	Opcode() uint8
	encode(w *writer) error
	decode(r *reader)
}

type EvtAdvertisementPacket struct {
	ScanID                        uint32
	BdAddr                        BdAddr
	Name                          string
	RSSI                          int8
	IsPrivate                     bool
	AlreadyVerified               bool
	AlreadyConnectedToThisDevice  bool
	AlreadyConnectedToOtherDevice bool
}

type EvtCreateConnectionChannelResponse struct {
	ConnID           uint32
	Error            CreateConnectionChannelError
	ConnectionStatus ConnectionStatus
}

type EvtConnectionStatusChanged struct {
	ConnID           uint32
	ConnectionStatus ConnectionStatus
	DisconnectReason DisconnectReason
}

type EvtConnectionChannelRemoved struct {
	ConnID        uint32
	RemovedReason RemovedReason
}

// ButtonEvent is the payload shared by the four button event opcodes.
type ButtonEvent struct {
	ConnID    uint32
	ClickType ClickType
	WasQueued bool
	TimeDiff  int32
}

type EvtButtonUpOrDown struct{ ButtonEvent }
type EvtButtonClickOrHold struct{ ButtonEvent }
type EvtButtonSingleOrDoubleClick struct{ ButtonEvent }
type EvtButtonSingleOrDoubleClickOrHold struct{ ButtonEvent }

type EvtNewVerifiedButton struct {
	BdAddr BdAddr
}

type EvtGetInfoResponse struct {
	BluetoothControllerState        BluetoothControllerState
	MyBdAddr                        BdAddr
	MyBdAddrType                    BdAddrType
	MaxPendingConnections           uint8
	MaxConcurrentlyConnectedButtons int16
	CurrentPendingConnections       uint8
	CurrentlyNoSpaceForConnection   bool
	VerifiedButtons                 []BdAddr
}

type EvtNoSpaceForNewConnection struct {
	MaxConcurrentlyConnectedButtons uint8
}

type EvtGotSpaceForNewConnection struct {
	MaxConcurrentlyConnectedButtons uint8
}

type EvtBluetoothControllerStateChange struct {
	State BluetoothControllerState
}

type EvtPingResponse struct {
	PingID uint32
}

// EvtGetButtonInfoResponse carries uuid.Nil and empty strings when the
// daemon does not know the button.
type EvtGetButtonInfoResponse struct {
	BdAddr       BdAddr
	UUID         uuid.UUID
	Color        string
	SerialNumber string
}

type EvtScanWizardFoundPrivateButton struct {
	ScanWizardID uint32
}

type EvtScanWizardFoundPublicButton struct {
	ScanWizardID uint32
	BdAddr       BdAddr
	Name         string
}

type EvtScanWizardButtonConnected struct {
	ScanWizardID uint32
}

type EvtScanWizardCompleted struct {
	ScanWizardID uint32
	Result       ScanWizardResult
}

type EvtButtonDeleted struct {
	BdAddr              BdAddr
	DeletedByThisClient bool
}

type EvtBatteryStatus struct {
	ListenerID        uint32
	BatteryPercentage int8
	Timestamp         int64
}

func (*EvtAdvertisementPacket) Opcode() uint8 { return EvtIDAdvertisementPacket }
func (*EvtCreateConnectionChannelResponse) Opcode() uint8 {
	return EvtIDCreateConnectionChannelResponse
}
func (*EvtConnectionStatusChanged) Opcode() uint8   { return EvtIDConnectionStatusChanged }
func (*EvtConnectionChannelRemoved) Opcode() uint8  { return EvtIDConnectionChannelRemoved }
func (*EvtButtonUpOrDown) Opcode() uint8            { return EvtIDButtonUpOrDown }
func (*EvtButtonClickOrHold) Opcode() uint8         { return EvtIDButtonClickOrHold }
func (*EvtButtonSingleOrDoubleClick) Opcode() uint8 { return EvtIDButtonSingleOrDoubleClick }
func (*EvtButtonSingleOrDoubleClickOrHold) Opcode() uint8 {
	return EvtIDButtonSingleOrDoubleClickOrHold
}
func (*EvtNewVerifiedButton) Opcode() uint8              { return EvtIDNewVerifiedButton }
func (*EvtGetInfoResponse) Opcode() uint8                { return EvtIDGetInfoResponse }
func (*EvtNoSpaceForNewConnection) Opcode() uint8        { return EvtIDNoSpaceForNewConnection }
func (*EvtGotSpaceForNewConnection) Opcode() uint8       { return EvtIDGotSpaceForNewConnection }
func (*EvtBluetoothControllerStateChange) Opcode() uint8 { return EvtIDBluetoothControllerStateChange }
func (*EvtPingResponse) Opcode() uint8                   { return EvtIDPingResponse }
func (*EvtGetButtonInfoResponse) Opcode() uint8          { return EvtIDGetButtonInfoResponse }
func (*EvtScanWizardFoundPrivateButton) Opcode() uint8   { return EvtIDScanWizardFoundPrivateButton }
func (*EvtScanWizardFoundPublicButton) Opcode() uint8    { return EvtIDScanWizardFoundPublicButton }
func (*EvtScanWizardButtonConnected) Opcode() uint8      { return EvtIDScanWizardButtonConnected }
func (*EvtScanWizardCompleted) Opcode() uint8            { return EvtIDScanWizardCompleted }
func (*EvtButtonDeleted) Opcode() uint8                  { return EvtIDButtonDeleted }
func (*EvtBatteryStatus) Opcode() uint8                  { return EvtIDBatteryStatus }

func (e *EvtAdvertisementPacket) encode(w *writer) error {
	w.u32(e.ScanID)
	w.addr(e.BdAddr)
	if err := w.str(e.Name, MaxNameLength); err != nil {
		return err
	}
	w.i8(e.RSSI)
	w.boolean(e.IsPrivate)
	w.boolean(e.AlreadyVerified)
	w.boolean(e.AlreadyConnectedToThisDevice)
	w.boolean(e.AlreadyConnectedToOtherDevice)
	return nil
}

func (e *EvtAdvertisementPacket) decode(r *reader) {
	e.ScanID = r.u32()
	e.BdAddr = r.addr()
	e.Name = r.str(MaxNameLength)
	e.RSSI = r.i8()
	e.IsPrivate = r.boolean()
	e.AlreadyVerified = r.boolean()
	e.AlreadyConnectedToThisDevice = r.boolean()
	e.AlreadyConnectedToOtherDevice = r.boolean()
}

func (e *EvtCreateConnectionChannelResponse) encode(w *writer) error {
	w.u32(e.ConnID)
	w.u8(uint8(e.Error))
	w.u8(uint8(e.ConnectionStatus))
	return nil
}

func (e *EvtCreateConnectionChannelResponse) decode(r *reader) {
	e.ConnID = r.u32()
	e.Error = CreateConnectionChannelError(r.u8())
	e.ConnectionStatus = ConnectionStatus(r.u8())
}

func (e *EvtConnectionStatusChanged) encode(w *writer) error {
	w.u32(e.ConnID)
	w.u8(uint8(e.ConnectionStatus))
	w.u8(uint8(e.DisconnectReason))
	return nil
}

func (e *EvtConnectionStatusChanged) decode(r *reader) {
	e.ConnID = r.u32()
	e.ConnectionStatus = ConnectionStatus(r.u8())
	e.DisconnectReason = DisconnectReason(r.u8())
}

func (e *EvtConnectionChannelRemoved) encode(w *writer) error {
	w.u32(e.ConnID)
	w.u8(uint8(e.RemovedReason))
	return nil
}

func (e *EvtConnectionChannelRemoved) decode(r *reader) {
	e.ConnID = r.u32()
	e.RemovedReason = RemovedReason(r.u8())
}

func (e *ButtonEvent) encode(w *writer) error {
	w.u32(e.ConnID)
	w.u8(uint8(e.ClickType))
	w.boolean(e.WasQueued)
	w.i32(e.TimeDiff)
	return nil
}

func (e *ButtonEvent) decode(r *reader) {
	e.ConnID = r.u32()
	e.ClickType = ClickType(r.u8())
	e.WasQueued = r.boolean()
	e.TimeDiff = r.i32()
}

func (e *EvtNewVerifiedButton) encode(w *writer) error { w.addr(e.BdAddr); return nil }
func (e *EvtNewVerifiedButton) decode(r *reader)       { e.BdAddr = r.addr() }

func (e *EvtGetInfoResponse) encode(w *writer) error {
	w.u8(uint8(e.BluetoothControllerState))
	w.addr(e.MyBdAddr)
	w.u8(uint8(e.MyBdAddrType))
	w.u8(e.MaxPendingConnections)
	w.i16(e.MaxConcurrentlyConnectedButtons)
	w.u8(e.CurrentPendingConnections)
	w.boolean(e.CurrentlyNoSpaceForConnection)
	w.u16(uint16(len(e.VerifiedButtons)))
	for _, addr := range e.VerifiedButtons {
		w.addr(addr)
	}
	return nil
}

func (e *EvtGetInfoResponse) decode(r *reader) {
	e.BluetoothControllerState = BluetoothControllerState(r.u8())
	e.MyBdAddr = r.addr()
	e.MyBdAddrType = BdAddrType(r.u8())
	e.MaxPendingConnections = r.u8()
	e.MaxConcurrentlyConnectedButtons = r.i16()
	e.CurrentPendingConnections = r.u8()
	e.CurrentlyNoSpaceForConnection = r.boolean()
	n := int(r.u16())
	if r.err != nil {
		return
	}
	// Bound the allocation by what the payload can actually hold.
	if n*6 > r.remaining() {
		r.take(n * 6)
		return
	}
	e.VerifiedButtons = make([]BdAddr, n)
	for i := range e.VerifiedButtons {
		e.VerifiedButtons[i] = r.addr()
	}
}

func (e *EvtNoSpaceForNewConnection) encode(w *writer) error {
	w.u8(e.MaxConcurrentlyConnectedButtons)
	return nil
}

func (e *EvtNoSpaceForNewConnection) decode(r *reader) { e.MaxConcurrentlyConnectedButtons = r.u8() }

func (e *EvtGotSpaceForNewConnection) encode(w *writer) error {
	w.u8(e.MaxConcurrentlyConnectedButtons)
	return nil
}

func (e *EvtGotSpaceForNewConnection) decode(r *reader) { e.MaxConcurrentlyConnectedButtons = r.u8() }

func (e *EvtBluetoothControllerStateChange) encode(w *writer) error { w.u8(uint8(e.State)); return nil }
func (e *EvtBluetoothControllerStateChange) decode(r *reader) {
	e.State = BluetoothControllerState(r.u8())
}

func (e *EvtPingResponse) encode(w *writer) error { w.u32(e.PingID); return nil }
func (e *EvtPingResponse) decode(r *reader)       { e.PingID = r.u32() }

func (e *EvtGetButtonInfoResponse) encode(w *writer) error {
	w.addr(e.BdAddr)
	w.uuid(e.UUID)
	if err := w.str(e.Color, MaxColorLength); err != nil {
		return err
	}
	return w.str(e.SerialNumber, MaxSerialLength)
}

func (e *EvtGetButtonInfoResponse) decode(r *reader) {
	e.BdAddr = r.addr()
	e.UUID = r.uuid()
	e.Color = r.optionalStr(MaxColorLength)
	e.SerialNumber = r.optionalStr(MaxSerialLength)
}

func (e *EvtScanWizardFoundPrivateButton) encode(w *writer) error { w.u32(e.ScanWizardID); return nil }
func (e *EvtScanWizardFoundPrivateButton) decode(r *reader)       { e.ScanWizardID = r.u32() }

func (e *EvtScanWizardFoundPublicButton) encode(w *writer) error {
	w.u32(e.ScanWizardID)
	w.addr(e.BdAddr)
	return w.str(e.Name, MaxNameLength)
}

func (e *EvtScanWizardFoundPublicButton) decode(r *reader) {
	e.ScanWizardID = r.u32()
	e.BdAddr = r.addr()
	e.Name = r.str(MaxNameLength)
}

func (e *EvtScanWizardButtonConnected) encode(w *writer) error { w.u32(e.ScanWizardID); return nil }
func (e *EvtScanWizardButtonConnected) decode(r *reader)       { e.ScanWizardID = r.u32() }

func (e *EvtScanWizardCompleted) encode(w *writer) error {
	w.u32(e.ScanWizardID)
	w.u8(uint8(e.Result))
	return nil
}

func (e *EvtScanWizardCompleted) decode(r *reader) {
	e.ScanWizardID = r.u32()
	e.Result = ScanWizardResult(r.u8())
}

func (e *EvtButtonDeleted) encode(w *writer) error {
	w.addr(e.BdAddr)
	w.boolean(e.DeletedByThisClient)
	return nil
}

func (e *EvtButtonDeleted) decode(r *reader) {
	e.BdAddr = r.addr()
	e.DeletedByThisClient = r.boolean()
}

func (e *EvtBatteryStatus) encode(w *writer) error {
	w.u32(e.ListenerID)
	w.i8(e.BatteryPercentage)
	w.i64(e.Timestamp)
	return nil
}

func (e *EvtBatteryStatus) decode(r *reader) {
	e.ListenerID = r.u32()
	e.BatteryPercentage = r.i8()
	e.Timestamp = r.i64()
}

var eventFactories = map[uint8]func() Event{
	EvtIDAdvertisementPacket:             func() Event { return &EvtAdvertisementPacket{} },
	EvtIDCreateConnectionChannelResponse: func() Event { return &EvtCreateConnectionChannelResponse{} },
	EvtIDConnectionStatusChanged:         func() Event { return &EvtConnectionStatusChanged{} },
	EvtIDConnectionChannelRemoved:        func() Event { return &EvtConnectionChannelRemoved{} },
	EvtIDButtonUpOrDown:                  func() Event { return &EvtButtonUpOrDown{} },
	EvtIDButtonClickOrHold:               func() Event { return &EvtButtonClickOrHold{} },
	EvtIDButtonSingleOrDoubleClick:       func() Event { return &EvtButtonSingleOrDoubleClick{} },
	EvtIDButtonSingleOrDoubleClickOrHold: func() Event { return &EvtButtonSingleOrDoubleClickOrHold{} },
	EvtIDNewVerifiedButton:               func() Event { return &EvtNewVerifiedButton{} },
	EvtIDGetInfoResponse:                 func() Event { return &EvtGetInfoResponse{} },
	EvtIDNoSpaceForNewConnection:         func() Event { return &EvtNoSpaceForNewConnection{} },
	EvtIDGotSpaceForNewConnection:        func() Event { return &EvtGotSpaceForNewConnection{} },
	EvtIDBluetoothControllerStateChange:  func() Event { return &EvtBluetoothControllerStateChange{} },
	EvtIDPingResponse:                    func() Event { return &EvtPingResponse{} },
	EvtIDGetButtonInfoResponse:           func() Event { return &EvtGetButtonInfoResponse{} },
	EvtIDScanWizardFoundPrivateButton:    func() Event { return &EvtScanWizardFoundPrivateButton{} },
	EvtIDScanWizardFoundPublicButton:     func() Event { return &EvtScanWizardFoundPublicButton{} },
	EvtIDScanWizardButtonConnected:       func() Event { return &EvtScanWizardButtonConnected{} },
	EvtIDScanWizardCompleted:             func() Event { return &EvtScanWizardCompleted{} },
	EvtIDButtonDeleted:                   func() Event { return &EvtButtonDeleted{} },
	EvtIDBatteryStatus:                   func() Event { return &EvtBatteryStatus{} },
}

// EncodeEvent serializes evt into a complete frame. Only daemon
// implementations and tests need it.
func EncodeEvent(evt Event) ([]byte, error) {
	w := newWriter(evt.Opcode())
	if err := evt.encode(w); err != nil {
		return nil, errors.Wrapf(err, "encode event %d", evt.Opcode())
	}
	return w.frame()
}

// DecodeEvent parses the payload of an event frame (the bytes after the
// opcode). Bytes past the known layout are ignored.
func DecodeEvent(opcode uint8, payload []byte) (Event, error) {
	factory, ok := eventFactories[opcode]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOpcode, "event %d", opcode)
	}
	evt := factory()
	r := newReader(payload)
	evt.decode(r)
	if r.err != nil {
		return nil, errors.Wrapf(r.err, "decode event %d", opcode)
	}
	return evt, nil
}
