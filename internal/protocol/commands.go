package protocol

import "github.com/pkg/errors"

// Command opcodes (client to daemon).
const (
	CmdIDGetInfo                     uint8 = 0
	CmdIDCreateScanner               uint8 = 1
	CmdIDRemoveScanner               uint8 = 2
	CmdIDCreateConnectionChannel     uint8 = 3
	CmdIDRemoveConnectionChannel     uint8 = 4
	CmdIDForceDisconnect             uint8 = 5
	CmdIDChangeModeParameters        uint8 = 6
	CmdIDPing                        uint8 = 7
	CmdIDGetButtonInfo               uint8 = 8
	CmdIDCreateScanWizard            uint8 = 9
	CmdIDCancelScanWizard            uint8 = 10
	CmdIDDeleteButton                uint8 = 11
	CmdIDCreateBatteryStatusListener uint8 = 12
	CmdIDRemoveBatteryStatusListener uint8 = 13
)

// Command is a client to daemon message.
type Command interface {
	Opcode() uint8
	encode(w *writer) error
	decode(r *reader)
}

type CmdGetInfo struct{}

type CmdCreateScanner struct {
	ScanID uint32
}

type CmdRemoveScanner struct {
	ScanID uint32
}

type CmdCreateConnectionChannel struct {
	ConnID             uint32
	BdAddr             BdAddr
	LatencyMode        LatencyMode
	AutoDisconnectTime int16
}

type CmdRemoveConnectionChannel struct {
	ConnID uint32
}

type CmdForceDisconnect struct {
	BdAddr BdAddr
}

type CmdChangeModeParameters struct {
	ConnID             uint32
	LatencyMode        LatencyMode
	AutoDisconnectTime int16
}

type CmdPing struct {
	PingID uint32
}

type CmdGetButtonInfo struct {
	BdAddr BdAddr
}

type CmdCreateScanWizard struct {
	ScanWizardID uint32
}

type CmdCancelScanWizard struct {
	ScanWizardID uint32
}

type CmdDeleteButton struct {
	BdAddr BdAddr
}

type CmdCreateBatteryStatusListener struct {
	ListenerID uint32
	BdAddr     BdAddr
}

type CmdRemoveBatteryStatusListener struct {
	ListenerID uint32
}

func (*CmdGetInfo) Opcode() uint8                     { return CmdIDGetInfo }
func (*CmdCreateScanner) Opcode() uint8               { return CmdIDCreateScanner }
func (*CmdRemoveScanner) Opcode() uint8               { return CmdIDRemoveScanner }
func (*CmdCreateConnectionChannel) Opcode() uint8     { return CmdIDCreateConnectionChannel }
func (*CmdRemoveConnectionChannel) Opcode() uint8     { return CmdIDRemoveConnectionChannel }
func (*CmdForceDisconnect) Opcode() uint8             { return CmdIDForceDisconnect }
func (*CmdChangeModeParameters) Opcode() uint8        { return CmdIDChangeModeParameters }
func (*CmdPing) Opcode() uint8                        { return CmdIDPing }
func (*CmdGetButtonInfo) Opcode() uint8               { return CmdIDGetButtonInfo }
func (*CmdCreateScanWizard) Opcode() uint8            { return CmdIDCreateScanWizard }
func (*CmdCancelScanWizard) Opcode() uint8            { return CmdIDCancelScanWizard }
func (*CmdDeleteButton) Opcode() uint8                { return CmdIDDeleteButton }
func (*CmdCreateBatteryStatusListener) Opcode() uint8 { return CmdIDCreateBatteryStatusListener }
func (*CmdRemoveBatteryStatusListener) Opcode() uint8 { return CmdIDRemoveBatteryStatusListener }

func (c *CmdGetInfo) encode(w *writer) error { return nil }
func (c *CmdGetInfo) decode(r *reader)       {}

func (c *CmdCreateScanner) encode(w *writer) error { w.u32(c.ScanID); return nil }
func (c *CmdCreateScanner) decode(r *reader)       { c.ScanID = r.u32() }

func (c *CmdRemoveScanner) encode(w *writer) error { w.u32(c.ScanID); return nil }
func (c *CmdRemoveScanner) decode(r *reader)       { c.ScanID = r.u32() }

func (c *CmdCreateConnectionChannel) encode(w *writer) error {
	w.u32(c.ConnID)
	w.addr(c.BdAddr)
	w.u8(uint8(c.LatencyMode))
	w.i16(c.AutoDisconnectTime)
	return nil
}

func (c *CmdCreateConnectionChannel) decode(r *reader) {
	c.ConnID = r.u32()
	c.BdAddr = r.addr()
	c.LatencyMode = LatencyMode(r.u8())
	c.AutoDisconnectTime = r.i16()
}

func (c *CmdRemoveConnectionChannel) encode(w *writer) error { w.u32(c.ConnID); return nil }
func (c *CmdRemoveConnectionChannel) decode(r *reader)       { c.ConnID = r.u32() }

func (c *CmdForceDisconnect) encode(w *writer) error { w.addr(c.BdAddr); return nil }
func (c *CmdForceDisconnect) decode(r *reader)       { c.BdAddr = r.addr() }

func (c *CmdChangeModeParameters) encode(w *writer) error {
	w.u32(c.ConnID)
	w.u8(uint8(c.LatencyMode))
	w.i16(c.AutoDisconnectTime)
	return nil
}

func (c *CmdChangeModeParameters) decode(r *reader) {
	c.ConnID = r.u32()
	c.LatencyMode = LatencyMode(r.u8())
	c.AutoDisconnectTime = r.i16()
}

func (c *CmdPing) encode(w *writer) error { w.u32(c.PingID); return nil }
func (c *CmdPing) decode(r *reader)       { c.PingID = r.u32() }

func (c *CmdGetButtonInfo) encode(w *writer) error { w.addr(c.BdAddr); return nil }
func (c *CmdGetButtonInfo) decode(r *reader)       { c.BdAddr = r.addr() }

func (c *CmdCreateScanWizard) encode(w *writer) error { w.u32(c.ScanWizardID); return nil }
func (c *CmdCreateScanWizard) decode(r *reader)       { c.ScanWizardID = r.u32() }

func (c *CmdCancelScanWizard) encode(w *writer) error { w.u32(c.ScanWizardID); return nil }
func (c *CmdCancelScanWizard) decode(r *reader)       { c.ScanWizardID = r.u32() }

func (c *CmdDeleteButton) encode(w *writer) error { w.addr(c.BdAddr); return nil }
func (c *CmdDeleteButton) decode(r *reader)       { c.BdAddr = r.addr() }

func (c *CmdCreateBatteryStatusListener) encode(w *writer) error {
	w.u32(c.ListenerID)
	w.addr(c.BdAddr)
	return nil
}

func (c *CmdCreateBatteryStatusListener) decode(r *reader) {
	c.ListenerID = r.u32()
	c.BdAddr = r.addr()
}

func (c *CmdRemoveBatteryStatusListener) encode(w *writer) error { w.u32(c.ListenerID); return nil }
func (c *CmdRemoveBatteryStatusListener) decode(r *reader)       { c.ListenerID = r.u32() }

var commandFactories = map[uint8]func() Command{
	CmdIDGetInfo:                     func() Command { return &CmdGetInfo{} },
	CmdIDCreateScanner:               func() Command { return &CmdCreateScanner{} },
	CmdIDRemoveScanner:               func() Command { return &CmdRemoveScanner{} },
	CmdIDCreateConnectionChannel:     func() Command { return &CmdCreateConnectionChannel{} },
	CmdIDRemoveConnectionChannel:     func() Command { return &CmdRemoveConnectionChannel{} },
	CmdIDForceDisconnect:             func() Command { return &CmdForceDisconnect{} },
	CmdIDChangeModeParameters:        func() Command { return &CmdChangeModeParameters{} },
	CmdIDPing:                        func() Command { return &CmdPing{} },
	CmdIDGetButtonInfo:               func() Command { return &CmdGetButtonInfo{} },
	CmdIDCreateScanWizard:            func() Command { return &CmdCreateScanWizard{} },
	CmdIDCancelScanWizard:            func() Command { return &CmdCancelScanWizard{} },
	CmdIDDeleteButton:                func() Command { return &CmdDeleteButton{} },
	CmdIDCreateBatteryStatusListener: func() Command { return &CmdCreateBatteryStatusListener{} },
	CmdIDRemoveBatteryStatusListener: func() Command { return &CmdRemoveBatteryStatusListener{} },
}

// EncodeCommand serializes cmd into a complete frame, length prefix included.
func EncodeCommand(cmd Command) ([]byte, error) {
	w := newWriter(cmd.Opcode())
	if err := cmd.encode(w); err != nil {
		return nil, errors.Wrapf(err, "encode command %d", cmd.Opcode())
	}
	return w.frame()
}

// DecodeCommand parses the payload of a command frame. The daemon side of
// the protocol uses it; so do tests.
func DecodeCommand(opcode uint8, payload []byte) (Command, error) {
	factory, ok := commandFactories[opcode]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOpcode, "command %d", opcode)
	}
	cmd := factory()
	r := newReader(payload)
	cmd.decode(r)
	if r.err != nil {
		return nil, errors.Wrapf(r.err, "decode command %d", opcode)
	}
	return cmd, nil
}
