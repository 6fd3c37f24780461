package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Enumerations travel on the wire as their uint8 ordinal. Unknown ordinals
// from newer daemons are kept as-is and print as "Unknown(n)".

func enumName(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("Unknown(%d)", v)
}

func parseEnum(names []string, s string) (uint8, error) {
	for i, name := range names {
		if strings.EqualFold(name, s) {
			return uint8(i), nil
		}
	}
	return 0, errors.Errorf("unknown value %q", s)
}

// CreateConnectionChannelError is the outcome of a create-connection-channel command.
type CreateConnectionChannelError uint8

const (
	NoError CreateConnectionChannelError = iota
	MaxPendingConnectionsReached
)

var createConnectionChannelErrorNames = []string{"NoError", "MaxPendingConnectionsReached"}

func (e CreateConnectionChannelError) String() string {
	return enumName(createConnectionChannelErrorNames, uint8(e))
}

// ConnectionStatus is the link state of an open connection channel.
type ConnectionStatus uint8

const (
	Disconnected ConnectionStatus = iota
	Connected
	Ready
)

var connectionStatusNames = []string{"Disconnected", "Connected", "Ready"}

func (s ConnectionStatus) String() string { return enumName(connectionStatusNames, uint8(s)) }

// DisconnectReason accompanies a transition to Disconnected.
type DisconnectReason uint8

const (
	Unspecified DisconnectReason = iota
	ConnectionEstablishmentFailed
	TimedOut
	BondingKeysMismatch
)

var disconnectReasonNames = []string{"Unspecified", "ConnectionEstablishmentFailed", "TimedOut", "BondingKeysMismatch"}

func (r DisconnectReason) String() string { return enumName(disconnectReasonNames, uint8(r)) }

// RemovedReason explains why the daemon removed a connection channel.
type RemovedReason uint8

const (
	RemovedByThisClient RemovedReason = iota
	ForceDisconnectedByThisClient
	ForceDisconnectedByOtherClient
	ButtonIsPrivate
	VerifyTimeout
	InternetBackendError
	InvalidData
	CouldntLoadDevice
	DeletedByThisClient
	DeletedByOtherClient
	ButtonBelongsToOtherPartner
	DeletedFromButton
)

var removedReasonNames = []string{
	"RemovedByThisClient", "ForceDisconnectedByThisClient", "ForceDisconnectedByOtherClient",
	"ButtonIsPrivate", "VerifyTimeout", "InternetBackendError", "InvalidData", "CouldntLoadDevice",
	"DeletedByThisClient", "DeletedByOtherClient", "ButtonBelongsToOtherPartner", "DeletedFromButton",
}

func (r RemovedReason) String() string { return enumName(removedReasonNames, uint8(r)) }

// ClickType classifies a button event.
type ClickType uint8

const (
	ButtonDown ClickType = iota
	ButtonUp
	ButtonClick
	ButtonSingleClick
	ButtonDoubleClick
	ButtonHold
)

var clickTypeNames = []string{"ButtonDown", "ButtonUp", "ButtonClick", "ButtonSingleClick", "ButtonDoubleClick", "ButtonHold"}

func (c ClickType) String() string { return enumName(clickTypeNames, uint8(c)) }

// BdAddrType tells whether the daemon's own controller address is public or random.
type BdAddrType uint8

const (
	PublicBdAddrType BdAddrType = iota
	RandomBdAddrType
)

var bdAddrTypeNames = []string{"PublicBdAddrType", "RandomBdAddrType"}

func (t BdAddrType) String() string { return enumName(bdAddrTypeNames, uint8(t)) }

// LatencyMode trades power for responsiveness on a connection channel.
type LatencyMode uint8

const (
	NormalLatency LatencyMode = iota
	LowLatency
	HighLatency
)

var latencyModeNames = []string{"NormalLatency", "LowLatency", "HighLatency"}

func (m LatencyMode) String() string { return enumName(latencyModeNames, uint8(m)) }

// Valid reports whether m is one of the defined modes.
func (m LatencyMode) Valid() bool { return int(m) < len(latencyModeNames) }

// ParseLatencyMode accepts "NormalLatency" or the short forms "normal", "low", "high".
func ParseLatencyMode(s string) (LatencyMode, error) {
	switch strings.ToLower(s) {
	case "normal":
		return NormalLatency, nil
	case "low":
		return LowLatency, nil
	case "high":
		return HighLatency, nil
	}
	v, err := parseEnum(latencyModeNames, s)
	return LatencyMode(v), err
}

// BluetoothControllerState is the attachment state of the daemon's HCI controller.
type BluetoothControllerState uint8

const (
	Detached BluetoothControllerState = iota
	Resetting
	Attached
)

var bluetoothControllerStateNames = []string{"Detached", "Resetting", "Attached"}

func (s BluetoothControllerState) String() string {
	return enumName(bluetoothControllerStateNames, uint8(s))
}

// ScanWizardResult is the final outcome of a scan wizard run.
type ScanWizardResult uint8

const (
	WizardSuccess ScanWizardResult = iota
	WizardCancelledByUser
	WizardFailedTimeout
	WizardButtonIsPrivate
	WizardBluetoothUnavailable
	WizardInternetBackendError
	WizardInvalidData
	WizardButtonBelongsToOtherPartner
	WizardButtonAlreadyConnectedToOtherDevice
)

var scanWizardResultNames = []string{
	"WizardSuccess", "WizardCancelledByUser", "WizardFailedTimeout", "WizardButtonIsPrivate",
	"WizardBluetoothUnavailable", "WizardInternetBackendError", "WizardInvalidData",
	"WizardButtonBelongsToOtherPartner", "WizardButtonAlreadyConnectedToOtherDevice",
}

func (r ScanWizardResult) String() string { return enumName(scanWizardResultNames, uint8(r)) }

// Auto-disconnect timeouts are expressed in seconds; 512 disables the feature.
const (
	MaxAutoDisconnectTime      = 511
	AutoDisconnectTimeDisabled = 512
)
