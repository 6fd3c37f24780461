package model

// ButtonMessage is the unified uplink message the gateway publishes for
// every daemon event it observes.
type ButtonMessage struct {
	GatewayID string `json:"gateway_id"`
	Address   string `json:"address,omitempty"`
	Type      string `json:"type"`      // "CLICK", "CONNECTION", "BATTERY", etc.
	Timestamp int64  `json:"timestamp"` // unix milliseconds

	// CLICK
	Kind      string `json:"kind,omitempty"`
	ClickType string `json:"click_type,omitempty"`
	WasQueued bool   `json:"was_queued,omitempty"`
	TimeDiff  int32  `json:"time_diff,omitempty"`

	// CONNECTION, CHANNEL_CREATED, CHANNEL_REMOVED, CONTROLLER_STATE
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	// BATTERY
	Battery *int `json:"battery,omitempty"`

	Extras map[string]interface{} `json:"extras,omitempty"`
}

// Message types
const (
	MsgTypeClick           = "CLICK"
	MsgTypeConnection      = "CONNECTION"
	MsgTypeChannelCreated  = "CHANNEL_CREATED"
	MsgTypeChannelRemoved  = "CHANNEL_REMOVED"
	MsgTypeBattery         = "BATTERY"
	MsgTypeNewButton       = "NEW_BUTTON"
	MsgTypeButtonDeleted   = "BUTTON_DELETED"
	MsgTypeControllerState = "CONTROLLER_STATE"
	MsgTypeNoSpace         = "NO_SPACE"
	MsgTypeGotSpace        = "GOT_SPACE"
	MsgTypeDaemonInfo      = "DAEMON_INFO"
)

// Subjects
const (
	SubjectUplinkPrefix   = "flic.uplink."
	SubjectUplinkAll      = "flic.uplink.all"
	SubjectDownlinkPrefix = "flic.downlink."
)

// ButtonCommand is a downlink request addressed to one gateway.
type ButtonCommand struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	// SET_LATENCY_MODE: "normal", "low" or "high".
	LatencyMode string `json:"latency_mode,omitempty"`
	// SET_AUTO_DISCONNECT: seconds, 512 disables.
	AutoDisconnectTime *int `json:"auto_disconnect_time,omitempty"`
}

// Command types
const (
	CmdForceDisconnect   = "FORCE_DISCONNECT"
	CmdDeleteButton      = "DELETE_BUTTON"
	CmdSetLatencyMode    = "SET_LATENCY_MODE"
	CmdSetAutoDisconnect = "SET_AUTO_DISCONNECT"
	CmdButtonInfo        = "BUTTON_INFO"
)

// CommandReply answers a ButtonCommand sent with a reply subject.
type CommandReply struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ButtonInfoData is the Data of a BUTTON_INFO reply.
type ButtonInfoData struct {
	Address      string `json:"address"`
	UUID         string `json:"uuid,omitempty"`
	Color        string `json:"color,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Known        bool   `json:"known"`
}
