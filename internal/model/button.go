package model

import (
	"time"

	"gorm.io/gorm"
)

// Button is a Flic button seen by any gateway.
type Button struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	Address          string         `json:"address" gorm:"uniqueIndex;size:17"`
	Name             string         `json:"name" gorm:"size:100"`
	UUID             string         `json:"uuid,omitempty" gorm:"size:36"`
	Color            string         `json:"color,omitempty" gorm:"size:16"`
	SerialNumber     string         `json:"serial_number,omitempty" gorm:"size:16"`
	GatewayID        string         `json:"gateway_id" gorm:"size:64"`
	ConnectionStatus string         `json:"connection_status" gorm:"size:20"`
	BatteryLevel     *int           `json:"battery_level"`
	LastEventAt      *time.Time     `json:"last_event_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}

// ButtonEvent is one recorded uplink message.
type ButtonEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Address   string    `json:"address" gorm:"size:17;index"`
	GatewayID string    `json:"gateway_id" gorm:"size:64"`
	Type      string    `json:"type" gorm:"size:20"`
	ClickType string    `json:"click_type,omitempty" gorm:"size:20"`
	Payload   string    `json:"payload" gorm:"type:jsonb"`
	Time      time.Time `json:"time" gorm:"index"`
}

func (ButtonEvent) TableName() string {
	return "button_events"
}

// ButtonShadow is the live state of a button, kept in Redis by the gateway.
type ButtonShadow struct {
	Address          string `json:"address"`
	GatewayID        string `json:"gw"`
	ConnectionStatus string `json:"conn"`
	Battery          int    `json:"bat"`
	LastClick        string `json:"click,omitempty"`
	Timestamp        int64  `json:"ts"`
}

// Shadow hash fields
const (
	ShadowGateway    = "gw"
	ShadowConnection = "conn"
	ShadowBattery    = "bat"
	ShadowLastClick  = "click"
	ShadowTimestamp  = "ts"
)

// ShadowKey and SessionKey are the gateway's Redis keys for a button.
func ShadowKey(address string) string  { return "flic:shadow:" + address }
func SessionKey(address string) string { return "flic:sess:" + address }

// UpdateButtonRequest renames a button.
type UpdateButtonRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

// SendCommandRequest is the API body for a downlink command. Address comes
// from the path.
type SendCommandRequest struct {
	Command            string `json:"command" binding:"required"`
	LatencyMode        string `json:"latency_mode"`
	AutoDisconnectTime *int   `json:"auto_disconnect_time"`
	Timeout            int    `json:"timeout"` // seconds, default 5
}
