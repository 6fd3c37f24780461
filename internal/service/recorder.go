package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

const recordTimeout = 5 * time.Second

// EventRecorder persists every uplink message: the button row is upserted
// with what the message says about it and the message itself is appended
// to button_events.
type EventRecorder struct {
	db  *gorm.DB
	nc  *nats.Conn
	sub *nats.Subscription
}

// NewEventRecorder creates a recorder
func NewEventRecorder(db *gorm.DB, nc *nats.Conn) *EventRecorder {
	return &EventRecorder{db: db, nc: nc}
}

// Start subscribes to all uplink messages.
func (r *EventRecorder) Start() error {
	sub, err := r.nc.Subscribe(model.SubjectUplinkAll, func(msg *nats.Msg) {
		var m model.ButtonMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			log.Warningf("[Recorder] Failed to unmarshal uplink message: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.Record(ctx, &m, msg.Data); err != nil {
			log.Errorf("[Recorder] Failed to record %s from %s: %v", m.Type, m.Address, err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "subscribe uplink")
	}
	r.sub = sub
	log.Infof("[Recorder] Subscribed to %s", model.SubjectUplinkAll)
	return nil
}

// Stop unsubscribes from the bus.
func (r *EventRecorder) Stop() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
}

// Record stores one message. Messages without a button address, such as
// DAEMON_INFO, are skipped.
func (r *EventRecorder) Record(ctx context.Context, m *model.ButtonMessage, raw []byte) error {
	if m.Address == "" {
		log.Debugf("[Recorder] Skipping %s without address", m.Type)
		return nil
	}
	event := EventFromMessage(m, raw)
	button, columns := ButtonFromMessage(m)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.Type == model.MsgTypeButtonDeleted {
			if err := tx.Where("address = ?", m.Address).Delete(&model.Button{}).Error; err != nil {
				return err
			}
		} else {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "address"}},
				DoUpdates: clause.AssignmentColumns(columns),
			}).Create(&button).Error
			if err != nil {
				return err
			}
		}
		return tx.Create(&event).Error
	})
}

// EventFromMessage builds the button_events row for an uplink message.
func EventFromMessage(m *model.ButtonMessage, raw []byte) model.ButtonEvent {
	payload := string(raw)
	if len(raw) == 0 {
		payload = "{}"
	}
	return model.ButtonEvent{
		Address:   m.Address,
		GatewayID: m.GatewayID,
		Type:      m.Type,
		ClickType: m.ClickType,
		Payload:   payload,
		Time:      messageTime(m),
	}
}

// ButtonFromMessage returns the button row implied by an uplink message and
// the columns an existing row should take from it.
func ButtonFromMessage(m *model.ButtonMessage) (model.Button, []string) {
	at := messageTime(m)
	button := model.Button{
		Address:     m.Address,
		GatewayID:   m.GatewayID,
		LastEventAt: &at,
	}
	columns := []string{"gateway_id", "last_event_at", "updated_at", "deleted_at"}

	switch m.Type {
	case model.MsgTypeConnection, model.MsgTypeChannelCreated:
		if m.Status != "" {
			button.ConnectionStatus = m.Status
			columns = append(columns, "connection_status")
		}
	case model.MsgTypeChannelRemoved:
		button.ConnectionStatus = protocol.Disconnected.String()
		columns = append(columns, "connection_status")
	case model.MsgTypeBattery:
		if m.Battery != nil {
			level := *m.Battery
			button.BatteryLevel = &level
			columns = append(columns, "battery_level")
		}
	}
	return button, columns
}

func messageTime(m *model.ButtonMessage) time.Time {
	if m.Timestamp > 0 {
		return time.UnixMilli(m.Timestamp).UTC()
	}
	return time.Now().UTC()
}
