// Package service holds the API's business logic over the button registry,
// the Redis shadows and the downlink bus.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

var log = logging.MustGetLogger("api")

var (
	ErrButtonOffline  = errors.New("button not online")
	ErrShadowNotFound = errors.New("shadow not found")
	ErrInvalidCommand = errors.New("invalid command")
)

const (
	defaultCommandTimeout = 5 * time.Second
	maxCommandTimeout     = 30 * time.Second
	maxExportRows         = 10000
)

// Requester sends a request and waits for the reply. *nats.Conn satisfies it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// ButtonService handles button business logic
type ButtonService struct {
	db    *gorm.DB
	redis *redis.Client
	nats  Requester
}

// NewButtonService creates a new button service
func NewButtonService(db *gorm.DB, redisClient *redis.Client, nc Requester) *ButtonService {
	return &ButtonService{
		db:    db,
		redis: redisClient,
		nats:  nc,
	}
}

// List returns a page of buttons ordered by address.
func (s *ButtonService) List(ctx context.Context, page, pageSize int) ([]model.Button, int64, error) {
	var buttons []model.Button
	var total int64

	page, pageSize = normalizePage(page, pageSize)
	offset := (page - 1) * pageSize

	db := s.db.WithContext(ctx)
	if err := db.Model(&model.Button{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("address").Offset(offset).Limit(pageSize).Find(&buttons).Error; err != nil {
		return nil, 0, err
	}
	return buttons, total, nil
}

// Get returns the button with the given address. The error is
// gorm.ErrRecordNotFound when there is none.
func (s *ButtonService) Get(ctx context.Context, address string) (*model.Button, error) {
	var button model.Button
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&button).Error; err != nil {
		return nil, err
	}
	return &button, nil
}

// UpdateName renames a button.
func (s *ButtonService) UpdateName(ctx context.Context, address, name string) (*model.Button, error) {
	button, err := s.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(button).Update("name", name).Error; err != nil {
		return nil, err
	}
	return button, nil
}

// GetShadow returns the live state the owning gateway keeps in Redis.
func (s *ButtonService) GetShadow(ctx context.Context, address string) (*model.ButtonShadow, error) {
	data, err := s.redis.HGetAll(ctx, model.ShadowKey(address)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrShadowNotFound
	}
	return ParseShadow(address, data), nil
}

// ParseShadow converts a shadow hash into a ButtonShadow. Missing or
// malformed numeric fields read as zero.
func ParseShadow(address string, data map[string]string) *model.ButtonShadow {
	shadow := &model.ButtonShadow{
		Address:          address,
		GatewayID:        data[model.ShadowGateway],
		ConnectionStatus: data[model.ShadowConnection],
		LastClick:        data[model.ShadowLastClick],
	}
	if v, err := strconv.Atoi(data[model.ShadowBattery]); err == nil {
		shadow.Battery = v
	}
	if v, err := strconv.ParseInt(data[model.ShadowTimestamp], 10, 64); err == nil {
		shadow.Timestamp = v
	}
	return shadow
}

// BuildCommand validates an API command request for address.
func BuildCommand(address string, req model.SendCommandRequest) (model.ButtonCommand, error) {
	cmd := model.ButtonCommand{Type: req.Command, Address: address}
	if _, err := protocol.ParseBdAddr(address); err != nil {
		return cmd, errors.Wrap(ErrInvalidCommand, err.Error())
	}
	switch req.Command {
	case model.CmdForceDisconnect, model.CmdDeleteButton, model.CmdButtonInfo:
	case model.CmdSetLatencyMode:
		if _, err := protocol.ParseLatencyMode(req.LatencyMode); err != nil {
			return cmd, errors.Wrapf(ErrInvalidCommand, "latency mode %q", req.LatencyMode)
		}
		cmd.LatencyMode = req.LatencyMode
	case model.CmdSetAutoDisconnect:
		if req.AutoDisconnectTime == nil {
			return cmd, errors.Wrap(ErrInvalidCommand, "auto_disconnect_time is required")
		}
		secs := *req.AutoDisconnectTime
		if secs < 0 || secs > protocol.AutoDisconnectTimeDisabled {
			return cmd, errors.Wrapf(ErrInvalidCommand, "auto_disconnect_time %d out of range 0-%d", secs, protocol.AutoDisconnectTimeDisabled)
		}
		cmd.AutoDisconnectTime = &secs
	default:
		return cmd, errors.Wrapf(ErrInvalidCommand, "unknown command %q", req.Command)
	}
	return cmd, nil
}

// SendCommand routes a command to the gateway that currently owns the
// button and waits for its reply.
func (s *ButtonService) SendCommand(ctx context.Context, address string, req model.SendCommandRequest) (*model.CommandReply, error) {
	cmd, err := BuildCommand(address, req)
	if err != nil {
		return nil, err
	}

	gatewayID, err := s.redis.Get(ctx, model.SessionKey(address)).Result()
	if err == redis.Nil {
		return nil, ErrButtonOffline
	}
	if err != nil {
		return nil, err
	}

	timeout := defaultCommandTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
		if timeout > maxCommandTimeout {
			timeout = maxCommandTimeout
		}
	}
	reply, err := s.request(ctx, gatewayID, cmd, timeout)
	if err != nil {
		return nil, err
	}
	if cmd.Type == model.CmdButtonInfo && reply.Success && s.db != nil {
		s.storeButtonInfo(ctx, reply.Data)
	}
	return reply, nil
}

func (s *ButtonService) request(ctx context.Context, gatewayID string, cmd model.ButtonCommand, timeout time.Duration) (*model.CommandReply, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	subject := model.SubjectDownlinkPrefix + gatewayID
	msg, err := s.nats.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s", subject)
	}
	var reply model.CommandReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, errors.Wrap(err, "decode command reply")
	}
	return &reply, nil
}

func (s *ButtonService) storeButtonInfo(ctx context.Context, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	var info model.ButtonInfoData
	if err := json.Unmarshal(raw, &info); err != nil || !info.Known {
		return
	}
	err = s.db.WithContext(ctx).Model(&model.Button{}).
		Where("address = ?", info.Address).
		Updates(map[string]interface{}{
			"uuid":          info.UUID,
			"color":         info.Color,
			"serial_number": info.SerialNumber,
		}).Error
	if err != nil {
		log.Warningf("[Button] Failed to store info for %s: %v", info.Address, err)
	}
}

// Events returns a page of recorded events for a button, newest first.
// Zero from or to leaves that end of the range open.
func (s *ButtonService) Events(ctx context.Context, address string, from, to time.Time, page, pageSize int) ([]model.ButtonEvent, int64, error) {
	var events []model.ButtonEvent
	var total int64

	page, pageSize = normalizePage(page, pageSize)
	query := s.eventQuery(ctx, address, from, to)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("time DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&events).Error
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ExportEvents renders a button's events in the range as an xlsx workbook.
func (s *ButtonService) ExportEvents(ctx context.Context, address string, from, to time.Time) (*bytes.Buffer, error) {
	var events []model.ButtonEvent
	err := s.eventQuery(ctx, address, from, to).Order("time DESC").Limit(maxExportRows).Find(&events).Error
	if err != nil {
		return nil, err
	}
	return EventsWorkbook(address, events)
}

func (s *ButtonService) eventQuery(ctx context.Context, address string, from, to time.Time) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&model.ButtonEvent{}).Where("address = ?", address)
	if !from.IsZero() {
		query = query.Where("time >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("time <= ?", to)
	}
	return query
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 20
	}
	return page, pageSize
}
