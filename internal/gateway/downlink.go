package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"openfms/flic/internal/client"
	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

const commandTimeout = 5 * time.Second

// ErrRateLimited is returned when a button receives commands too quickly.
var ErrRateLimited = errors.New("rate limited")

// StartDownlink consumes commands addressed to this gateway. Commands sent
// with a reply subject are answered with a model.CommandReply.
func (g *Gateway) StartDownlink(nc *nats.Conn) (*nats.Subscription, error) {
	subject := model.SubjectDownlinkPrefix + g.cfg.GatewayID
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var reply model.CommandReply
		var cmd model.ButtonCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			log.Warningf("[Gateway] Bad downlink command: %v", err)
			reply = model.CommandReply{Error: err.Error()}
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			reply = g.HandleCommand(ctx, cmd)
			cancel()
		}
		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			log.Warningf("[Gateway] Reply to %s: %v", cmd.Type, err)
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", subject)
	}
	log.Infof("[Gateway] Consuming downlink commands on %s", subject)
	return sub, nil
}

// HandleCommand executes one downlink command.
func (g *Gateway) HandleCommand(ctx context.Context, cmd model.ButtonCommand) model.CommandReply {
	data, err := g.execute(ctx, cmd)
	if err != nil {
		log.Warningf("[Gateway] Command %s for %s failed: %v", cmd.Type, cmd.Address, err)
		return model.CommandReply{Error: err.Error()}
	}
	log.Infof("[Gateway] Command %s sent to %s", cmd.Type, cmd.Address)
	return model.CommandReply{Success: true, Data: data}
}

func (g *Gateway) execute(ctx context.Context, cmd model.ButtonCommand) (interface{}, error) {
	addr, err := protocol.ParseBdAddr(cmd.Address)
	if err != nil {
		return nil, err
	}
	if !g.limiter.Allow(addr.String()) {
		return nil, ErrRateLimited
	}
	c := g.Client()
	if c == nil {
		return nil, ErrNotConnected
	}

	switch cmd.Type {
	case model.CmdForceDisconnect:
		return nil, c.ForceDisconnect(addr)

	case model.CmdDeleteButton:
		g.infoCache.Remove(addr)
		return nil, c.DeleteButton(addr)

	case model.CmdSetLatencyMode:
		mode, err := protocol.ParseLatencyMode(cmd.LatencyMode)
		if err != nil {
			return nil, err
		}
		ch := g.channelFor(addr)
		if ch == nil {
			return nil, errors.Errorf("button %s is not managed by this gateway", addr)
		}
		return nil, ch.SetLatencyMode(mode)

	case model.CmdSetAutoDisconnect:
		if cmd.AutoDisconnectTime == nil {
			return nil, errors.New("auto_disconnect_time is required")
		}
		ch := g.channelFor(addr)
		if ch == nil {
			return nil, errors.Errorf("button %s is not managed by this gateway", addr)
		}
		secs := *cmd.AutoDisconnectTime
		if secs < 0 || secs > protocol.AutoDisconnectTimeDisabled {
			return nil, errors.Wrapf(client.ErrInvalidArgument, "auto_disconnect_time %d", secs)
		}
		return nil, ch.SetAutoDisconnectTime(int16(secs))

	case model.CmdButtonInfo:
		info, err := g.ButtonInfo(ctx, addr)
		if err != nil {
			return nil, err
		}
		return buttonInfoData(info), nil
	}
	return nil, errors.Errorf("unknown command %q", cmd.Type)
}

func buttonInfoData(info client.ButtonInfo) model.ButtonInfoData {
	d := model.ButtonInfoData{
		Address:      info.BdAddr.String(),
		Color:        info.Color,
		SerialNumber: info.SerialNumber,
		Known:        info.Known(),
	}
	if d.Known {
		d.UUID = info.UUID.String()
	}
	return d
}
