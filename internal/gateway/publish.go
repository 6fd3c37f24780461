package gateway

import (
	"encoding/json"
	"time"

	"openfms/flic/internal/model"
)

// publish sends msg to its type subject and to the catch-all subject.
func (g *Gateway) publish(msg *model.ButtonMessage) {
	if g.pub == nil {
		return
	}
	msg.GatewayID = g.cfg.GatewayID
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("[Gateway] Marshal %s message: %v", msg.Type, err)
		return
	}
	if err := g.pub.Publish(model.SubjectUplinkPrefix+msg.Type, data); err != nil {
		log.Warningf("[Gateway] Publish %s: %v", msg.Type, err)
		return
	}
	if err := g.pub.Publish(model.SubjectUplinkAll, data); err != nil {
		log.Warningf("[Gateway] Publish %s to %s: %v", msg.Type, model.SubjectUplinkAll, err)
		return
	}
	log.Debugf("[Gateway] Published %s message from %s", msg.Type, msg.Address)
}
