package gateway

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

const (
	shadowTimeout   = 2 * time.Second
	shadowQueueSize = 256
)

// ShadowStore keeps the live state of each button for the API.
type ShadowStore interface {
	Update(ctx context.Context, address string, fields map[string]interface{}) error
	Remove(ctx context.Context, address string) error
}

// RedisShadow stores shadows as Redis hashes. The session key names the
// gateway that owns the button and expires unless the button keeps
// reporting.
type RedisShadow struct {
	rdb        *redis.Client
	gatewayID  string
	sessionTTL time.Duration
}

func NewRedisShadow(rdb *redis.Client, gatewayID string, sessionTTL time.Duration) *RedisShadow {
	return &RedisShadow{rdb: rdb, gatewayID: gatewayID, sessionTTL: sessionTTL}
}

func (s *RedisShadow) Update(ctx context.Context, address string, fields map[string]interface{}) error {
	values := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		values[k] = v
	}
	values[model.ShadowGateway] = s.gatewayID
	values[model.ShadowTimestamp] = time.Now().Unix()

	shadowKey := model.ShadowKey(address)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, shadowKey, values)
	pipe.Expire(ctx, shadowKey, 24*time.Hour)
	pipe.Set(ctx, model.SessionKey(address), s.gatewayID, s.sessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisShadow) Remove(ctx context.Context, address string) error {
	return s.rdb.Del(ctx, model.ShadowKey(address), model.SessionKey(address)).Err()
}

// shadowWriter applies shadow changes on its own goroutine, in the order they
// were queued, so slow storage never holds up the flicd event loop.
type shadowWriter struct {
	store  ShadowStore
	ops    chan shadowOp
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type shadowOp struct {
	address string
	fields  map[string]interface{}
	remove  bool
}

func newShadowWriter(store ShadowStore, size int) *shadowWriter {
	ctx, cancel := context.WithCancel(context.Background())
	w := &shadowWriter{
		store:  store,
		ops:    make(chan shadowOp, size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *shadowWriter) run() {
	defer close(w.done)
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(w.ctx, shadowTimeout)
		var err error
		if op.remove {
			err = w.store.Remove(ctx, op.address)
		} else {
			err = w.store.Update(ctx, op.address, op.fields)
		}
		cancel()
		if err != nil {
			log.Warningf("[Gateway] Shadow of %s: %v", op.address, err)
		}
	}
}

// enqueue never blocks. Changes are dropped while the queue is full.
func (w *shadowWriter) enqueue(op shadowOp) {
	select {
	case w.ops <- op:
	default:
		log.Warningf("[Gateway] Shadow queue full, dropped change for %s", op.address)
	}
}

// close stops accepting changes and gives the queued ones up to grace to be
// written before abandoning the rest.
func (w *shadowWriter) close(grace time.Duration) {
	close(w.ops)
	select {
	case <-w.done:
	case <-time.After(grace):
		w.cancel()
		<-w.done
	}
	w.cancel()
}

func (g *Gateway) updateShadow(addr protocol.BdAddr, fields map[string]interface{}) {
	if g.shadows == nil {
		return
	}
	g.shadows.enqueue(shadowOp{address: addr.String(), fields: fields})
}

func (g *Gateway) removeShadow(addr protocol.BdAddr) {
	if g.shadows == nil {
		return
	}
	g.shadows.enqueue(shadowOp{address: addr.String(), remove: true})
}
