// Package gateway bridges one flicd to the message bus. It keeps a
// connection channel and a battery listener open for every managed button,
// publishes what they report, mirrors button state into Redis and executes
// downlink commands.
package gateway

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"openfms/flic/internal/client"
	"openfms/flic/internal/config"
	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

var log = logging.MustGetLogger("gateway")

// ErrNotConnected is returned while the gateway has no flicd session.
var ErrNotConnected = errors.New("flicd not connected")

// Publisher sends uplink messages. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Gateway owns the flicd session and the buttons managed through it.
type Gateway struct {
	cfg       *config.Config
	pub       Publisher
	shadow    ShadowStore
	shadows   *shadowWriter
	limiter   *RateLimiter
	infoCache *lru.Cache[protocol.BdAddr, client.ButtonInfo]
	dial      func(ctx context.Context) (*client.Client, error)

	mu          sync.Mutex
	client      *client.Client
	buttons     map[protocol.BdAddr]*button
	allow       config.ButtonsConfig
	info        *client.InfoResponse
	connectedAt time.Time
	sessions    int
}

// New creates a gateway that dials flicd at the configured address.
func New(cfg *config.Config, pub Publisher, shadow ShadowStore) *Gateway {
	cache, err := lru.New[protocol.BdAddr, client.ButtonInfo](256)
	if err != nil {
		panic(err)
	}
	g := &Gateway{
		cfg:       cfg,
		pub:       pub,
		shadow:    shadow,
		limiter:   NewRateLimiter(cfg.DownlinkRatePerMin, 3),
		infoCache: cache,
		buttons:   make(map[protocol.BdAddr]*button),
		allow:     cfg.Buttons,
	}
	g.dial = func(ctx context.Context) (*client.Client, error) {
		return client.Dial(ctx, cfg.FlicdHost, cfg.FlicdPort)
	}
	return g
}

// Run keeps a session with flicd open until ctx is done, reconnecting after
// ReconnectDelay whenever the session ends.
func (g *Gateway) Run(ctx context.Context) error {
	go g.cleanupLoop(ctx)
	for {
		c, err := g.dial(ctx)
		if err == nil {
			err = g.Serve(ctx, c)
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warningf("[Gateway] flicd session ended: %v, reconnecting in %s", err, g.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(g.cfg.ReconnectDelay):
		}
	}
}

func (g *Gateway) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.limiter.Cleanup(10 * time.Minute)
		}
	}
}

// Serve runs one session on c until it ends or ctx is done.
func (g *Gateway) Serve(ctx context.Context, c *client.Client) error {
	g.mu.Lock()
	g.client = c
	g.buttons = make(map[protocol.BdAddr]*button)
	g.connectedAt = time.Now()
	g.sessions++
	g.mu.Unlock()

	// Shadow changes are queued from the event loop and from the cleanup
	// below, both on this goroutine.
	if g.shadow != nil {
		g.shadows = newShadowWriter(g.shadow, shadowQueueSize)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	c.SetGeneralHandler(func(ev client.GeneralEvent) { g.onGeneralEvent(c, ev) })
	err := c.GetInfo(func(info client.InfoResponse) { g.onInfo(c, info) })
	if err == nil {
		g.schedulePoll(c)
		err = c.RunForever()
	} else {
		c.Close()
	}

	g.mu.Lock()
	managed := g.buttons
	g.client = nil
	g.buttons = make(map[protocol.BdAddr]*button)
	g.mu.Unlock()
	for addr := range managed {
		g.updateShadow(addr, map[string]interface{}{model.ShadowConnection: protocol.Disconnected.String()})
	}
	if g.shadows != nil {
		g.shadows.close(shadowTimeout)
		g.shadows = nil
	}
	return err
}

// Client returns the current session, or nil.
func (g *Gateway) Client() *client.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// SetButtons replaces the allow-list and reconciles the open channels.
func (g *Gateway) SetButtons(b config.ButtonsConfig) {
	g.mu.Lock()
	g.allow = b
	c := g.client
	g.mu.Unlock()
	if c == nil {
		return
	}
	log.Infof("[Gateway] Button allow-list changed, %d entries", len(b.Allow))
	if err := c.GetInfo(func(info client.InfoResponse) { g.onInfo(c, info) }); err != nil {
		log.Warningf("[Gateway] Refresh daemon info: %v", err)
	}
}

func (g *Gateway) allowed(addr protocol.BdAddr) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allow.Allowed(addr)
}

// ButtonInfo returns what flicd knows about addr, from cache when possible.
func (g *Gateway) ButtonInfo(ctx context.Context, addr protocol.BdAddr) (client.ButtonInfo, error) {
	if info, ok := g.infoCache.Get(addr); ok {
		return info, nil
	}
	c := g.Client()
	if c == nil {
		return client.ButtonInfo{}, ErrNotConnected
	}
	info, err := c.GetButtonInfoContext(ctx, addr)
	if err != nil {
		return client.ButtonInfo{}, err
	}
	if info.Known() {
		g.infoCache.Add(addr, info)
	}
	return info, nil
}

// schedulePoll re-requests daemon info on the configured cron schedule using
// the session's own timers.
func (g *Gateway) schedulePoll(c *client.Client) {
	if g.cfg.InfoPollCron == "" {
		return
	}
	next, err := nextTick(g.cfg.InfoPollCron, time.Now())
	if err != nil {
		log.Errorf("[Gateway] Info poll schedule: %v", err)
		return
	}
	c.SetTimer(time.Until(next), func() {
		if err := c.GetInfo(func(info client.InfoResponse) { g.onInfo(c, info) }); err != nil {
			log.Warningf("[Gateway] Poll daemon info: %v", err)
			return
		}
		g.schedulePoll(c)
	})
}
