package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"openfms/flic/internal/protocol"
)

// Router returns the management HTTP surface.
func (g *Gateway) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", g.handleHealth)
	r.GET("/buttons", g.handleButtons)
	r.GET("/buttons/:addr/info", g.handleButtonInfo)
	return r
}

// ServeHTTP runs the management server until ctx is done.
func (g *Gateway) ServeHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", g.cfg.HTTPPort),
		Handler: g.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Infof("[Gateway] HTTP server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (g *Gateway) handleHealth(c *gin.Context) {
	g.mu.Lock()
	connected := g.client != nil
	since := g.connectedAt
	sessions := g.sessions
	var controller string
	if g.info != nil {
		controller = g.info.BluetoothControllerState.String()
	}
	g.mu.Unlock()

	status := http.StatusOK
	body := gin.H{
		"status":     "ok",
		"gateway_id": g.cfg.GatewayID,
		"flicd":      fmt.Sprintf("%s:%d", g.cfg.FlicdHost, g.cfg.FlicdPort),
		"connected":  connected,
		"sessions":   sessions,
	}
	if connected {
		body["connected_since"] = since
		body["controller"] = controller
		if cl := g.Client(); cl != nil {
			st := cl.Stats()
			body["channels"] = st.Channels
			body["listeners"] = st.Listeners
		}
	} else {
		body["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (g *Gateway) handleButtons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": g.Buttons()})
}

func (g *Gateway) handleButtonInfo(c *gin.Context) {
	addr, err := protocol.ParseBdAddr(c.Param("addr"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	info, err := g.ButtonInfo(ctx, addr)
	switch {
	case err == ErrNotConnected:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"data": buttonInfoData(info)})
	}
}
