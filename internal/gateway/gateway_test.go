package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"openfms/flic/internal/client"
	"openfms/flic/internal/config"
	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
)

var (
	kitchen = protocol.MustParseBdAddr("80:e4:da:70:00:01")
	hallway = protocol.MustParseBdAddr("80:e4:da:70:00:02")
)

func TestServeOpensAllowedButtons(t *testing.T) {
	cfg := testConfig()
	cfg.Buttons = config.ButtonsConfig{Allow: []string{kitchen.String()}}
	h := startGateway(t, cfg, kitchen, hallway)

	create, ok := h.daemon.expect(t).(*protocol.CmdCreateConnectionChannel)
	if !ok || create.BdAddr != kitchen {
		t.Fatalf("command = %#v, want channel to %s", create, kitchen)
	}
	if create.LatencyMode != protocol.LowLatency || create.AutoDisconnectTime != 60 {
		t.Errorf("channel params = %v/%d, want LowLatency/60", create.LatencyMode, create.AutoDisconnectTime)
	}
	if l, ok := h.daemon.expect(t).(*protocol.CmdCreateBatteryStatusListener); !ok || l.BdAddr != kitchen {
		t.Fatalf("command = %#v, want battery listener", l)
	}

	info := h.pub.next(t, model.MsgTypeDaemonInfo)
	if info.GatewayID != "test-gw" || info.Status != "Attached" {
		t.Errorf("daemon info = %+v", info)
	}
	buttons := h.gw.Buttons()
	if len(buttons) != 1 || buttons[0].Address != kitchen.String() {
		t.Errorf("Buttons() = %+v", buttons)
	}
}

func TestButtonEventsArePublished(t *testing.T) {
	h := startGateway(t, testConfig(), kitchen)
	id := h.expectOpen(t, kitchen)

	h.daemon.send(t, &protocol.EvtCreateConnectionChannelResponse{ConnID: id, ConnectionStatus: protocol.Disconnected})
	if msg := h.pub.next(t, model.MsgTypeChannelCreated); msg.Address != kitchen.String() || msg.Status != "Disconnected" {
		t.Errorf("created = %+v", msg)
	}

	h.daemon.send(t, &protocol.EvtConnectionStatusChanged{ConnID: id, ConnectionStatus: protocol.Ready})
	if msg := h.pub.next(t, model.MsgTypeConnection); msg.Status != "Ready" || msg.Reason != "" {
		t.Errorf("connection = %+v", msg)
	}

	ev := protocol.ButtonEvent{ConnID: id, ClickType: protocol.ButtonDoubleClick}
	h.daemon.send(t, &protocol.EvtButtonClickOrHold{ButtonEvent: protocol.ButtonEvent{ConnID: id, ClickType: protocol.ButtonClick}})
	h.daemon.send(t, &protocol.EvtButtonSingleOrDoubleClickOrHold{ButtonEvent: ev})
	click := h.pub.next(t, model.MsgTypeClick)
	if click.Kind != "SingleOrDoubleClickOrHold" || click.ClickType != "ButtonDoubleClick" {
		t.Errorf("click = %+v", click)
	}

	h.daemon.send(t, &protocol.EvtBatteryStatus{ListenerID: 1, BatteryPercentage: 42, Timestamp: time.Now().Unix()})
	battery := h.pub.next(t, model.MsgTypeBattery)
	if battery.Battery == nil || *battery.Battery != 42 {
		t.Errorf("battery = %+v", battery)
	}

	if got := h.shadow.wait(kitchen.String(), model.ShadowLastClick, "ButtonDoubleClick"); got != "ButtonDoubleClick" {
		t.Errorf("shadow click = %v", got)
	}
	if got := h.shadow.wait(kitchen.String(), model.ShadowConnection, "Ready"); got != "Ready" {
		t.Errorf("shadow connection = %v", got)
	}
	if got := h.shadow.wait(kitchen.String(), model.ShadowBattery, 42); got != 42 {
		t.Errorf("shadow battery = %v", got)
	}
}

func TestSlowShadowDoesNotStallEventLoop(t *testing.T) {
	shadow := newStallShadow()
	h := startGatewayWithShadow(t, testConfig(), shadow, kitchen)
	t.Cleanup(func() { close(shadow.release) })
	id := h.expectOpen(t, kitchen)

	h.daemon.send(t, &protocol.EvtCreateConnectionChannelResponse{ConnID: id, ConnectionStatus: protocol.Disconnected})
	h.pub.next(t, model.MsgTypeChannelCreated)
	h.daemon.send(t, &protocol.EvtConnectionStatusChanged{ConnID: id, ConnectionStatus: protocol.Ready})
	h.pub.next(t, model.MsgTypeConnection)

	fired := make(chan struct{})
	start := time.Now()
	h.gw.Client().SetTimer(0, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(waitTimeout):
		t.Fatal("timer did not fire")
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("timer fired after %s", d)
	}
}

func TestShadowWriterCloseIsBounded(t *testing.T) {
	shadow := newStallShadow()
	defer close(shadow.release)
	w := newShadowWriter(shadow, 2)
	for i := 0; i < 5; i++ {
		w.enqueue(shadowOp{address: kitchen.String(), fields: map[string]interface{}{model.ShadowBattery: i}})
	}

	start := time.Now()
	w.close(50 * time.Millisecond)
	if d := time.Since(start); d > time.Second {
		t.Errorf("close took %s", d)
	}
}

func TestNewVerifiedButtonIsOpened(t *testing.T) {
	h := startGateway(t, testConfig())
	h.pub.next(t, model.MsgTypeDaemonInfo)
	h.daemon.send(t, &protocol.EvtNewVerifiedButton{BdAddr: hallway})
	h.expectOpen(t, hallway)
	if msg := h.pub.next(t, model.MsgTypeNewButton); msg.Address != hallway.String() {
		t.Errorf("new button = %+v", msg)
	}
}

func TestRemovedChannelIsForgotten(t *testing.T) {
	h := startGateway(t, testConfig(), kitchen)
	id := h.expectOpen(t, kitchen)
	h.daemon.send(t, &protocol.EvtConnectionChannelRemoved{ConnID: id, RemovedReason: protocol.DeletedByOtherClient})
	if msg := h.pub.next(t, model.MsgTypeChannelRemoved); msg.Reason != "DeletedByOtherClient" {
		t.Errorf("removed = %+v", msg)
	}
	if _, ok := h.daemon.expect(t).(*protocol.CmdRemoveBatteryStatusListener); !ok {
		t.Error("battery listener not removed")
	}
	if n := len(h.gw.Buttons()); n != 0 {
		t.Errorf("%d buttons still managed", n)
	}
}

func TestRejectedChannelIsRetried(t *testing.T) {
	h := startGateway(t, testConfig(), kitchen)
	id := h.expectOpen(t, kitchen)
	h.daemon.send(t, &protocol.EvtCreateConnectionChannelResponse{ConnID: id, Error: protocol.MaxPendingConnectionsReached})
	if msg := h.pub.next(t, model.MsgTypeChannelCreated); msg.Reason != "MaxPendingConnectionsReached" {
		t.Errorf("created = %+v", msg)
	}
	retry, ok := h.daemon.expect(t).(*protocol.CmdCreateConnectionChannel)
	if !ok || retry.BdAddr != kitchen || retry.ConnID == id {
		t.Errorf("retry = %#v", retry)
	}
}

func TestAllowListChange(t *testing.T) {
	h := startGateway(t, testConfig(), kitchen)
	h.expectOpen(t, kitchen)

	h.gw.SetButtons(config.ButtonsConfig{Allow: []string{hallway.String()}})
	if _, ok := h.daemon.expect(t).(*protocol.CmdGetInfo); !ok {
		t.Fatal("allow-list change did not refresh daemon info")
	}
	h.daemon.send(t, &protocol.EvtGetInfoResponse{VerifiedButtons: []protocol.BdAddr{kitchen, hallway}})
	h.expectOpen(t, hallway)
	if _, ok := h.daemon.expect(t).(*protocol.CmdRemoveConnectionChannel); !ok {
		t.Error("kitchen channel not removed")
	}
	if _, ok := h.daemon.expect(t).(*protocol.CmdRemoveBatteryStatusListener); !ok {
		t.Error("kitchen listener not removed")
	}
}

func TestHandleCommand(t *testing.T) {
	h := startGateway(t, testConfig(), kitchen)
	id := h.expectOpen(t, kitchen)
	ctx := context.Background()

	reply := h.gw.HandleCommand(ctx, model.ButtonCommand{Type: model.CmdSetLatencyMode, Address: kitchen.String(), LatencyMode: "high"})
	if !reply.Success {
		t.Fatalf("set latency: %+v", reply)
	}
	change, ok := h.daemon.expect(t).(*protocol.CmdChangeModeParameters)
	if !ok || change.ConnID != id || change.LatencyMode != protocol.HighLatency || change.AutoDisconnectTime != 60 {
		t.Errorf("change = %#v", change)
	}

	reply = h.gw.HandleCommand(ctx, model.ButtonCommand{Type: model.CmdForceDisconnect, Address: kitchen.String()})
	if !reply.Success {
		t.Fatalf("force disconnect: %+v", reply)
	}
	if fd, ok := h.daemon.expect(t).(*protocol.CmdForceDisconnect); !ok || fd.BdAddr != kitchen {
		t.Errorf("command = %#v", fd)
	}

	bad := []model.ButtonCommand{
		{Type: "REBOOT", Address: kitchen.String()},
		{Type: model.CmdForceDisconnect, Address: "nope"},
		{Type: model.CmdSetLatencyMode, Address: hallway.String(), LatencyMode: "low"},
		{Type: model.CmdSetAutoDisconnect, Address: kitchen.String()},
	}
	for _, cmd := range bad {
		if reply := h.gw.HandleCommand(ctx, cmd); reply.Success || reply.Error == "" {
			t.Errorf("HandleCommand(%+v) = %+v, want failure", cmd, reply)
		}
	}
}

func TestButtonInfoIsCached(t *testing.T) {
	h := startGateway(t, testConfig())
	id := uuid.New()
	go func() {
		cmd, ok := h.daemon.expect(t).(*protocol.CmdGetButtonInfo)
		if !ok {
			t.Error("expected get button info")
			return
		}
		h.daemon.send(t, &protocol.EvtGetButtonInfoResponse{BdAddr: cmd.BdAddr, UUID: id, Color: "black", SerialNumber: "BD12-A34567"})
	}()

	for i := 0; i < 2; i++ {
		reply := h.gw.HandleCommand(context.Background(), model.ButtonCommand{Type: model.CmdButtonInfo, Address: kitchen.String()})
		if !reply.Success {
			t.Fatalf("button info %d: %+v", i, reply)
		}
		data := reply.Data.(model.ButtonInfoData)
		if !data.Known || data.UUID != id.String() || data.Color != "black" {
			t.Errorf("data = %+v", data)
		}
	}
}

func TestHandleCommandRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.DownlinkRatePerMin = 1
	gw := New(cfg, nil, nil)
	cmd := model.ButtonCommand{Type: model.CmdForceDisconnect, Address: kitchen.String()}
	var limited int
	for i := 0; i < 5; i++ {
		if reply := gw.HandleCommand(context.Background(), cmd); reply.Error == ErrRateLimited.Error() {
			limited++
		}
	}
	if limited != 2 {
		t.Errorf("limited %d of 5 commands, want 2 past the burst of 3", limited)
	}
}

func TestHandleCommandNotConnected(t *testing.T) {
	gw := New(testConfig(), nil, nil)
	reply := gw.HandleCommand(context.Background(), model.ButtonCommand{Type: model.CmdDeleteButton, Address: kitchen.String()})
	if reply.Error != ErrNotConnected.Error() {
		t.Errorf("reply = %+v, want not connected", reply)
	}
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := startGateway(t, testConfig(), kitchen)
	h.expectOpen(t, kitchen)
	router := h.gw.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/buttons", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/buttons = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/buttons/zz/info", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("/buttons/zz/info = %d, want 400", w.Code)
	}
}

func TestHealthWithoutSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gw := New(testConfig(), nil, nil)
	w := httptest.NewRecorder()
	gw.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health = %d, want 503", w.Code)
	}
}

func TestRunReconnects(t *testing.T) {
	gw := New(testConfig(), newFakePublisher(), nil)
	var dials atomic.Int32
	gw.dial = func(ctx context.Context) (*client.Client, error) {
		d, c := newFakeDaemon()
		if dials.Add(1) < 3 {
			// Hang up right after the session starts.
			go func() {
				<-d.cmds
				d.conn.Close()
			}()
		}
		return c, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	deadline := time.Now().Add(waitTimeout)
	for dials.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if n := dials.Load(); n < 3 {
		t.Errorf("dialed %d times, want at least 3", n)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNextTick(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 3, 30, 0, time.UTC)
	next, err := nextTick("*/5 * * * *", base)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("nextTick = %v, want %v", next, want)
	}
	if _, err := nextTick("soon", base); err == nil {
		t.Error("nextTick accepted an invalid expression")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst not allowed")
	}
	if rl.Allow("a") {
		t.Error("third request within a minute allowed")
	}
	if !rl.Allow("b") {
		t.Error("independent key limited")
	}
	rl.Cleanup(0)
	if !rl.Allow("a") {
		t.Error("cleaned up key still limited")
	}
	if off := NewRateLimiter(0, 0); !off.Allow("a") || !off.Allow("a") {
		t.Error("disabled limiter limited")
	}
}
