package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/xuri/excelize/v2"

	"openfms/flic/internal/model"
)

const testAddr = "08:09:0a:0b:0c:0d"

func TestParseShadow(t *testing.T) {
	shadow := ParseShadow(testAddr, map[string]string{
		model.ShadowGateway:    "flic-01",
		model.ShadowConnection: "Ready",
		model.ShadowBattery:    "87",
		model.ShadowLastClick:  "ButtonSingleClick",
		model.ShadowTimestamp:  "1700000000",
	})
	want := model.ButtonShadow{
		Address:          testAddr,
		GatewayID:        "flic-01",
		ConnectionStatus: "Ready",
		Battery:          87,
		LastClick:        "ButtonSingleClick",
		Timestamp:        1700000000,
	}
	if *shadow != want {
		t.Fatalf("shadow = %+v, want %+v", *shadow, want)
	}

	partial := ParseShadow(testAddr, map[string]string{model.ShadowBattery: "n/a"})
	if partial.Battery != 0 || partial.Timestamp != 0 {
		t.Fatalf("malformed numbers should read as zero, got %+v", partial)
	}
}

func TestBuildCommand(t *testing.T) {
	secs := func(v int) *int { return &v }
	tests := []struct {
		name    string
		addr    string
		req     model.SendCommandRequest
		wantErr bool
	}{
		{"force disconnect", testAddr, model.SendCommandRequest{Command: model.CmdForceDisconnect}, false},
		{"delete", testAddr, model.SendCommandRequest{Command: model.CmdDeleteButton}, false},
		{"button info", testAddr, model.SendCommandRequest{Command: model.CmdButtonInfo}, false},
		{"latency low", testAddr, model.SendCommandRequest{Command: model.CmdSetLatencyMode, LatencyMode: "low"}, false},
		{"latency bogus", testAddr, model.SendCommandRequest{Command: model.CmdSetLatencyMode, LatencyMode: "fast"}, true},
		{"auto disconnect", testAddr, model.SendCommandRequest{Command: model.CmdSetAutoDisconnect, AutoDisconnectTime: secs(60)}, false},
		{"auto disconnect disabled", testAddr, model.SendCommandRequest{Command: model.CmdSetAutoDisconnect, AutoDisconnectTime: secs(512)}, false},
		{"auto disconnect too large", testAddr, model.SendCommandRequest{Command: model.CmdSetAutoDisconnect, AutoDisconnectTime: secs(513)}, true},
		{"auto disconnect missing", testAddr, model.SendCommandRequest{Command: model.CmdSetAutoDisconnect}, true},
		{"unknown", testAddr, model.SendCommandRequest{Command: "REBOOT"}, true},
		{"bad address", "not-an-address", model.SendCommandRequest{Command: model.CmdDeleteButton}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := BuildCommand(tt.addr, tt.req)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Fatalf("err = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Type != tt.req.Command || cmd.Address != tt.addr {
				t.Fatalf("cmd = %+v", cmd)
			}
		})
	}
}

type fakeRequester struct {
	subject string
	sent    model.ButtonCommand
	reply   model.CommandReply
	err     error
}

func (f *fakeRequester) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.subject = subj
	if err := json.Unmarshal(data, &f.sent); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("request without deadline")
	}
	out, _ := json.Marshal(f.reply)
	return &nats.Msg{Subject: subj, Data: out}, nil
}

func TestRequestRoutesToGateway(t *testing.T) {
	req := &fakeRequester{reply: model.CommandReply{Success: true}}
	s := NewButtonService(nil, nil, req)

	cmd := model.ButtonCommand{Type: model.CmdForceDisconnect, Address: testAddr}
	reply, err := s.request(context.Background(), "flic-07", cmd, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !reply.Success {
		t.Fatalf("reply = %+v", reply)
	}
	if req.subject != "flic.downlink.flic-07" {
		t.Fatalf("subject = %q", req.subject)
	}
	if req.sent != cmd {
		t.Fatalf("sent = %+v, want %+v", req.sent, cmd)
	}
}

func TestRequestPropagatesTimeout(t *testing.T) {
	req := &fakeRequester{err: nats.ErrTimeout}
	s := NewButtonService(nil, nil, req)

	_, err := s.request(context.Background(), "flic-01", model.ButtonCommand{Type: model.CmdButtonInfo, Address: testAddr}, time.Second)
	if !errors.Is(err, nats.ErrTimeout) {
		t.Fatalf("err = %v, want nats.ErrTimeout", err)
	}
}

func TestButtonFromMessage(t *testing.T) {
	level := 42
	tests := []struct {
		name       string
		msg        model.ButtonMessage
		wantStatus string
		wantColumn string
	}{
		{"connection", model.ButtonMessage{Type: model.MsgTypeConnection, Status: "Ready"}, "Ready", "connection_status"},
		{"created", model.ButtonMessage{Type: model.MsgTypeChannelCreated, Status: "Connected"}, "Connected", "connection_status"},
		{"removed", model.ButtonMessage{Type: model.MsgTypeChannelRemoved, Reason: "RemovedByThisClient"}, "Disconnected", "connection_status"},
		{"battery", model.ButtonMessage{Type: model.MsgTypeBattery, Battery: &level}, "", "battery_level"},
		{"click", model.ButtonMessage{Type: model.MsgTypeClick, ClickType: "ButtonSingleClick"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.Address = testAddr
			tt.msg.GatewayID = "flic-01"
			tt.msg.Timestamp = 1700000000123

			button, columns := ButtonFromMessage(&tt.msg)
			if button.Address != testAddr || button.GatewayID != "flic-01" {
				t.Fatalf("button = %+v", button)
			}
			if button.ConnectionStatus != tt.wantStatus {
				t.Fatalf("status = %q, want %q", button.ConnectionStatus, tt.wantStatus)
			}
			if button.LastEventAt == nil || !button.LastEventAt.Equal(time.UnixMilli(1700000000123)) {
				t.Fatalf("last event at = %v", button.LastEventAt)
			}
			if !contains(columns, "gateway_id") || !contains(columns, "deleted_at") {
				t.Fatalf("columns = %v", columns)
			}
			if tt.wantColumn != "" && !contains(columns, tt.wantColumn) {
				t.Fatalf("columns %v missing %q", columns, tt.wantColumn)
			}
			if tt.wantColumn == "" && (contains(columns, "connection_status") || contains(columns, "battery_level")) {
				t.Fatalf("click must not touch status or battery, columns = %v", columns)
			}
		})
	}
}

func TestEventFromMessage(t *testing.T) {
	msg := model.ButtonMessage{
		GatewayID: "flic-01",
		Address:   testAddr,
		Type:      model.MsgTypeClick,
		ClickType: "ButtonDoubleClick",
		Timestamp: 1700000000000,
	}
	raw, _ := json.Marshal(msg)
	ev := EventFromMessage(&msg, raw)
	if ev.Type != model.MsgTypeClick || ev.ClickType != "ButtonDoubleClick" || ev.GatewayID != "flic-01" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Payload != string(raw) {
		t.Fatalf("payload = %s", ev.Payload)
	}
	if !ev.Time.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("time = %v", ev.Time)
	}

	if empty := EventFromMessage(&msg, nil); empty.Payload != "{}" {
		t.Fatalf("empty payload = %q", empty.Payload)
	}
}

func TestEventsWorkbook(t *testing.T) {
	events := []model.ButtonEvent{
		{Address: testAddr, GatewayID: "flic-01", Type: model.MsgTypeClick, ClickType: "ButtonSingleClick", Payload: `{"a":1}`, Time: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{Address: testAddr, GatewayID: "flic-01", Type: model.MsgTypeBattery, Payload: `{"battery":80}`, Time: time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)},
	}
	buf, err := EventsWorkbook(testAddr, events)
	if err != nil {
		t.Fatalf("EventsWorkbook: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(eventsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "Time" || rows[0][3] != "Type" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "2024-01-02T03:04:05Z" || rows[1][4] != "ButtonSingleClick" {
		t.Fatalf("first row = %v", rows[1])
	}
	if rows[2][3] != model.MsgTypeBattery {
		t.Fatalf("second row = %v", rows[2])
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct{ page, size, wantPage, wantSize int }{
		{0, 0, 1, 20},
		{3, 50, 3, 50},
		{-1, 1000, 1, 20},
	}
	for _, tt := range tests {
		p, s := normalizePage(tt.page, tt.size)
		if p != tt.wantPage || s != tt.wantSize {
			t.Errorf("normalizePage(%d, %d) = %d, %d", tt.page, tt.size, p, s)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
