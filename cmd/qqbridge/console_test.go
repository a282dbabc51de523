package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openclaw-qq/qqbridge/pkg/bus"
	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/requests"
)

type stubChannel struct{ name string }

func (s *stubChannel) Name() string { return s.name }
func (s *stubChannel) Start(ctx context.Context) error { return nil }
func (s *stubChannel) Stop(ctx context.Context) error { return nil }
func (s *stubChannel) Send(ctx context.Context, m bus.OutboundMessage) error { return nil }
func (s *stubChannel) IsRunning() bool { return true }

func newTestBridge(t *testing.T) *bridge {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Accounts = nil
	b, err := newBridge(cfg)
	if err != nil {
		t.Fatalf("newBridge() error = %v", err)
	}
	t.Cleanup(b.bus.Close)
	return b
}

func run(t *testing.T, b *bridge, line string) string {
	t.Helper()
	var out bytes.Buffer
	if b.execLine(context.Background(), line, &out) {
		t.Fatalf("execLine(%q) asked to quit", line)
	}
	return out.String()
}

func TestNewBridge_SchedulesMaintenance(t *testing.T) {
	b := newTestBridge(t)
	jobs := b.cron.ListJobs(true)
	if len(jobs) != 2 || jobs[0].Name != "pending-sweep" || jobs[1].Name != "status-report" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestNewBridge_RejectsBadCron(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Accounts = nil
	cfg.Maintenance.PendingSweepCron = "every now and then"
	if _, err := newBridge(cfg); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}

	cfg.Maintenance = config.MaintenanceConfig{}
	b, err := newBridge(cfg)
	if err != nil {
		t.Fatalf("newBridge() error = %v", err)
	}
	if jobs := b.cron.ListJobs(true); len(jobs) != 0 {
		t.Fatalf("empty expressions should disable jobs, got %+v", jobs)
	}
}

func TestExecLine_QuitAndUnknown(t *testing.T) {
	b := newTestBridge(t)
	var out bytes.Buffer
	if !b.execLine(context.Background(), " quit ", &out) {
		t.Fatal("quit should end the console")
	}
	if got := run(t, b, "frobnicate"); !strings.Contains(got, "Unknown command") {
		t.Fatalf("output = %q", got)
	}
	if got := run(t, b, "   "); got != "" {
		t.Fatalf("blank line output = %q", got)
	}
}

func TestExecLine_PendingAndResolve(t *testing.T) {
	b := newTestBridge(t)
	if got := run(t, b, "pending"); !strings.Contains(got, "No pending requests") {
		t.Fatalf("output = %q", got)
	}

	b.manager.Pending().Add(requests.Request{
		Flag: "flag-1", Kind: requests.KindFriend, UserID: 42, Account: "qq", Comment: "hi",
	})
	if got := run(t, b, "pending"); !strings.Contains(got, "flag-1") || !strings.Contains(got, "user=42") {
		t.Fatalf("output = %q", got)
	}

	// The owning account is not running, so the request must survive.
	got := run(t, b, "approve friend flag-1")
	if !strings.Contains(got, "同意好友失败") {
		t.Fatalf("output = %q", got)
	}
	if b.manager.Pending().Len() != 1 {
		t.Fatal("request dropped after failed resolve")
	}

	if got := run(t, b, "拒绝入群 nope"); !strings.Contains(got, "未找到") {
		t.Fatalf("output = %q", got)
	}
}

func TestExecLine_LogShowsNewestLast(t *testing.T) {
	b := newTestBridge(t)
	b.events.AddSystem("first", "")
	b.events.AddSystem("second", "")

	got := run(t, b, "log 5")
	first := strings.Index(got, "[系统] first")
	second := strings.Index(got, "[系统] second")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("output = %q", got)
	}
	if !strings.Contains(got, "(2 of 2)") {
		t.Fatalf("output = %q", got)
	}
}

func TestExecLine_SendQueuesOutbound(t *testing.T) {
	b := newTestBridge(t)
	if got := run(t, b, "send qq group:1 hi"); !strings.Contains(got, "unknown account") {
		t.Fatalf("output = %q", got)
	}

	b.manager.RegisterChannel("qq", &stubChannel{name: "qq"})
	if got := run(t, b, "send qq group:123  hello   world"); !strings.Contains(got, "queued") {
		t.Fatalf("output = %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.bus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound message queued")
	}
	if msg.Channel != "qq" || msg.ChatID != "group:123" || msg.Content != "hello   world" {
		t.Fatalf("outbound = %+v", msg)
	}
}

func TestExecLine_CallValidatesParams(t *testing.T) {
	b := newTestBridge(t)
	if got := run(t, b, "call qq get_status {bad"); !strings.Contains(got, "invalid params") {
		t.Fatalf("output = %q", got)
	}
	if got := run(t, b, `call qq get_status {}`); !strings.Contains(got, "not found") {
		t.Fatalf("output = %q", got)
	}
	if got := run(t, b, "call qq"); !strings.Contains(got, "usage") {
		t.Fatalf("output = %q", got)
	}
}

func TestRecordInbound(t *testing.T) {
	b := newTestBridge(t)
	e := b.recordInbound(bus.InboundMessage{
		Channel: "qq", SenderID: "42", ChatID: "private:42", Content: "ping", TraceID: "t-1",
	})
	if e.Type != "inbound" || e.Source != "qq" || !strings.Contains(e.Summary, "ping") || e.Detail != "t-1" {
		t.Fatalf("entry = %+v", e)
	}
	if b.events.Len() != 1 {
		t.Fatalf("log length = %d", b.events.Len())
	}
}

func TestRestAfter(t *testing.T) {
	cases := map[string]string{
		"send qq group:1 a  b":   "a  b",
		"call qq get_status":     "",
		"call qq act {\"a\": 1}": "{\"a\": 1}",
	}
	for line, want := range cases {
		if got := restAfter(line, 3); got != want {
			t.Fatalf("restAfter(%q) = %q, want %q", line, got, want)
		}
	}
}
