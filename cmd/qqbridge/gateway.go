package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openclaw-qq/qqbridge/pkg/bus"
	"github.com/openclaw-qq/qqbridge/pkg/channels"
	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/cron"
	"github.com/openclaw-qq/qqbridge/pkg/eventlog"
	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/utils"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Connect all enabled accounts and run the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		b, err := startBridge(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Println("Press Ctrl+C to stop")

		waitForSignal()
		fmt.Println("\nShutting down...")
		cancel()
		b.stop()
		fmt.Println(color.GreenString("✓ Gateway stopped"))
		return nil
	},
}

// bridge is the running set of services shared by gateway and console.
type bridge struct {
	cfg     *config.Config
	bus     *bus.MessageBus
	events  *eventlog.Log
	manager *channels.Manager
	cron    *cron.Service
}

func newBridge(cfg *config.Config) (*bridge, error) {
	msgBus := bus.NewMessageBus()
	events := eventlog.New(eventlog.DefaultMaxEntries)

	manager, err := channels.NewManager(cfg, msgBus, events)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}

	b := &bridge{
		cfg:     cfg,
		bus:     msgBus,
		events:  events,
		manager: manager,
		cron:    cron.NewService(),
	}
	if err := b.scheduleMaintenance(); err != nil {
		return nil, err
	}
	return b, nil
}

func startBridge(ctx context.Context, cfg *config.Config) (*bridge, error) {
	b, err := newBridge(cfg)
	if err != nil {
		return nil, err
	}

	enabled := b.manager.GetEnabledChannels()
	if len(enabled) > 0 {
		fmt.Println(color.GreenString("✓ Accounts enabled: %v", enabled))
	} else {
		fmt.Println(color.YellowString("⚠ Warning: no accounts enabled"))
	}

	b.cron.Start()
	if err := b.manager.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("start channels: %w", err)
	}
	go b.consumeInbound(ctx)

	b.events.AddSystem("网关已启动", fmt.Sprintf("%d accounts", len(enabled)))
	return b, nil
}

func (b *bridge) stop() {
	b.cron.Stop()
	_ = b.manager.StopAll(context.Background())
	b.bus.Close()
	logger.Sync()
}

// scheduleMaintenance registers the pending sweep and status report jobs.
// An empty expression disables the job.
func (b *bridge) scheduleMaintenance() error {
	if expr := b.cfg.Maintenance.PendingSweepCron; expr != "" {
		_, err := b.cron.AddJob("pending-sweep", cron.CronExpr(expr), func(cron.Job) error {
			b.manager.SweepPending()
			return nil
		})
		if err != nil {
			return fmt.Errorf("pending sweep schedule: %w", err)
		}
	}
	if expr := b.cfg.Maintenance.StatusCron; expr != "" {
		_, err := b.cron.AddJob("status-report", cron.CronExpr(expr), func(cron.Job) error {
			b.logStatus()
			return nil
		})
		if err != nil {
			return fmt.Errorf("status schedule: %w", err)
		}
	}
	return nil
}

func (b *bridge) logStatus() {
	for _, st := range b.manager.GetStatus() {
		logger.InfoCF("gateway", "Account status", map[string]interface{}{
			"account":     st.Name,
			"platform":    st.Platform,
			"running":     st.Running,
			"connected":   st.Connected,
			"self_id":     st.SelfID,
			"last_active": st.LastActive,
		})
	}
	logger.InfoCF("gateway", "Bridge status", map[string]interface{}{
		"pending_requests": b.manager.Pending().Len(),
		"cached_messages":  b.manager.Cache().Len(),
		"log_entries":      b.events.Len(),
	})
}

// consumeInbound drains messages forwarded by the channels. The agent runtime
// attaches elsewhere, so here they are only logged and recorded.
func (b *bridge) consumeInbound(ctx context.Context) {
	for {
		msg, ok := b.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		b.recordInbound(msg)
	}
}

func (b *bridge) recordInbound(msg bus.InboundMessage) eventlog.Entry {
	logger.InfoCF("gateway", "Inbound message", map[string]interface{}{
		"channel":  msg.Channel,
		"chat_id":  msg.ChatID,
		"sender":   msg.SenderID,
		"trace_id": msg.TraceID,
		"preview":  utils.Truncate(msg.Content, 80),
	})
	return b.events.Add(eventlog.Entry{
		Source:  msg.Channel,
		Type:    "inbound",
		Summary: fmt.Sprintf("[转发] %s -> %s: %s", msg.SenderID, msg.ChatID, utils.Truncate(msg.Content, 200)),
		Detail:  msg.TraceID,
	})
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)
}
