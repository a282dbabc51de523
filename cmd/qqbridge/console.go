package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openclaw-qq/qqbridge/pkg/bus"
	"github.com/openclaw-qq/qqbridge/pkg/eventlog"
	"github.com/openclaw-qq/qqbridge/pkg/requests"
	"github.com/openclaw-qq/qqbridge/pkg/router"
)

const consoleCallTimeout = 35 * time.Second

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the bridge with an interactive operator console",
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
		defer b.stop()

		fmt.Println("Type 'help' for commands, 'quit' to exit")
		interactiveMode(ctx, b)
		return nil
	},
}

func interactiveMode(ctx context.Context, b *bridge) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          logo + " > ",
		HistoryFile:     filepath.Join(os.TempDir(), ".qqbridge_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(ctx, b)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if b.execLine(ctx, line, os.Stdout) {
			fmt.Println("Goodbye!")
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, b *bridge) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(logo + " > ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if b.execLine(ctx, line, os.Stdout) {
			fmt.Println("Goodbye!")
			return
		}
	}
}

// execLine runs one console command and reports whether the console should exit.
func (b *bridge) execLine(ctx context.Context, line string, out io.Writer) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	// Approval commands use the same grammar as owner private messages.
	if d, ok := requests.ParseCommand(input); ok {
		b.resolve(ctx, d, out)
		return false
	}

	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true
	case "help":
		printConsoleHelp(out)
	case "status":
		b.printStatus(out)
	case "pending":
		b.printPending(out)
	case "log":
		n := 20
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
				n = v
			}
		}
		b.printLog(out, n)
	case "call":
		if len(fields) < 3 {
			fmt.Fprintln(out, "usage: call <account> <action> [json params]")
			return false
		}
		b.call(ctx, out, fields[1], fields[2], restAfter(input, 3))
	case "send":
		if len(fields) < 4 {
			fmt.Fprintln(out, "usage: send <account> <chat_id> <text>")
			return false
		}
		b.send(out, fields[1], fields[2], restAfter(input, 3))
	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help')\n", fields[0])
	}
	return false
}

func printConsoleHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  status                              Show account connections")
	fmt.Fprintln(out, "  pending                             List pending friend/group requests")
	fmt.Fprintln(out, "  approve|reject <group|friend> <flag> [reason]")
	fmt.Fprintln(out, "  同意入群|拒绝好友 <flag> [理由]        Same as above")
	fmt.Fprintln(out, "  log [n]                             Show the newest n log entries")
	fmt.Fprintln(out, "  call <account> <action> [json]      Issue a raw OneBot action")
	fmt.Fprintln(out, "  send <account> <chat_id> <text>     Queue an outbound message")
	fmt.Fprintln(out, "  quit                                Exit")
}

func (b *bridge) resolve(ctx context.Context, d requests.Decision, out io.Writer) {
	callCtx, cancel := context.WithTimeout(ctx, consoleCallTimeout)
	defer cancel()

	req, err := b.manager.Resolve(callCtx, d)
	switch {
	case errors.Is(err, router.ErrRequestNotFound):
		fmt.Fprintln(out, color.YellowString("未找到该请求或已过期: %s", d.Flag))
	case errors.Is(err, router.ErrKindMismatch):
		fmt.Fprintln(out, color.YellowString("请求类型不符: %s 是 %s 请求", d.Flag, req.Kind))
	case err != nil:
		fmt.Fprintln(out, color.RedString("%s失败: %v", router.DecisionText(d), err))
	default:
		fmt.Fprintln(out, color.GreenString("✓ 已%s请求 (%s, user %d)", router.DecisionText(d), req.Account, req.UserID))
	}
}

func (b *bridge) printStatus(out io.Writer) {
	statuses := b.manager.GetStatus()
	if len(statuses) == 0 {
		fmt.Fprintln(out, "No accounts enabled")
	}
	for _, st := range statuses {
		state := color.RedString("disconnected")
		if st.Connected {
			state = color.GreenString("connected")
		}
		fmt.Fprintf(out, "%-12s %-8s %s self=%d last=%s\n", st.Name, st.Platform, state, st.SelfID, st.LastActive)
	}
	fmt.Fprintf(out, "pending=%d cached=%d log=%d\n",
		b.manager.Pending().Len(), b.manager.Cache().Len(), b.events.Len())
}

func (b *bridge) printPending(out io.Writer) {
	list := b.manager.Pending().List()
	if len(list) == 0 {
		fmt.Fprintln(out, "No pending requests")
		return
	}
	for _, req := range list {
		where := "friend"
		if req.Kind == requests.KindGroup {
			where = fmt.Sprintf("group %d (%s)", req.GroupID, req.SubType)
		}
		fmt.Fprintf(out, "%s  [%s] %s user=%d %s  %q\n",
			req.CreatedAt.Format("01-02 15:04"), req.Account, where, req.UserID, req.Flag, req.Comment)
	}
}

// printLog shows entries oldest first so the newest ends up next to the prompt.
func (b *bridge) printLog(out io.Writer, n int) {
	entries, total := b.events.Entries(eventlog.Query{Limit: n})
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(out, "%s %-8s %s\n", e.Time.Format("15:04:05"), e.Source, e.Summary)
	}
	fmt.Fprintf(out, "(%d of %d)\n", len(entries), total)
}

func (b *bridge) call(ctx context.Context, out io.Writer, account, action, rawParams string) {
	var params interface{}
	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			fmt.Fprintln(out, color.RedString("invalid params: %v", err))
			return
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, consoleCallTimeout)
	defer cancel()

	data, err := b.manager.Call(callCtx, account, action, params)
	if err != nil {
		fmt.Fprintln(out, color.RedString("%s failed: %v", action, err))
		return
	}
	fmt.Fprintln(out, string(data))
}

func (b *bridge) send(out io.Writer, account, chatID, text string) {
	if _, ok := b.manager.GetChannel(account); !ok {
		fmt.Fprintln(out, color.RedString("unknown account: %s", account))
		return
	}
	if !b.bus.PublishOutbound(bus.OutboundMessage{Channel: account, ChatID: chatID, Content: text}) {
		fmt.Fprintln(out, color.RedString("outbound queue closed"))
		return
	}
	fmt.Fprintln(out, "queued")
}

// restAfter returns the raw remainder of line after its first n fields.
func restAfter(line string, n int) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = strings.TrimSpace(rest[idx:])
	}
	return rest
}
