// Package cli implements the interactive command-line interface for the
// GameLink hub: live connection status, agent commands, and token
// management without leaving the terminal.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/db"
	"github.com/gamelink-project/gamelink/internal/events"
	"github.com/gamelink-project/gamelink/internal/hub"
	"github.com/gamelink-project/gamelink/internal/network"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *hub.Manager
	store    *db.TokenStore
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, manager *hub.Manager, store *db.TokenStore) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		store:    store,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nGameLink CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()
	if reader == nil {
		log.Warn().Msg("CLI: failed to initialize line reader, CLI disabled")
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("gamelink> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus(args)
	case "send":
		return c.cmdSend(args)
	case "message", "msg":
		return c.cmdMessage(args)
	case "broadcast":
		return c.cmdBroadcast(args)
	case "disconnect":
		return c.cmdDisconnect(args)
	case "remove":
		return c.cmdRemove(args)
	case "enable":
		return c.cmdEnable(args)
	case "disable":
		return c.cmdDisable(args)
	case "mode":
		return c.cmdMode(args)
	case "tokens":
		return c.cmdTokens()
	case "token":
		return c.cmdToken(args)
	case "audit":
		return c.cmdAudit(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down GameLink hub...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     GameLink CLI Commands                      ║")
	fmt.Println("╠════════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status [id]        Show all connections or one in detail     ║")
	fmt.Println("║  send <id> <op>     Send a request to an agent                ║")
	fmt.Println("║  message <id> <ev>  Queue an event frame for an agent         ║")
	fmt.Println("║  broadcast <ev>     Offer an event to all subscribed agents   ║")
	fmt.Println("║  disconnect <id>    Drop an agent (it may reconnect)          ║")
	fmt.Println("║  remove <id>        Drop an agent and forget it               ║")
	fmt.Println("║  enable <id>        Allow a disabled agent back in            ║")
	fmt.Println("║  disable <id>       Bar an agent from reconnecting            ║")
	fmt.Println("║  mode <id> <mode>   Switch connection mode (direct/proxy)     ║")
	fmt.Println("║  tokens             List provisioned agent tokens             ║")
	fmt.Println("║  token add <id>     Provision a token for a server            ║")
	fmt.Println("║  token revoke <id>  Revoke a server's token                   ║")
	fmt.Println("║  audit [id]         Show recent audit entries                 ║")
	fmt.Println("║  quit               Shutdown the hub                          ║")
	fmt.Println("║  help               Show this help message                    ║")
	fmt.Println("╚════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays connection status in a formatted table.
func (c *CLI) printStatus(args []string) {
	if len(args) > 0 {
		info, err := c.manager.GetConnectionInfo(args[0])
		if err != nil {
			fmt.Printf("Server not found: %s\n", args[0])
			return
		}
		c.printConnectionDetail(info)
		return
	}

	conns := c.manager.ListConnections()
	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Server ID", "Name", "Type", "Status", "Mode", "Queue", "RTT", "Attempts"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range conns {
		rtt := "-"
		if info.Heartbeat.AverageRTT > 0 {
			rtt = info.Heartbeat.AverageRTT.Round(time.Millisecond).String()
		}
		tw.Append([]string{
			info.ServerID,
			info.ServerName,
			info.ServerType,
			strings.ToUpper(string(info.Status)),
			info.Mode,
			fmt.Sprintf("%d", info.QueueDepth),
			rtt,
			fmt.Sprintf("%d/%d", info.Reconnect.CurrentAttempts, info.Reconnect.TotalAttempts),
		})
	}

	tw.Render()
	fmt.Printf("\n%d connection(s)\n\n", len(conns))
}

// printConnectionDetail prints detailed info for a single connection.
func (c *CLI) printConnectionDetail(info network.ConnectionInfo) {
	fmt.Printf("\n  Server ID:     %s\n", info.ServerID)
	fmt.Printf("  Name:          %s\n", info.ServerName)
	fmt.Printf("  Type:          %s\n", info.ServerType)
	fmt.Printf("  Status:        %s\n", info.Status)
	fmt.Printf("  Mode:          %s\n", info.Mode)
	fmt.Printf("  Remote:        %s\n", info.RemoteAddr)
	if !info.ConnectedAt.IsZero() {
		fmt.Printf("  Connected:     %s (%s ago)\n",
			info.ConnectedAt.Format(time.RFC3339),
			time.Since(info.ConnectedAt).Round(time.Second))
	}
	fmt.Printf("  Capabilities:  %s\n", strings.Join(info.Capabilities, ", "))
	fmt.Printf("  Queue Depth:   %d\n", info.QueueDepth)
	fmt.Printf("  Pending Reqs:  %d\n", info.Pending)
	fmt.Printf("  Avg RTT:       %s\n", info.Heartbeat.AverageRTT.Round(time.Millisecond))
	fmt.Printf("  Missed Beats:  %d\n", info.Heartbeat.MissedBeats)
	fmt.Printf("  Reconnect:     enabled=%v attempts=%d/%d\n",
		!info.Reconnect.Disabled, info.Reconnect.CurrentAttempts, info.Reconnect.TotalAttempts)
	fmt.Println()
}

func (c *CLI) cmdSend(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: send <serverId> <op> [key=value ...]")
	}

	data := parseKeyValues(args[2:])
	timeout := time.Duration(c.cfg.GetApplicationData().Connection.RequestTimeoutMs) * time.Millisecond

	result, err := c.manager.SendCommand(args[0], args[1], data, timeout)
	if err != nil {
		return err
	}

	if !result.Success {
		fmt.Printf("Request failed: %s\n", result.Error)
		return nil
	}
	fmt.Printf("OK: %v\n", result.Data)
	return nil
}

func (c *CLI) cmdMessage(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: message <serverId> <eventType> [key=value ...]")
	}

	serverID, eventType := args[0], args[1]
	conn, ok := c.manager.Registry().Get(serverID)
	if !ok {
		return fmt.Errorf("unknown server %q", serverID)
	}

	if err := conn.EmitEvent(eventType, parseKeyValues(args[2:])); err != nil {
		return err
	}
	fmt.Printf("Event %s sent to %s\n", eventType, serverID)
	return nil
}

func (c *CLI) cmdBroadcast(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: broadcast <eventType> [key=value ...]")
	}
	c.manager.BroadcastEvent(args[0], parseKeyValues(args[1:]))
	fmt.Printf("Broadcast %s offered to all agents\n", args[0])
	return nil
}

func (c *CLI) cmdDisconnect(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: disconnect <serverId>")
	}
	if err := c.manager.Disconnect(args[0], "disconnected by operator", true); err != nil {
		return err
	}
	fmt.Printf("Disconnected %s (reconnect allowed)\n", args[0])
	return nil
}

func (c *CLI) cmdRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: remove <serverId>")
	}
	if err := c.manager.Disconnect(args[0], "removed by operator", false); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func (c *CLI) cmdEnable(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: enable <serverId>")
	}
	if err := c.manager.EnableReconnection(args[0]); err != nil {
		return err
	}
	fmt.Printf("Reconnection enabled for %s\n", args[0])
	return nil
}

func (c *CLI) cmdDisable(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: disable <serverId>")
	}
	if err := c.manager.DisableReconnection(args[0]); err != nil {
		return err
	}
	fmt.Printf("Reconnection disabled for %s\n", args[0])
	return nil
}

func (c *CLI) cmdMode(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: mode <serverId> <direct|proxy>")
	}
	if err := c.manager.SwitchConnectionMode(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Mode for %s set to %s\n", args[0], args[1])
	return nil
}

func (c *CLI) cmdTokens() error {
	tokens, err := c.store.ListTokens()
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Server ID", "Created", "Last Seen"})
	tw.SetBorder(true)

	for _, t := range tokens {
		lastSeen := "-"
		if !t.LastSeen.IsZero() {
			lastSeen = t.LastSeen.Format(time.RFC3339)
		}
		tw.Append([]string{t.ServerID, t.CreatedAt.Format(time.RFC3339), lastSeen})
	}

	tw.Render()
	fmt.Printf("\n%d token(s)\n\n", len(tokens))
	return nil
}

func (c *CLI) cmdToken(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: token <add|revoke> <serverId>")
	}

	switch strings.ToLower(args[0]) {
	case "add":
		token, err := c.store.ProvisionToken(args[1], "")
		if err != nil {
			return err
		}
		fmt.Printf("Token for %s (shown once):\n  %s\n", args[1], token)
		return nil
	case "revoke":
		if err := c.store.RevokeToken(args[1]); err != nil {
			return err
		}
		fmt.Printf("Token for %s revoked\n", args[1])
		return nil
	default:
		return fmt.Errorf("usage: token <add|revoke> <serverId>")
	}
}

func (c *CLI) cmdAudit(args []string) error {
	serverID := ""
	if len(args) > 0 {
		serverID = args[0]
	}

	entries, err := c.store.RecentAudit(serverID, 25)
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Time", "Server ID", "Action", "Detail"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		tw.Append([]string{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.ServerID,
			e.Action,
			e.Detail,
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// parseKeyValues turns "key=value" args into a data map. Values that
// parse as numbers or booleans are typed accordingly.
func parseKeyValues(args []string) map[string]any {
	if len(args) == 0 {
		return nil
	}
	data := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			data[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			data[key] = b
		} else {
			data[key] = value
		}
	}
	return data
}

// lineReader is a simple cross-platform line reader.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}
