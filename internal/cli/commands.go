// Package cli implements the interactive console of a running host.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/netgame"
	"github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/util"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

const commandTimeout = 5 * time.Second

// CLI reads commands from in and prints results to out.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	host     *netgame.Host
	lag      *netgame.LagMonitor
	in       io.Reader
	out      io.Writer
	logger   zerolog.Logger
}

// NewCLI creates a console for host. lag may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, host *netgame.Host, lag *netgame.LagMonitor, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		host:     host,
		lag:      lag,
		in:       in,
		out:      out,
		logger:   util.ComponentLogger("cli"),
	}
}

// Start runs the read loop until ctx ends or input closes.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nticlink console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "ticlink> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "nodes":
		if cmd == "players" {
			c.printPlayers()
		} else {
			c.printNodes()
		}
	case "lag":
		return c.printLag()
	case "kick", "ban":
		return c.cmdKick(ctx, cmd == "ban", args)
	case "unban":
		return c.cmdUnban(ctx, args)
	case "bans":
		return c.cmdBans()
	case "admin":
		return c.cmdAdmin(ctx, args)
	case "say":
		return c.cmdSay(ctx, args)
	case "name":
		return c.cmdName(ctx, args)
	case "connect":
		return c.cmdConnect(ctx, args)
	case "disconnect":
		return c.do(ctx, func(h *netgame.Host) error {
			h.Disconnect()
			return nil
		})
	case "login":
		return c.cmdLogin(ctx, args)
	case "password":
		return c.cmdPassword(ctx, args)
	case "probe":
		return c.cmdProbe(ctx, args)
	case "setconfig":
		return c.cmdSetConfig(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down...")
		c.eventBus.Emit(ctx, events.New(events.EventShutdown, "cli", map[string]string{"reason": "console quit"}))
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) do(ctx context.Context, fn func(*netgame.Host) error) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return c.host.Do(ctx, fn)
}

func (c *CLI) printHelp() {
	fmt.Fprint(c.out, `
  status                 Show game and connection state
  players                List players
  nodes                  List connected nodes (server)
  lag                    Show ping and desync history
  kick <slot> [reason]   Kick a player
  ban <slot> [reason]    Kick a player and ban the address (server)
  unban <address>        Lift a ban (server)
  bans                   List bans (server)
  admin <slot> on|off    Grant or revoke admin rights (server)
  say <message>          Send a chat line
  name <name>            Rename the local player
  connect <host:port>    Join a server (client)
  disconnect             Leave the server (client)
  login <password>       Request admin rights (client)
  password <password>    Set the admin password (server)
  probe <host:port>      Ask a server for its info
  setconfig <key> <val>  Update a net_data setting
  quit                   Shut down
`)
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	snap := c.host.Status().Snapshot()
	fmt.Fprintf(c.out, "\n  Role:        %s\n", snap.Role)
	fmt.Fprintf(c.out, "  State:       %s\n", snap.State)
	fmt.Fprintf(c.out, "  Map:         %s\n", snap.MapName)
	fmt.Fprintf(c.out, "  Game tic:    %d (needed %d, made %d)\n", snap.GameTic, snap.NeededTic, snap.MakeTic)
	fmt.Fprintf(c.out, "  Players:     %d\n", len(snap.Players))
	fmt.Fprintf(c.out, "  Nodes:       %d\n", len(snap.Nodes))
	fmt.Fprintf(c.out, "  Resynching:  %v\n", snap.Resynching)
	fmt.Fprintf(c.out, "  Uptime:      %s\n", time.Since(snap.StartedAt).Round(time.Second))
	if snap.LastMessage != "" {
		fmt.Fprintf(c.out, "  Last:        %s\n", snap.LastMessage)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printPlayers() {
	tw := c.table([]string{"Slot", "Name", "Node", "Ping", "Admin", "Detached", "Time"})
	for _, p := range c.host.Status().Snapshot().Players {
		tw.Append([]string{
			strconv.Itoa(p.Slot),
			p.Name,
			strconv.Itoa(p.Node),
			fmt.Sprintf("%dms", p.Ping),
			yesNo(p.Admin),
			yesNo(p.Detached),
			(time.Duration(p.Seconds) * time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printNodes() {
	tw := c.table([]string{"Node", "Address", "Tic", "Lag", "Resync", "Players"})
	for _, n := range c.host.Status().Snapshot().Nodes {
		players := lo.Map(n.Players, func(p int, _ int) string { return strconv.Itoa(p) })
		tw.Append([]string{
			strconv.Itoa(n.Node),
			n.Address,
			strconv.FormatUint(uint64(n.Tic), 10),
			strconv.FormatUint(uint64(n.Lag), 10),
			n.Resync,
			strings.Join(players, ","),
		})
	}
	tw.Render()
}

func (c *CLI) printLag() error {
	if c.lag == nil {
		return fmt.Errorf("lag monitor disabled")
	}
	players := lo.Values(c.lag.Players())
	sort.Slice(players, func(i, j int) bool { return players[i].Player < players[j].Player })
	tw := c.table([]string{"Player", "Samples", "Last", "Avg", "Max"})
	for _, p := range players {
		tw.Append([]string{
			strconv.Itoa(p.Player),
			strconv.Itoa(p.Samples),
			fmt.Sprintf("%dms", p.Last),
			fmt.Sprintf("%.0fms", p.Avg),
			fmt.Sprintf("%dms", p.Max),
		})
	}
	tw.Render()
	for _, a := range c.lag.CheckThresholds() {
		fmt.Fprintf(c.out, "  [%s] %s\n", a.Level, a.Message)
	}
	return nil
}

func parseSlot(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("player slot required")
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		return 0, fmt.Errorf("invalid slot: %s", args[0])
	}
	return slot, nil
}

func (c *CLI) cmdKick(ctx context.Context, ban bool, args []string) error {
	slot, err := parseSlot(args)
	if err != nil {
		return err
	}
	reason := strings.Join(args[1:], " ")
	err = c.do(ctx, func(h *netgame.Host) error {
		if ban {
			return h.Ban(slot, reason)
		}
		return h.Kick(slot, xcmd.KickCustomKick, reason)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Kick sent for slot %d\n", slot)
	return nil
}

func (c *CLI) cmdUnban(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: unban <address>")
	}
	var removed bool
	err := c.do(ctx, func(h *netgame.Host) error {
		var err error
		removed, err = h.Unban(args[0])
		return err
	})
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s is not banned", args[0])
	}
	fmt.Fprintf(c.out, "Unbanned %s\n", args[0])
	return nil
}

func (c *CLI) cmdBans() error {
	if !c.host.Server() {
		return fmt.Errorf("only the server keeps a ban list")
	}
	bans, err := c.host.Session().Bans().ListBans()
	if err != nil {
		return err
	}
	tw := c.table([]string{"Address", "Name", "Reason", "Since"})
	for _, b := range bans {
		tw.Append([]string{b.Address, b.Name, b.Reason, b.Created.Format(time.RFC3339)})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdAdmin(ctx context.Context, args []string) error {
	slot, err := parseSlot(args)
	if err != nil {
		return err
	}
	if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
		return fmt.Errorf("usage: admin <slot> on|off")
	}
	granted := args[1] == "on"
	if err := c.do(ctx, func(h *netgame.Host) error { return h.SetAdmin(slot, granted) }); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Admin %s for slot %d\n", args[1], slot)
	return nil
}

func (c *CLI) cmdSay(ctx context.Context, args []string) error {
	msg := strings.Join(args, " ")
	return c.do(ctx, func(h *netgame.Host) error { return h.Say(msg) })
}

func (c *CLI) cmdName(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: name <name>")
	}
	name := strings.Join(args, " ")
	return c.do(ctx, func(h *netgame.Host) error { return h.Rename(name) })
}

func (c *CLI) cmdConnect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: connect <host:port>")
	}
	addr := args[0]
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, config.DefaultGamePort)
	}
	if err := c.do(ctx, func(h *netgame.Host) error { return h.Connect(addr) }); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Connecting to %s\n", addr)
	return nil
}

func (c *CLI) cmdLogin(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: login <password>")
	}
	password := strings.Join(args, " ")
	return c.do(ctx, func(h *netgame.Host) error { return h.Login(password) })
}

func (c *CLI) cmdPassword(ctx context.Context, args []string) error {
	c.cfg.SetAdminPassword(strings.Join(args, " "))
	if err := c.cfg.Save(); err != nil {
		return err
	}
	c.eventBus.Emit(ctx, events.New(events.EventConfigChanged, "cli", events.ConfigChangedPayload{
		Section: "net_data",
		Key:     "admin_password_hash",
	}))
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Admin password cleared")
	} else {
		fmt.Fprintln(c.out, "Admin password set")
	}
	return nil
}

func (c *CLI) cmdProbe(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: probe <host:port>")
	}
	info, err := network.Probe(ctx, args[0], 3*time.Second)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n  Name:     %s\n", info.ServerName)
	fmt.Fprintf(c.out, "  Game:     %s %d.%d\n", info.Application, info.Version, info.Subversion)
	fmt.Fprintf(c.out, "  Map:      %s\n", info.MapName)
	fmt.Fprintf(c.out, "  Players:  %d/%d\n", info.NumPlayers, info.MaxPlayers)
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdSetConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}
	key := args[0]
	if key == "admin_password_hash" {
		return fmt.Errorf("use 'password' to change the admin password")
	}
	raw := strings.Join(args[1:], " ")
	value := parseValue(raw)

	if err := c.cfg.UpdateNetField(key, value); err != nil {
		return err
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}
	c.eventBus.Emit(ctx, events.New(events.EventConfigChanged, "cli", events.ConfigChangedPayload{
		Section: "net_data",
		Key:     key,
		Value:   value,
	}))
	c.logger.Info().Str("key", key).Str("value", raw).Msg("config updated from console")
	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}

// parseValue guesses the JSON type of a console argument.
func parseValue(raw string) interface{} {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
