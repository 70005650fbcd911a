package server

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crystal-mush/mudtelnet/pkg/events"
	"github.com/crystal-mush/mudtelnet/pkg/telnet"
	"github.com/dustin/go-humanize"
)

// CommandHandler is the signature for command implementations.
type CommandHandler func(s *Server, d *Descriptor, args string)

// Command represents a registered command.
type Command struct {
	Name    string
	Help    string
	Handler CommandHandler
	// NoPrompt suppresses the prompt normally sent after the command.
	NoPrompt bool
}

// InitCommands registers all available commands.
func InitCommands() map[string]*Command {
	cmds := make(map[string]*Command)

	register := func(name, help string, handler CommandHandler) {
		cmds[strings.ToLower(name)] = &Command{Name: name, Help: help, Handler: handler}
	}

	register("who", "list connected clients", cmdWho)
	register("caps", "show what the server knows about your client", cmdCaps)
	register("history", "show recently disconnected clients", cmdHistory)
	register("mssp", "resend the MSSP table", cmdMSSP)
	register("stats", "show connection totals", cmdStats)
	register("shout", "send a message to every other connection", cmdShout)
	register("help", "this list, or help <topic>", cmdHelp)
	cmds["quit"] = &Command{Name: "quit", Help: "disconnect", Handler: cmdQuit, NoPrompt: true}

	return cmds
}

// DispatchCommand parses one line of player input and runs it.
func DispatchCommand(s *Server, d *Descriptor, input string) {
	cfg := s.Config()
	input = strings.TrimSpace(input)
	if input == "" {
		d.SendPrompt(cfg.Prompt)
		return
	}

	var cmdName, args string
	if idx := strings.IndexByte(input, ' '); idx >= 0 {
		cmdName = input[:idx]
		args = strings.TrimSpace(input[idx+1:])
	} else {
		cmdName = input
	}

	cmd, ok := s.Commands[strings.ToLower(cmdName)]
	if !ok {
		d.Send("You said: " + input)
		d.SendPrompt(cfg.Prompt)
		return
	}

	cmd.Handler(s, d, args)
	if !cmd.NoPrompt {
		d.SendPrompt(cfg.Prompt)
	}
}

func cmdWho(s *Server, d *Descriptor, _ string) {
	descs := s.Conns.AllDescriptors()
	d.Send(fmt.Sprintf("%-4s %-16s %-10s %-9s %-8s %s", "ID", "Client", "Color", "Transport", "On For", "Idle"))
	for _, other := range descs {
		caps := other.Snapshot()
		_, _, _, idle := other.Stats()
		marker := " "
		if other == d {
			marker = "*"
		}
		d.Send(fmt.Sprintf("%-4s %-16s %-10s %-9s %-8s %s",
			fmt.Sprintf("%d%s", other.ID, marker),
			truncate(caps.ClientName, 16),
			caps.ColorType,
			other.Transport,
			FormatConnTime(time.Since(other.ConnTime)),
			idleString(idle)))
	}
	d.Send(fmt.Sprintf("%d %s connected.", len(descs), plural(len(descs), "client", "clients")))
}

func cmdCaps(_ *Server, d *Descriptor, _ string) {
	c := d.Snapshot()
	d.Send(fmt.Sprintf("Client:   %s %s", c.ClientName, c.ClientVersion))
	d.Send(fmt.Sprintf("Host:     %s (%s)", c.HostName, c.HostIP))
	d.Send(fmt.Sprintf("Screen:   %dx%d", c.Width, c.Height))
	d.Send(fmt.Sprintf("Color:    %s", c.ColorType))

	flags := []struct {
		name string
		on   bool
	}{
		{"UTF-8", c.UTF8}, {"VT100", c.VT100}, {"ScreenReader", c.ScreenReader},
		{"Mouse", c.MouseTracking}, {"OSCPalette", c.OSCColorPalette}, {"Proxy", c.Proxy},
		{"MNES", c.MNES}, {"MSLP", c.MSLP}, {"NAWS", c.NAWS}, {"MTTS", c.MTTS},
		{"GMCP", c.GMCP}, {"MSDP", c.MSDP}, {"MSSP", c.MSSP}, {"SGA", c.SuppressGA},
	}
	var on []string
	for _, f := range flags {
		if f.on {
			on = append(on, f.name)
		}
	}
	if len(on) == 0 {
		on = append(on, "none")
	}
	d.Send("Flags:    " + strings.Join(on, " "))

	if pkgs := d.supportedPackages(); len(pkgs) > 0 {
		d.Send("GMCP:     " + strings.Join(pkgs, ", "))
	}
	sent, recv, cmds, _ := d.Stats()
	d.Send(fmt.Sprintf("Traffic:  %s in, %s out, %d %s",
		humanize.Bytes(uint64(recv)), humanize.Bytes(uint64(sent)), cmds, plural(cmds, "command", "commands")))
}

func cmdHistory(s *Server, d *Descriptor, _ string) {
	if s.Store == nil {
		d.Send("History is not being recorded.")
		return
	}
	recs, err := s.Store.Recent(s.Config().HistorySize)
	if err != nil {
		d.log.Warn("history lookup failed", "err", err)
		d.Send("History is unavailable right now.")
		return
	}
	if len(recs) == 0 {
		d.Send("No clients have disconnected yet.")
		return
	}
	for _, rec := range recs {
		d.Send(fmt.Sprintf("%-16s %-10s %-9s %-14s %s",
			truncate(rec.Caps.ClientName, 16),
			rec.Caps.ColorType,
			rec.Transport,
			humanize.Time(rec.Disconnected),
			humanize.Bytes(uint64(rec.BytesIn+rec.BytesOut))))
	}
	if total, err := s.Store.Count(); err == nil {
		d.Send(fmt.Sprintf("%s %s recorded.", humanize.Comma(int64(total)), plural(total, "session", "sessions")))
	}
}

func cmdMSSP(s *Server, d *Descriptor, _ string) {
	if d.Snapshot().MSSP {
		d.with(func(sess *telnet.Session) { s.sendMSSP(sess) })
		d.Send("MSSP table sent.")
		return
	}
	for _, v := range s.msspVars() {
		d.Send(fmt.Sprintf("%-16s %s", v.Name, v.Value))
	}
}

func cmdStats(s *Server, d *Descriptor, _ string) {
	st := s.ConnectionStats()
	colors := st["colors"].(map[string]int)
	d.Send(fmt.Sprintf("Started %s, %d open (%d tcp, %d websocket).",
		humanize.Time(s.startTime), st["total"], st["tcp"], st["websocket"]))
	d.Send(fmt.Sprintf("Traffic: %s in, %s out, %d commands.",
		humanize.Bytes(uint64(st["bytes_recv"].(int64))),
		humanize.Bytes(uint64(st["bytes_sent"].(int64))),
		st["commands"]))
	d.Send(fmt.Sprintf("Colour: %d truecolor, %d xterm256, %d ansi, %d none.",
		colors["truecolor"], colors["xterm256"], colors["ansi"], colors["none"]))
	d.Send(fmt.Sprintf("Protocols: %d GMCP, %d MSDP, %d MTTS.", st["gmcp"], st["msdp"], st["mtts"]))
}

func cmdShout(s *Server, d *Descriptor, args string) {
	if args == "" {
		d.Send("Shout what?")
		return
	}
	s.Bus.Broadcast(events.Event{
		Type:      events.EvText,
		Source:    d.ID,
		Transport: d.Transport.String(),
		Addr:      d.Addr,
		Text:      fmt.Sprintf("[%d] shouts: %s", d.ID, args),
	}, d.ID)
	d.Send("You shout: " + args)
}

func cmdHelp(s *Server, d *Descriptor, args string) {
	if args != "" {
		hf := s.help.Load()
		if hf == nil {
			d.Send(fmt.Sprintf("No help available for '%s'.", args))
			return
		}
		text := hf.Lookup(args)
		if text == "" {
			d.Send(fmt.Sprintf("No entry for '%s'.", args))
			return
		}
		for _, line := range strings.Split(text, "\n") {
			d.Send(line)
		}
		return
	}

	names := make([]string, 0, len(s.Commands))
	for name := range s.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	d.Send("Commands:")
	for _, name := range names {
		d.Send(fmt.Sprintf("  %-8s %s", name, s.Commands[name].Help))
	}
	d.Send("Anything else is echoed back.")
}

func cmdQuit(_ *Server, d *Descriptor, _ string) {
	d.Send("Goodbye!")
	d.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func idleString(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
