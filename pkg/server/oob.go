package server

import (
	"strconv"
	"strings"

	"github.com/crystal-mush/mudtelnet/pkg/events"
	"github.com/crystal-mush/mudtelnet/pkg/oob"
	"github.com/crystal-mush/mudtelnet/pkg/telnet"
)

// handleGMCP processes the Core package; other packages are only published
// on the bus.
func (s *Server) handleGMCP(d *Descriptor, data []byte) {
	pkg, body := oob.ParseGMCPMessage(data)

	switch strings.ToLower(pkg) {
	case "core.hello":
		hello, err := oob.ParseHello(body)
		if err != nil {
			d.log.Debug("bad Core.Hello", "err", err)
			return
		}
		d.mu.Lock()
		changed := false
		if d.Caps.ClientName == telnet.Unknown && hello.Client != "" {
			d.Caps.ClientName = strings.ToUpper(hello.Client)
			changed = true
		}
		if d.Caps.ClientVersion == telnet.Unknown && hello.Version != "" {
			d.Caps.ClientVersion = hello.Version
			changed = true
		}
		if changed {
			d.queueLocked(events.EvCapabilities, "", capsData(d.Caps))
		}
		evs := d.queued
		d.queued = nil
		d.mu.Unlock()
		d.log.Debug("gmcp hello", "client", hello.Client, "version", hello.Version)
		for _, ev := range evs {
			s.Bus.Emit(ev)
		}
		if changed {
			s.reportChanges(d)
		}

	case "core.supports.set", "core.supports.add", "core.supports.remove":
		d.mu.Lock()
		var err error
		switch strings.ToLower(pkg) {
		case "core.supports.set":
			err = d.Supports.Set(body)
		case "core.supports.add":
			err = d.Supports.Add(body)
		default:
			err = d.Supports.Remove(body)
		}
		d.mu.Unlock()
		if err != nil {
			d.log.Debug("bad Core.Supports", "err", err)
		}

	case "core.ping":
		d.SendGMCP("Core.Ping", nil)
	}
}

// msdpCommands are the MSDP commands this server understands.
var msdpCommands = []string{"LIST", "REPORT", "UNREPORT", "SEND", "RESET"}

// msdpVariables are the variables a client may SEND or REPORT.
var msdpVariables = []string{
	"SERVER_ID", "SERVER_TIME", "CLIENT_ID", "CLIENT_VERSION",
	"ANSI_COLORS", "XTERM_256_COLORS", "UTF_8", "SCREEN_WIDTH", "SCREEN_HEIGHT",
}

// msdpValue returns the current value of a variable, or false if unknown.
func (s *Server) msdpValue(caps *telnet.Capabilities, name string) (string, bool) {
	flag := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	switch name {
	case "SERVER_ID":
		return s.Config().Name, true
	case "SERVER_TIME":
		return strconv.FormatInt(s.startTime.Unix(), 10), true
	case "CLIENT_ID":
		return caps.ClientName, true
	case "CLIENT_VERSION":
		return caps.ClientVersion, true
	case "ANSI_COLORS":
		return flag(caps.ColorType >= telnet.StandardColor), true
	case "XTERM_256_COLORS":
		return flag(caps.ColorType >= telnet.XtermColor), true
	case "UTF_8":
		return flag(caps.UTF8), true
	case "SCREEN_WIDTH":
		return strconv.Itoa(caps.Width), true
	case "SCREEN_HEIGHT":
		return strconv.Itoa(caps.Height), true
	}
	return "", false
}

// handleMSDP answers LIST, SEND, REPORT, UNREPORT and RESET requests.
func (s *Server) handleMSDP(d *Descriptor, data []byte) {
	caps := d.Snapshot()
	var reply []oob.Variable

	for _, v := range oob.ParseMSDP(data) {
		switch strings.ToUpper(v.Name) {
		case "LIST":
			for _, what := range v.Values {
				switch strings.ToUpper(what) {
				case "COMMANDS":
					reply = append(reply, oob.Variable{Name: "COMMANDS", Values: msdpCommands})
				case "REPORTABLE_VARIABLES", "SENDABLE_VARIABLES":
					reply = append(reply, oob.Variable{Name: strings.ToUpper(what), Values: msdpVariables})
				case "REPORTED_VARIABLES":
					reply = append(reply, oob.Variable{Name: "REPORTED_VARIABLES", Values: d.reported()})
				}
			}
		case "SEND", "REPORT":
			for _, name := range v.Values {
				name = strings.ToUpper(name)
				val, ok := s.msdpValue(&caps, name)
				if !ok {
					continue
				}
				if strings.EqualFold(v.Name, "REPORT") {
					d.setReported(name, true)
				}
				reply = append(reply, oob.Variable{Name: name, Values: []string{val}})
			}
		case "UNREPORT":
			for _, name := range v.Values {
				d.setReported(strings.ToUpper(name), false)
			}
		case "RESET":
			d.resetReported()
		}
	}

	if len(reply) > 0 {
		d.SendMSDP(reply...)
	}
}

// reportChanges sends the current value of every REPORTed variable.
// Called after the capability record changes.
func (s *Server) reportChanges(d *Descriptor) {
	names := d.reported()
	if len(names) == 0 {
		return
	}
	caps := d.Snapshot()
	vars := make([]oob.Variable, 0, len(names))
	for _, name := range names {
		if val, ok := s.msdpValue(&caps, name); ok {
			vars = append(vars, oob.Variable{Name: name, Values: []string{val}})
		}
	}
	d.SendMSDP(vars...)
}
