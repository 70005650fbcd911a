package server

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/mudtelnet/pkg/capstore"
	"github.com/crystal-mush/mudtelnet/pkg/events"
	"github.com/crystal-mush/mudtelnet/pkg/oob"
	"github.com/crystal-mush/mudtelnet/pkg/telnet"
)

const waitTimeout = 2 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate func(*Config), opts ...Option) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "TestMUD"
	cfg.Store.Path = ""
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s := NewServer(cfg, opts...)
	t.Cleanup(s.Conns.CloseAll)
	return s
}

// testClient is the player end of a net.Pipe whose other end is served by
// handleConnection.
type testClient struct {
	t    *testing.T
	conn net.Conn
	mu   sync.Mutex
	buf  []byte
	done chan struct{}
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	srvSide, cliSide := net.Pipe()
	go s.handleConnection(srvSide)

	c := &testClient{t: t, conn: cliSide, done: make(chan struct{})}
	go c.readLoop()
	t.Cleanup(func() { cliSide.Close() })
	return c
}

func (c *testClient) readLoop() {
	defer close(c.done)
	tmp := make([]byte, 1024)
	for {
		n, err := c.conn.Read(tmp)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, tmp[:n]...)
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (c *testClient) received() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf)
}

func (c *testClient) send(p []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(p); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) line(s string) {
	c.t.Helper()
	c.send([]byte(s + "\r\n"))
}

func (c *testClient) waitFor(want []byte) {
	c.t.Helper()
	waitUntil(c.t, func() bool { return bytes.Contains(c.received(), want) },
		"output containing %q", want)
}

func (c *testClient) waitText(want string) {
	c.t.Helper()
	c.waitFor([]byte(want))
}

func (c *testClient) waitClosed() {
	c.t.Helper()
	select {
	case <-c.done:
	case <-time.After(waitTimeout):
		c.t.Fatal("connection was not closed")
	}
}

func waitUntil(t *testing.T, cond func() bool, what string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for "+what, args...)
}

// onlyDescriptor returns the single open descriptor.
func onlyDescriptor(t *testing.T, s *Server) *Descriptor {
	t.Helper()
	waitUntil(t, func() bool { return s.Conns.Count() == 1 }, "one connection")
	return s.Conns.AllDescriptors()[0]
}

// eventLog records events from the bus.
type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
}

func (l *eventLog) Receive(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
}

func (l *eventLog) Closed() bool { return false }

func (l *eventLog) count(tt events.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.evs {
		if ev.Type == tt {
			n++
		}
	}
	return n
}

func (l *eventLog) last(tt events.EventType) (events.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.evs) - 1; i >= 0; i-- {
		if l.evs[i].Type == tt {
			return l.evs[i], true
		}
	}
	return events.Event{}, false
}

func neg(verb, opt byte) []byte {
	return telnet.Negotiation(verb, opt).Bytes()
}

func sb(opt byte, payload []byte) []byte {
	return telnet.Subnegotiation(opt, payload).Bytes()
}

func TestOpeningSequence(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	var opening []byte
	opening = append(opening, neg(telnet.WILL, telnet.MSSP)...)
	opening = append(opening, neg(telnet.WILL, telnet.SGA)...)
	opening = append(opening, neg(telnet.WILL, telnet.MSDP)...)
	opening = append(opening, neg(telnet.WILL, telnet.GMCP)...)
	opening = append(opening, neg(telnet.DO, telnet.NAWS)...)
	opening = append(opening, neg(telnet.DO, telnet.MTTS)...)

	c.waitFor([]byte{telnet.IAC, telnet.GA})
	got := c.received()
	if !bytes.HasPrefix(got, opening) {
		t.Fatalf("opening = %v, want prefix %v", got, opening)
	}
	rest := string(got[len(opening):])
	want := "Welcome to TestMUD.\r\nType 'help' for a list of commands.\r\n> "
	if !bytes.HasPrefix([]byte(rest), []byte(want)) {
		t.Errorf("welcome = %q, want %q", rest, want)
	}
}

func TestEchoAndQuit(t *testing.T) {
	log := &eventLog{}
	s := newTestServer(t, nil)
	s.Bus.SubscribeGlobal(log)
	c := dial(t, s)

	c.line("hello there")
	c.waitText("You said: hello there\r\n")

	c.line("quit")
	c.waitText("Goodbye!\r\n")
	c.waitClosed()
	waitUntil(t, func() bool { return s.Conns.Count() == 0 }, "connection removal")
	waitUntil(t, func() bool { return log.count(events.EvDisconnect) == 1 }, "disconnect event")

	if n := log.count(events.EvConnect); n != 1 {
		t.Errorf("connect events = %d", n)
	}
	if n := log.count(events.EvCommand); n != 2 {
		t.Errorf("command events = %d, want 2", n)
	}
}

func TestSplitLineAcrossReads(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	c.send([]byte("loo"))
	c.send([]byte("k\r"))
	c.send([]byte("\n"))
	c.waitText("You said: look\r\n")
}

func TestMTTSUpdatesCapabilities(t *testing.T) {
	log := &eventLog{}
	s := newTestServer(t, nil)
	s.Bus.SubscribeGlobal(log)
	c := dial(t, s)
	d := onlyDescriptor(t, s)

	c.send(neg(telnet.WILL, telnet.MTTS))
	c.waitFor(sb(telnet.MTTS, []byte{1}))
	c.send(sb(telnet.MTTS, append([]byte{0}, "Mudlet 4.10"...)))

	waitUntil(t, func() bool { return d.Snapshot().ClientName == "MUDLET" }, "client name")
	caps := d.Snapshot()
	if caps.ClientVersion != "4.10" || caps.ColorType != telnet.XtermColor {
		t.Errorf("caps = %+v", caps)
	}
	waitUntil(t, func() bool {
		ev, ok := log.last(events.EvCapabilities)
		return ok && ev.Data["client"] == "MUDLET"
	}, "capabilities event")
}

func TestNAWS(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	d := onlyDescriptor(t, s)

	c.send(neg(telnet.WILL, telnet.NAWS))
	c.send(sb(telnet.NAWS, []byte{0, 120, 0, 50}))
	waitUntil(t, func() bool { return d.Snapshot().Width == 120 }, "width")
	if h := d.Snapshot().Height; h != 50 {
		t.Errorf("height = %d", h)
	}
}

func TestMSSPOnAgreement(t *testing.T) {
	tests := []struct {
		format string
		want   []byte
	}{
		{MSSPReference, []byte("NAMETestMUD\r\nPLAYERS1")},
		{MSSPStandard, []byte{oob.MSSPVar, 'N', 'A', 'M', 'E', oob.MSSPVal, 'T', 'e', 's', 't', 'M', 'U', 'D'}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			s := newTestServer(t, func(c *Config) { c.MSSPFormat = tt.format })
			c := dial(t, s)
			c.send(neg(telnet.DO, telnet.MSSP))
			c.waitFor(tt.want)
		})
	}
}

func TestUnknownOptionRefused(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	c.send(neg(telnet.WILL, 99))
	c.waitFor(neg(telnet.DONT, 99))
}

func TestGMCPHelloAndPing(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	d := onlyDescriptor(t, s)

	c.send(neg(telnet.DO, telnet.GMCP))
	c.send(sb(telnet.GMCP, []byte(`Core.Hello {"client":"Mudlet","version":"4.17.2"}`)))
	c.send(sb(telnet.GMCP, []byte(`Core.Supports.Set ["Char 1", "Room 1"]`)))
	c.send(sb(telnet.GMCP, []byte("Core.Ping")))

	c.waitFor(sb(telnet.GMCP, []byte("Core.Ping")))
	caps := d.Snapshot()
	if caps.ClientName != "MUDLET" || caps.ClientVersion != "4.17.2" {
		t.Errorf("client = %q %q", caps.ClientName, caps.ClientVersion)
	}
	if pkgs := d.supportedPackages(); len(pkgs) != 2 {
		t.Errorf("packages = %v", pkgs)
	}
}

func TestGMCPHelloKeepsMTTSName(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	d := onlyDescriptor(t, s)

	c.send(neg(telnet.WILL, telnet.MTTS))
	c.send(sb(telnet.MTTS, append([]byte{0}, "TinTin++"...)))
	c.send(neg(telnet.DO, telnet.GMCP))
	c.send(sb(telnet.GMCP, []byte(`Core.Hello {"client":"Other"}`)))
	c.send(sb(telnet.GMCP, []byte("Core.Ping")))
	c.waitFor(sb(telnet.GMCP, []byte("Core.Ping")))

	if name := d.Snapshot().ClientName; name != "TINTIN++" {
		t.Errorf("ClientName = %q", name)
	}
}

func TestMSDPList(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	c.send(neg(telnet.DO, telnet.MSDP))
	c.send(sb(telnet.MSDP, oob.EncodeMSDP(oob.Variable{Name: "LIST", Values: []string{"COMMANDS"}})))
	c.waitFor(sb(telnet.MSDP, oob.EncodeMSDP(oob.Variable{Name: "COMMANDS", Values: msdpCommands})))

	c.send(sb(telnet.MSDP, oob.EncodeMSDP(oob.Variable{Name: "SEND", Values: []string{"SERVER_ID"}})))
	c.waitFor(sb(telnet.MSDP, oob.EncodeMSDP(oob.Variable{Name: "SERVER_ID", Values: []string{"TestMUD"}})))
}

func TestMSDPReport(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	d := onlyDescriptor(t, s)

	c.send(neg(telnet.DO, telnet.MSDP))
	c.send(sb(telnet.MSDP, oob.EncodeMSDP(oob.Variable{Name: "REPORT", Values: []string{"SCREEN_WIDTH"}})))
	c.waitFor(sb(telnet.MSDP, oob.EncodeMSDP(oob.Variable{Name: "SCREEN_WIDTH", Values: []string{"78"}})))
	if got := d.reported(); len(got) != 1 || got[0] != "SCREEN_WIDTH" {
		t.Fatalf("reported = %v", got)
	}

	c.send(neg(telnet.WILL, telnet.NAWS))
	c.send(sb(telnet.NAWS, []byte{0, 100, 0, 30}))
	c.waitFor(sb(telnet.MSDP, oob.EncodeMSDP(oob.Variable{Name: "SCREEN_WIDTH", Values: []string{"100"}})))

	c.send(sb(telnet.MSDP, oob.EncodeMSDP(oob.Variable{Name: "UNREPORT", Values: []string{"SCREEN_WIDTH"}})))
	waitUntil(t, func() bool { return len(d.reported()) == 0 }, "unreport")
}

func TestIdleTimeout(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.IdleTimeout = 50 * time.Millisecond })
	c := dial(t, s)
	c.waitText("idle too long")
	c.waitClosed()
}

func TestShout(t *testing.T) {
	s := newTestServer(t, nil)
	a := dial(t, s)
	b := dial(t, s)
	waitUntil(t, func() bool { return s.Conns.Count() == 2 }, "two connections")

	a.line("shout anyone here?")
	a.waitText("You shout: anyone here?")
	b.waitText("shouts: anyone here?")
	if bytes.Contains(a.received(), []byte("shouts:")) {
		t.Error("sender received its own shout")
	}
}

func TestRecorderAndHistory(t *testing.T) {
	store, err := capstore.Open(filepath.Join(t.TempDir(), "caps.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	s := newTestServer(t, nil, WithStore(store))
	first := dial(t, s)
	first.send(neg(telnet.WILL, telnet.MTTS))
	first.send(sb(telnet.MTTS, append([]byte{0}, "Mudlet 4.10"...)))
	first.line("quit")
	first.waitClosed()
	waitUntil(t, func() bool { n, _ := store.Count(); return n == 1 }, "stored record")

	recs, err := store.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	rec := recs[0]
	if rec.Caps.ClientName != "MUDLET" || rec.Transport != "tcp" || rec.BytesIn == 0 || rec.BytesOut == 0 {
		t.Errorf("record = %+v", rec)
	}

	second := dial(t, s)
	second.line("history")
	second.waitText("MUDLET")
	second.waitText("1 session recorded.")
}

func TestStopClosesConnections(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	onlyDescriptor(t, s)
	s.Stop()
	c.waitClosed()
}
