package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystal-mush/mudtelnet/pkg/capstore"
	"github.com/crystal-mush/mudtelnet/pkg/events"
	"github.com/crystal-mush/mudtelnet/pkg/telnet"
	"github.com/dustin/go-humanize"
	"github.com/pires/go-proxyproto"
)

const (
	writeTimeout   = 5 * time.Second
	resolveTimeout = 2 * time.Second
	readBufSize    = 4096
)

// Server accepts TELNET connections and drives one telnet.Session per
// connection.
type Server struct {
	Conns    *ConnManager
	Bus      *events.Bus
	Store    *capstore.Store // nil disables history
	Metrics  *Metrics
	Commands map[string]*Command

	mu        sync.RWMutex
	cfg       *Config
	log       *slog.Logger
	startTime time.Time
	listener  net.Listener
	webServer *WebServer
	help      atomic.Pointer[HelpFile]
}

// Option customises a Server at construction.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithStore enables capability recording and the history command.
func WithStore(st *capstore.Store) Option {
	return func(s *Server) { s.Store = st }
}

// WithMetrics replaces the default metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.Metrics = m }
}

// NewServer creates a new server instance.
func NewServer(cfg *Config, opts ...Option) *Server {
	s := &Server{
		Bus:       events.NewBus(),
		cfg:       cfg,
		log:       slog.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Conns = NewConnManager()
	s.Conns.EventBus = s.Bus
	s.Commands = InitCommands()
	s.loadHelp(cfg)

	if s.Metrics == nil {
		s.Metrics = NewMetrics(nil, s.startTime)
	}
	s.Metrics.conns = s.Conns
	s.Bus.SubscribeGlobal(s.Metrics)
	if s.Store != nil {
		s.Bus.SubscribeGlobal(NewRecorder(s.Store, s.log))
	}
	return s
}

// Config returns the current configuration. Callers must not modify it.
func (s *Server) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig swaps in a reloaded configuration. Listener settings only take
// effect on restart; everything else applies to the next message or
// connection.
func (s *Server) SetConfig(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// loadHelp replaces the help file from cfg. A missing file leaves only the
// command list.
func (s *Server) loadHelp(cfg *Config) {
	if cfg.HelpFile == "" {
		s.help.Store(nil)
		return
	}
	hf, err := LoadHelpFile(cfg.HelpFile)
	if err != nil {
		s.log.Warn("help file not loaded", "err", err)
		return
	}
	s.help.Store(hf)
	s.log.Info("loaded help file", "path", cfg.HelpFile, "entries", len(hf.Entries))
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// listen opens the TCP listener, wrapped for PROXY protocol headers when
// configured.
func (s *Server) listen(cfg *Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("telnet listener: %w", err)
	}
	if cfg.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	return ln, nil
}

// Start begins listening for connections and blocks until Stop is called
// or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.Config()

	ln, err := s.listen(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("listening", "port", cfg.Port, "proxy_protocol", cfg.ProxyProtocol)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if cfg.Web.Enabled {
		web := NewWebServer(s, cfg.Web)
		s.mu.Lock()
		s.webServer = web
		s.mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.Start(); err != nil {
				errCh <- fmt.Errorf("web server: %w", err)
				s.Stop()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.acceptLoop(ln)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}
	return nil
}

// acceptLoop accepts connections on the given listener until it is closed.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "err", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// Stop closes all listeners and connections.
func (s *Server) Stop() {
	s.mu.Lock()
	ln, web := s.listener, s.webServer
	s.listener, s.webServer = nil, nil
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		web.Stop(ctx)
	}
	s.Conns.CloseAll()
}

// tcpConn adapts a net.Conn to the descriptor transport.
type tcpConn struct {
	conn net.Conn
}

func (c *tcpConn) Write(p []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(p)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// handleConnection manages a single TCP client connection lifecycle.
func (s *Server) handleConnection(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	caps := s.newCapabilities(addr)
	d := NewDescriptor(s.Conns.NextID(), &tcpConn{conn: conn}, addr, TransportTCP, caps, s.log)

	buf := make([]byte, readBufSize)
	s.serve(d, func(idle time.Duration) ([]byte, error) {
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := conn.Read(buf)
		return buf[:n], err
	})
}

// newCapabilities seeds a capability record with the peer's host fields.
func (s *Server) newCapabilities(addr string) *telnet.Capabilities {
	caps := telnet.NewCapabilities()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	caps.HostIP = host
	caps.HostName = host

	if s.Config().ResolveHosts {
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		if names, err := net.DefaultResolver.LookupAddr(ctx, host); err == nil && len(names) > 0 {
			caps.HostName = strings.TrimSuffix(names[0], ".")
		}
	}
	return caps
}

// serve runs a descriptor until its transport fails, it goes idle or the
// client quits. read returns the next chunk of inbound bytes; p may be
// reused by the next call.
func (s *Server) serve(d *Descriptor, read func(idle time.Duration) ([]byte, error)) {
	s.Conns.Add(d)
	s.openSession(d)
	d.log.Info("new connection", "id", d.UUID, "host", d.Caps.HostName)

	defer s.closeSession(d)

	for {
		idle := s.Config().IdleTimeout
		p, err := read(idle)
		if len(p) > 0 {
			msgs, evs := d.feed(p)
			for _, ev := range evs {
				s.Bus.Emit(ev)
				if ev.Type == events.EvCapabilities {
					s.reportChanges(d)
				}
			}
			for _, m := range msgs {
				s.handleGameMessage(d, m)
				if d.IsClosed() {
					return
				}
			}
		}
		if err != nil {
			if isTimeout(err) {
				d.log.Info("idle timeout", "after", idle)
				d.Send("You have been idle too long. Goodbye!")
			} else if !d.IsClosed() && !errors.Is(err, net.ErrClosed) {
				d.log.Debug("read ended", "err", err)
			}
			return
		}
		if d.IsClosed() {
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// openSession creates the TELNET session, sends the opening negotiation,
// the welcome text and the first prompt.
func (s *Server) openSession(d *Descriptor) {
	cfg := s.Config()

	opts := cfg.sessionOptions()
	opts = append(opts,
		telnet.WithOptionObserver(func(code byte, side telnet.Side, enabled bool) {
			s.optionChanged(d, code, side, enabled)
		}),
		telnet.WithMessageObserver(func(m telnet.Message) {
			s.inspect(d, m)
		}),
	)
	d.attach(telnet.NewSession(d.Caps, opts...))

	s.Bus.Emit(events.Event{
		Type:      events.EvConnect,
		Session:   d.ID,
		Source:    d.ID,
		Transport: d.Transport.String(),
		Addr:      d.Addr,
		Data:      map[string]any{"id": d.UUID, "host": d.Caps.HostName},
	})

	d.SendText(cfg.welcomeText())
	d.SendPrompt(cfg.Prompt)
}

// optionChanged runs inside Session.Feed with the descriptor locked.
func (s *Server) optionChanged(d *Descriptor, code byte, side telnet.Side, enabled bool) {
	name := telnet.OptionName(code)
	d.log.Debug("option changed", "option", name, "side", side.String(), "enabled", enabled)
	d.queueLocked(events.EvOption, "", map[string]any{
		"option":  name,
		"side":    side.String(),
		"enabled": enabled,
	})

	if code == telnet.MSSP && side == telnet.LocalSide && enabled {
		s.sendMSSP(d.session)
	}
}

// inspect runs inside Session.Feed with the descriptor locked.
func (s *Server) inspect(d *Descriptor, m telnet.Message) {
	switch m.Kind {
	case telnet.KindNegotiation:
		verb, opt := telnet.CommandName(m.Codes[0]), telnet.OptionName(m.Codes[1])
		s.Metrics.Negotiation(verb, opt)
		d.log.Debug("negotiation", "cmd", verb, "option", opt)
	case telnet.KindSubnegotiation:
		d.log.Debug("subnegotiation", "option", telnet.OptionName(m.Codes[0]), "bytes", len(m.Data))
	case telnet.KindCommand:
		d.log.Debug("command", "cmd", telnet.CommandName(m.Codes[0]))
	}
}

// handleGameMessage routes one unit of client input.
func (s *Server) handleGameMessage(d *Descriptor, m telnet.GameMessage) {
	ev := events.Event{
		Session:   d.ID,
		Source:    d.ID,
		Transport: d.Transport.String(),
		Addr:      d.Addr,
		Text:      m.Data,
	}
	switch m.Type {
	case telnet.GameMessageText:
		ev.Type = events.EvCommand
		s.Bus.Emit(ev)
		DispatchCommand(s, d, m.Data)
	case telnet.GameMessageJSON:
		ev.Type = events.EvGMCP
		s.Bus.Emit(ev)
		s.handleGMCP(d, []byte(m.Data))
	case telnet.GameMessageMSDP:
		ev.Type = events.EvMSDP
		s.Bus.Emit(ev)
		s.handleMSDP(d, []byte(m.Data))
	}
}

// closeSession unregisters the descriptor and publishes its final record.
func (s *Server) closeSession(d *Descriptor) {
	s.Conns.Remove(d)
	d.Close()

	sent, recv, cmds, _ := d.Stats()
	caps := d.Snapshot()
	rec := &capstore.Record{
		ID:           d.UUID,
		Addr:         d.Addr,
		Transport:    d.Transport.String(),
		Connected:    d.ConnTime,
		Disconnected: time.Now(),
		Caps:         caps,
		GMCPPackages: d.supportedPackages(),
		BytesIn:      recv,
		BytesOut:     sent,
	}

	s.Bus.Emit(events.Event{
		Type:      events.EvDisconnect,
		Session:   d.ID,
		Source:    d.ID,
		Transport: d.Transport.String(),
		Addr:      d.Addr,
		Data: map[string]any{
			"record": rec,
			"color":  caps.ColorType.String(),
			"client": caps.ClientName,
		},
	})

	d.log.Info("connection closed",
		"client", caps.ClientName,
		"duration", rec.Duration().Round(time.Second),
		"sent", humanize.Bytes(uint64(sent)),
		"received", humanize.Bytes(uint64(recv)),
		"commands", cmds)
}
