package server

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/crystal-mush/mudtelnet/pkg/events"
	"github.com/crystal-mush/mudtelnet/pkg/oob"
	"github.com/crystal-mush/mudtelnet/pkg/telnet"
	"github.com/google/uuid"
)

// TransportType identifies the kind of transport a Descriptor uses.
type TransportType int

const (
	TransportTCP       TransportType = iota // Raw TELNET over TCP
	TransportWebSocket                      // TELNET bytes in binary WebSocket frames
)

func (t TransportType) String() string {
	if t == TransportWebSocket {
		return "websocket"
	}
	return "tcp"
}

// transport is the byte pipe under a Descriptor.
type transport interface {
	Write(p []byte) error
	Close() error
}

// Descriptor represents a single client connection and owns its TELNET
// session. All session access goes through the descriptor's mutex; other
// goroutines read Caps through Snapshot.
// It implements events.Subscriber so it can receive events from the bus.
type Descriptor struct {
	ID        int
	UUID      string
	Addr      string
	Transport TransportType
	ConnTime  time.Time

	Caps     *telnet.Capabilities
	Supports *oob.Supports // GMCP packages requested by the client
	Reported map[string]bool

	log *slog.Logger

	mu        sync.Mutex
	conn      transport
	session   *telnet.Session
	lastCmd   time.Time
	cmdCount  int
	bytesSent int64
	bytesRecv int64
	closed    bool
	// events raised while the lock was held, emitted after release
	queued []events.Event
}

// NewDescriptor wraps a transport into a Descriptor. caps must already
// carry the host fields.
func NewDescriptor(id int, conn transport, addr string, tt TransportType, caps *telnet.Capabilities, logger *slog.Logger) *Descriptor {
	now := time.Now()
	return &Descriptor{
		ID:        id,
		UUID:      uuid.NewString(),
		Addr:      addr,
		Transport: tt,
		ConnTime:  now,
		Caps:      caps,
		Supports:  oob.NewSupports(),
		Reported:  make(map[string]bool),
		log:       logger.With("conn", id, "addr", addr, "transport", tt.String()),
		conn:      conn,
		lastCmd:   now,
	}
}

// attach installs the TELNET session and flushes its opening negotiation.
func (d *Descriptor) attach(session *telnet.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = session
	d.flushLocked()
}

// flushLocked writes everything the session has queued. d.mu must be held.
func (d *Descriptor) flushLocked() {
	if d.closed || d.session == nil {
		return
	}
	out := d.session.Output()
	if len(out) == 0 {
		return
	}
	if err := d.conn.Write(out); err != nil {
		d.log.Debug("write failed", "err", err)
		d.closeLocked()
		return
	}
	d.bytesSent += int64(len(out))
}

// with runs fn against the session under the lock and flushes the result.
func (d *Descriptor) with(fn func(s *telnet.Session)) {
	d.mu.Lock()
	if d.closed || d.session == nil {
		d.mu.Unlock()
		return
	}
	fn(d.session)
	d.flushLocked()
	d.mu.Unlock()
}

// Send writes a line of text, terminated with CRLF.
func (d *Descriptor) Send(msg string) {
	d.with(func(s *telnet.Session) { s.SendLine(msg) })
}

// SendPrompt writes a prompt terminated with IAC GA.
func (d *Descriptor) SendPrompt(prompt string) {
	d.with(func(s *telnet.Session) { s.SendPrompt(prompt) })
}

// SendText writes text without a line terminator.
func (d *Descriptor) SendText(txt string) {
	d.with(func(s *telnet.Session) { s.SendText(txt) })
}

// SendGMCP writes a GMCP message if the client has enabled GMCP.
func (d *Descriptor) SendGMCP(pkg string, v any) {
	payload, err := oob.EncodeGMCP(pkg, v)
	if err != nil {
		d.log.Warn("gmcp encode failed", "package", pkg, "err", err)
		return
	}
	d.with(func(s *telnet.Session) {
		if d.Caps.GMCP {
			s.SendGMCP(payload)
		}
	})
}

// SendMSDP writes MSDP variables if the client has enabled MSDP.
func (d *Descriptor) SendMSDP(vars ...oob.Variable) {
	d.with(func(s *telnet.Session) {
		if d.Caps.MSDP {
			s.SendSub(telnet.MSDP, oob.EncodeMSDP(vars...))
		}
	})
}

// feed hands inbound bytes to the session and returns the game messages and
// events they produced.
func (d *Descriptor) feed(p []byte) ([]telnet.GameMessage, []events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.session == nil {
		return nil, nil
	}

	d.bytesRecv += int64(len(p))
	before := *d.Caps
	d.session.Feed(p)
	d.flushLocked()

	if *d.Caps != before {
		d.queueLocked(events.EvCapabilities, "", capsData(d.Caps))
	}

	msgs := d.session.GameMessages()
	if len(msgs) > 0 {
		d.lastCmd = time.Now()
	}
	for _, m := range msgs {
		if m.Type == telnet.GameMessageText {
			d.cmdCount++
		}
	}

	evs := d.queued
	d.queued = nil
	return msgs, evs
}

// queueLocked records an event to emit once the lock is released.
func (d *Descriptor) queueLocked(t events.EventType, text string, data map[string]any) {
	d.queued = append(d.queued, events.Event{
		Type:      t,
		Session:   d.ID,
		Source:    d.ID,
		Transport: d.Transport.String(),
		Addr:      d.Addr,
		Text:      text,
		Data:      data,
	})
}

// Close shuts down the connection.
func (d *Descriptor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
}

func (d *Descriptor) closeLocked() {
	if !d.closed {
		d.closed = true
		d.conn.Close()
	}
}

// IsClosed returns whether the connection has been closed.
func (d *Descriptor) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Stats returns traffic and activity counters.
func (d *Descriptor) Stats() (sent, recv int64, cmds int, idle time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bytesSent, d.bytesRecv, d.cmdCount, time.Since(d.lastCmd)
}

// Snapshot copies the capability record under the lock.
func (d *Descriptor) Snapshot() telnet.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.Caps
}

// Receive implements events.Subscriber. Text events are written to the
// client as a line followed by nothing else; the sender decides about
// prompts.
func (d *Descriptor) Receive(ev events.Event) {
	if ev.Type == events.EvText && ev.Text != "" {
		d.Send(ev.Text)
	}
}

// Closed implements events.Subscriber.
func (d *Descriptor) Closed() bool {
	return d.IsClosed()
}

// Compile-time check that Descriptor implements events.Subscriber.
var _ events.Subscriber = (*Descriptor)(nil)

func capsData(c *telnet.Capabilities) map[string]any {
	return map[string]any{
		"client":         c.ClientName,
		"client_version": c.ClientVersion,
		"color":          c.ColorType.String(),
		"width":          c.Width,
		"height":         c.Height,
		"utf8":           c.UTF8,
		"screen_reader":  c.ScreenReader,
		"vt100":          c.VT100,
		"gmcp":           c.GMCP,
		"msdp":           c.MSDP,
		"naws":           c.NAWS,
		"mtts":           c.MTTS,
	}
}

// ConnManager tracks all active connections.
type ConnManager struct {
	mu          sync.RWMutex
	descriptors map[int]*Descriptor
	nextID      int
	EventBus    *events.Bus // Event bus for pub/sub (nil = disabled)
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		descriptors: make(map[int]*Descriptor),
		nextID:      1,
	}
}

// Add registers a new descriptor and subscribes it to the event bus.
func (cm *ConnManager) Add(d *Descriptor) {
	cm.mu.Lock()
	cm.descriptors[d.ID] = d
	cm.mu.Unlock()

	if cm.EventBus != nil {
		cm.EventBus.Subscribe(d.ID, d)
	}
}

// Remove unregisters a descriptor and unsubscribes it from the event bus.
func (cm *ConnManager) Remove(d *Descriptor) {
	if cm.EventBus != nil {
		cm.EventBus.Unsubscribe(d.ID, d)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.descriptors, d.ID)
}

// NextID returns the next descriptor ID.
func (cm *ConnManager) NextID() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	id := cm.nextID
	cm.nextID++
	return id
}

// Get returns the descriptor with the given ID.
func (cm *ConnManager) Get(id int) (*Descriptor, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	d, ok := cm.descriptors[id]
	return d, ok
}

// AllDescriptors returns a snapshot of all active descriptors, oldest first.
func (cm *ConnManager) AllDescriptors() []*Descriptor {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	descs := make([]*Descriptor, 0, len(cm.descriptors))
	for _, d := range cm.descriptors {
		descs = append(descs, d)
	}
	sortByID(descs)
	return descs
}

// Count returns the number of active connections.
func (cm *ConnManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.descriptors)
}

// CountByTransport returns active connections per transport name.
func (cm *ConnManager) CountByTransport() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	counts := map[string]int{
		TransportTCP.String():       0,
		TransportWebSocket.String(): 0,
	}
	for _, d := range cm.descriptors {
		counts[d.Transport.String()]++
	}
	return counts
}

// CloseAll closes every connection.
func (cm *ConnManager) CloseAll() {
	for _, d := range cm.AllDescriptors() {
		d.Close()
	}
}

func sortByID(descs []*Descriptor) {
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
}

// FormatConnTime formats a duration as connection time.
func FormatConnTime(d time.Duration) string {
	secs := int(d.Seconds())
	hours := secs / 3600
	mins := (secs % 3600) / 60
	return fmt.Sprintf("%02d:%02d", hours, mins)
}

// supportedPackages lists the client's GMCP packages.
func (d *Descriptor) supportedPackages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Supports.List()
}

func (d *Descriptor) setReported(name string, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on {
		d.Reported[name] = true
	} else {
		delete(d.Reported, name)
	}
}

func (d *Descriptor) resetReported() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.Reported)
}

// reported returns the REPORTed MSDP variables in sorted order.
func (d *Descriptor) reported() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.Reported))
	for name := range d.Reported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
