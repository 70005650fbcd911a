// Package telnet implements a server-side TELNET engine for MUDs.
//
// A Session sits between a byte transport and the game. Inbound bytes are
// fed in with Feed, which frames them into messages, drives option
// negotiation (SGA, MSSP, MSDP, GMCP, NAWS, MTTS), infers client
// capabilities from the MTTS dialogue and splits application data into
// lines. Outbound frames accumulate in an internal buffer that the embedder
// drains with Output.
//
// A Session does no I/O, spawns no goroutines and is not safe for
// concurrent use; use one per connection.
package telnet

import (
	"bytes"
	"strings"
)

// GameMessageType tells the game layer how to interpret a GameMessage.
type GameMessageType uint8

const (
	GameMessageText GameMessageType = iota // a line typed by the player
	GameMessageJSON                        // a GMCP payload: "<package> [json]"
	GameMessageMSDP                        // a raw MSDP VAR/VAL payload
)

func (t GameMessageType) String() string {
	switch t {
	case GameMessageText:
		return "text"
	case GameMessageJSON:
		return "gmcp"
	case GameMessageMSDP:
		return "msdp"
	default:
		return "unknown"
	}
}

// GameMessage is a unit of client input ready for the game layer.
type GameMessage struct {
	Type GameMessageType
	Data string
}

// TextType selects the line discipline used by Send.
type TextType uint8

const (
	Text   TextType = iota // sent as is
	Line                   // terminated with CRLF
	Prompt                 // terminated with IAC GA
)

// MSSPVar is one name/value row of an MSSP table.
type MSSPVar struct {
	Name  string
	Value string
}

// OptionObserver is told whenever an option becomes enabled or disabled on
// either side.
type OptionObserver func(code byte, side Side, enabled bool)

// SessionOption configures a Session at construction.
type SessionOption func(*Session)

// WithTextEscaping doubles IAC bytes in outbound application text.
// Subnegotiation payloads are always escaped.
func WithTextEscaping() SessionOption {
	return func(s *Session) { s.escapeText = true }
}

// WithMTTSRequests sets how many TTYPE responses are requested in total.
// The default of 2 stops before asking for the MTTS bitfield; 3 asks for it.
func WithMTTSRequests(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.mttsRequests = n
		}
	}
}

// WithOptionObserver registers fn to be called on option state changes.
func WithOptionObserver(fn OptionObserver) SessionOption {
	return func(s *Session) { s.observer = fn }
}

// WithMessageObserver registers fn to see every inbound message before the
// session handles it.
func WithMessageObserver(fn func(Message)) SessionOption {
	return func(s *Session) { s.inspect = fn }
}

var promptSuffix = []byte{IAC, GA}

// Session is the per-connection protocol state.
type Session struct {
	caps *Capabilities

	inbound  []byte
	outbound bytes.Buffer
	appData  []byte
	pending  []GameMessage

	handlers     map[byte]*option
	mttsLast     string
	mttsRequests int
	escapeText   bool
	observer     OptionObserver
	inspect      func(Message)
}

// NewSession creates a session that records what it learns in caps and
// queues the server's opening negotiations in the output buffer.
func NewSession(caps *Capabilities, opts ...SessionOption) *Session {
	s := &Session{
		caps:         caps,
		handlers:     make(map[byte]*option, len(handledOptions)),
		mttsRequests: 2,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, code := range handledOptions {
		h := newOption(code)
		s.handlers[code] = h
		if h.policy.startWill {
			h.local.Negotiating = true
			s.SendNegotiate(WILL, code)
		}
		if h.policy.startDo {
			h.remote.Negotiating = true
			s.SendNegotiate(DO, code)
		}
	}
	return s
}

// Capabilities returns the record the session is filling in.
func (s *Session) Capabilities() *Capabilities {
	return s.caps
}

// Feed appends p to the inbound buffer and handles every complete message
// now available, in stream order. Bytes of an incomplete trailing frame are
// kept for the next call. It returns the number of messages handled.
func (s *Session) Feed(p []byte) int {
	s.inbound = append(s.inbound, p...)

	handled, off := 0, 0
	for off < len(s.inbound) {
		msg, n := Parse(s.inbound[off:])
		if n == 0 {
			break
		}
		off += n
		s.HandleMessage(msg)
		handled++
	}

	rest := copy(s.inbound, s.inbound[off:])
	s.inbound = s.inbound[:rest]
	return handled
}

// Buffered returns the number of inbound bytes waiting for a complete frame.
func (s *Session) Buffered() int {
	return len(s.inbound)
}

// HandleMessage routes one parsed message.
func (s *Session) HandleMessage(msg Message) {
	if s.inspect != nil {
		s.inspect(msg)
	}
	switch msg.Kind {
	case KindAppData:
		s.handleAppData(msg.Data)
	case KindCommand:
		// GA, NOP, EOR and friends carry nothing the session tracks.
	case KindNegotiation:
		s.handleNegotiation(msg.Codes[0], msg.Codes[1])
	case KindSubnegotiation:
		if h, ok := s.handlers[msg.Codes[0]]; ok {
			h.subnegotiate(s, msg.Data)
		}
	}
}

func (s *Session) handleAppData(data []byte) {
	for _, b := range data {
		switch b {
		case LF:
			s.queue(GameMessage{Type: GameMessageText, Data: string(s.appData)})
			s.appData = s.appData[:0]
		case CR:
		default:
			s.appData = append(s.appData, b)
		}
	}
}

func (s *Session) handleNegotiation(verb, code byte) {
	h, ok := s.handlers[code]
	if !ok {
		switch verb {
		case WILL:
			s.SendNegotiate(DONT, code)
		case DO:
			s.SendNegotiate(WONT, code)
		}
		return
	}
	h.receiveNegotiate(s, verb)
}

func (s *Session) queue(m GameMessage) {
	s.pending = append(s.pending, m)
}

func (s *Session) notify(code byte, side Side, enabled bool) {
	if s.observer != nil {
		s.observer(code, side, enabled)
	}
}

// NextGameMessage pops the oldest pending game message.
func (s *Session) NextGameMessage() (GameMessage, bool) {
	if len(s.pending) == 0 {
		return GameMessage{}, false
	}
	m := s.pending[0]
	s.pending[0] = GameMessage{}
	s.pending = s.pending[1:]
	return m, true
}

// GameMessages removes and returns every pending game message.
func (s *Session) GameMessages() []GameMessage {
	if len(s.pending) == 0 {
		return nil
	}
	out := s.pending
	s.pending = nil
	return out
}

// OptionState reports both perspectives of a handled option.
func (s *Session) OptionState(code byte) (local, remote Perspective, ok bool) {
	h, ok := s.handlers[code]
	if !ok {
		return Perspective{}, Perspective{}, false
	}
	return h.local, h.remote, true
}

// Output removes and returns everything queued for the peer.
func (s *Session) Output() []byte {
	if s.outbound.Len() == 0 {
		return nil
	}
	out := bytes.Clone(s.outbound.Bytes())
	s.outbound.Reset()
	return out
}

// Pending returns the number of outbound bytes not yet drained.
func (s *Session) Pending() int {
	return s.outbound.Len()
}

// SendMessage appends msg in wire form to the output buffer.
func (s *Session) SendMessage(msg Message) {
	s.outbound.Write(msg.Bytes())
}

func (s *Session) writeText(txt string) {
	if s.escapeText {
		s.outbound.Write(EscapeIAC([]byte(txt)))
		return
	}
	s.outbound.WriteString(txt)
}

// SendText queues txt as application data.
func (s *Session) SendText(txt string) {
	s.writeText(txt)
}

// SendLine queues txt followed by CRLF unless it already ends with one.
func (s *Session) SendLine(txt string) {
	s.writeText(txt)
	if !strings.HasSuffix(txt, "\r\n") {
		s.outbound.WriteString("\r\n")
	}
}

// SendPrompt queues txt followed by IAC GA unless it already ends with one.
func (s *Session) SendPrompt(txt string) {
	s.writeText(strings.TrimSuffix(txt, string(promptSuffix)))
	s.outbound.Write(promptSuffix)
}

// Send queues txt using the discipline named by tt.
func (s *Session) Send(tt TextType, txt string) {
	switch tt {
	case Line:
		s.SendLine(txt)
	case Prompt:
		s.SendPrompt(txt)
	default:
		s.SendText(txt)
	}
}

// SendGMCP queues a GMCP subnegotiation carrying txt.
func (s *Session) SendGMCP(txt string) {
	s.SendSub(GMCP, []byte(txt))
}

// SendMSSP queues an MSSP subnegotiation. Each row is written as name
// immediately followed by value, rows joined by CRLF.
func (s *Session) SendMSSP(vars []MSSPVar) {
	rows := make([]string, 0, len(vars))
	for _, v := range vars {
		rows = append(rows, v.Name+v.Value)
	}
	s.SendSub(MSSP, []byte(strings.Join(rows, "\r\n")))
}

// SendNegotiate queues IAC <verb> <option>.
func (s *Session) SendNegotiate(verb, code byte) {
	s.SendMessage(Negotiation(verb, code))
}

// SendSub queues IAC SB <option> <data> IAC SE.
func (s *Session) SendSub(code byte, data []byte) {
	s.SendMessage(Subnegotiation(code, data))
}
