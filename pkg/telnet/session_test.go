package telnet

import (
	"bytes"
	"testing"
)

// newTestSession returns a session whose opening negotiations have already
// been drained.
func newTestSession(t *testing.T, opts ...SessionOption) (*Session, *Capabilities) {
	t.Helper()
	caps := NewCapabilities()
	s := NewSession(caps, opts...)
	s.Output()
	return s, caps
}

func sub(opt byte, payload ...byte) []byte {
	return Subnegotiation(opt, payload).Bytes()
}

func ttypeIs(s string) []byte {
	return sub(MTTS, append([]byte{ttypeIS}, s...)...)
}

// frames splits a wire buffer back into messages.
func frames(t *testing.T, wire []byte) []Message {
	t.Helper()
	var out []Message
	for len(wire) > 0 {
		msg, n := Parse(wire)
		if n == 0 {
			t.Fatalf("incomplete frame in output: %v", wire)
		}
		out = append(out, msg)
		wire = wire[n:]
	}
	return out
}

func TestSimpleTextLine(t *testing.T) {
	s, _ := newTestSession(t)

	if n := s.Feed([]byte("hello\r\n")); n != 1 {
		t.Fatalf("handled %d messages, want 1", n)
	}
	msgs := s.GameMessages()
	if len(msgs) != 1 {
		t.Fatalf("got %d game messages, want 1", len(msgs))
	}
	if msgs[0].Type != GameMessageText || msgs[0].Data != "hello" {
		t.Errorf("game message = %+v", msgs[0])
	}
	if out := s.Output(); len(out) != 0 {
		t.Errorf("unexpected output %v", out)
	}
}

func TestLineSplitting(t *testing.T) {
	s, _ := newTestSession(t)

	s.Feed([]byte("north\nsou"))
	s.Feed([]byte("th\r\n\r\nsay hi"))
	s.Feed([]byte{IAC, NOP})
	s.Feed([]byte(" there\n"))

	want := []string{"north", "south", "", "say hi there"}
	var got []string
	for {
		m, ok := s.NextGameMessage()
		if !ok {
			break
		}
		got = append(got, m.Data)
	}
	if len(got) != len(want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFeedKeepsPartialFrames(t *testing.T) {
	s, _ := newTestSession(t)

	frame := sub(GMCP, []byte("Core.Ping")...)
	s.Feed(frame[:4])
	if s.Buffered() != 4 {
		t.Fatalf("buffered %d bytes, want 4", s.Buffered())
	}
	if n := s.Feed(frame[4:]); n != 1 {
		t.Fatalf("handled %d messages, want 1", n)
	}
	if s.Buffered() != 0 {
		t.Errorf("buffered %d bytes after complete frame", s.Buffered())
	}
	m, ok := s.NextGameMessage()
	if !ok || m.Type != GameMessageJSON || m.Data != "Core.Ping" {
		t.Errorf("game message = %+v, %v", m, ok)
	}
}

func TestOpeningNegotiation(t *testing.T) {
	caps := NewCapabilities()
	s := NewSession(caps)

	want := []byte{
		IAC, WILL, MSSP,
		IAC, WILL, SGA,
		IAC, WILL, MSDP,
		IAC, WILL, GMCP,
		IAC, DO, NAWS,
		IAC, DO, MTTS,
	}
	if got := s.Output(); !bytes.Equal(got, want) {
		t.Fatalf("opening output = %v, want %v", got, want)
	}

	for _, code := range []byte{SGA, MSSP, MSDP, GMCP} {
		local, remote, _ := s.OptionState(code)
		if !local.Negotiating || remote.Negotiating {
			t.Errorf("%s: local=%+v remote=%+v", OptionName(code), local, remote)
		}
	}
	for _, code := range []byte{NAWS, MTTS} {
		local, remote, _ := s.OptionState(code)
		if local.Negotiating || !remote.Negotiating {
			t.Errorf("%s: local=%+v remote=%+v", OptionName(code), local, remote)
		}
	}

	s.Feed([]byte{IAC, DO, SGA})
	if out := s.Output(); len(out) != 0 {
		t.Errorf("DO SGA produced output %v", out)
	}
	local, _, _ := s.OptionState(SGA)
	if !local.Enabled || local.Negotiating || !local.Answered {
		t.Errorf("SGA local = %+v", local)
	}
	if !caps.SuppressGA {
		t.Error("SuppressGA not set")
	}
}

func TestUnknownOptionRefused(t *testing.T) {
	s, _ := newTestSession(t)

	s.Feed([]byte{IAC, WILL, 99})
	if got, want := s.Output(), []byte{IAC, DONT, 99}; !bytes.Equal(got, want) {
		t.Errorf("WILL 99 reply = %v, want %v", got, want)
	}
	s.Feed([]byte{IAC, DO, 99})
	if got, want := s.Output(), []byte{IAC, WONT, 99}; !bytes.Equal(got, want) {
		t.Errorf("DO 99 reply = %v, want %v", got, want)
	}
	s.Feed([]byte{IAC, WONT, 99, IAC, DONT, 99})
	if out := s.Output(); len(out) != 0 {
		t.Errorf("WONT/DONT 99 produced %v", out)
	}
	if _, _, ok := s.OptionState(99); ok {
		t.Error("option 99 should not be installed")
	}
}

func TestUnsupportedSideRefused(t *testing.T) {
	s, _ := newTestSession(t)

	// The server offers SGA but does not ask the client to perform it.
	s.Feed([]byte{IAC, WILL, SGA})
	if got, want := s.Output(), []byte{IAC, DONT, SGA}; !bytes.Equal(got, want) {
		t.Errorf("WILL SGA reply = %v, want %v", got, want)
	}
	// And it never performs NAWS itself.
	s.Feed([]byte{IAC, DO, NAWS})
	if got, want := s.Output(), []byte{IAC, WONT, NAWS}; !bytes.Equal(got, want) {
		t.Errorf("DO NAWS reply = %v, want %v", got, want)
	}
}

func TestUnsolicitedRequestAccepted(t *testing.T) {
	s, caps := newTestSession(t)

	// Refuse, then change its mind.
	s.Feed([]byte{IAC, DONT, GMCP})
	if caps.GMCP {
		t.Fatal("GMCP enabled after DONT")
	}
	s.Feed([]byte{IAC, DO, GMCP})
	if got, want := s.Output(), []byte{IAC, WILL, GMCP}; !bytes.Equal(got, want) {
		t.Errorf("unsolicited DO GMCP reply = %v, want %v", got, want)
	}
	if !caps.GMCP {
		t.Error("GMCP not enabled")
	}

	// Repeating the request once converged is ignored.
	s.Feed([]byte{IAC, DO, GMCP})
	if out := s.Output(); len(out) != 0 {
		t.Errorf("repeated DO GMCP produced %v", out)
	}
}

func TestDisableClearsState(t *testing.T) {
	s, caps := newTestSession(t)

	s.Feed([]byte{IAC, WILL, NAWS})
	if !caps.NAWS {
		t.Fatal("NAWS not enabled")
	}
	s.Feed([]byte{IAC, WONT, NAWS})
	_, remote, _ := s.OptionState(NAWS)
	if remote.Enabled || remote.Negotiating || !remote.Answered {
		t.Errorf("NAWS remote after WONT = %+v", remote)
	}
	if caps.NAWS {
		t.Error("NAWS flag still set")
	}
	if out := s.Output(); len(out) != 0 {
		t.Errorf("WONT produced output %v", out)
	}
}

func TestNegotiationConvergence(t *testing.T) {
	verbs := []byte{WILL, WONT, DO, DONT}
	for _, code := range handledOptions {
		for _, first := range verbs {
			for _, second := range verbs {
				s, _ := newTestSession(t)
				s.Feed([]byte{IAC, first, code})
				s.Output()
				s.Feed([]byte{IAC, second, code})
				replies := 0
				for _, msg := range frames(t, s.Output()) {
					if msg.Kind == KindNegotiation {
						replies++
					}
				}
				if replies > 1 {
					t.Errorf("%s %s then %s: %d negotiation replies", OptionName(code),
						CommandName(first), CommandName(second), replies)
				}

				local, remote, _ := s.OptionState(code)
				for _, verb := range []byte{first, second} {
					switch verb {
					case WILL, WONT:
						if remote.Negotiating {
							t.Errorf("%s after %s: remote still negotiating", OptionName(code), CommandName(verb))
						}
					case DO, DONT:
						if local.Negotiating {
							t.Errorf("%s after %s: local still negotiating", OptionName(code), CommandName(verb))
						}
					}
				}
			}
		}
	}
}

// peer answers every negotiation it receives according to a fixed rule.
type peer func(verb, code byte) []byte

func agreeable(verb, code byte) []byte {
	switch verb {
	case WILL:
		return []byte{IAC, DO, code}
	case DO:
		return []byte{IAC, WILL, code}
	case WONT:
		return []byte{IAC, DONT, code}
	default:
		return []byte{IAC, WONT, code}
	}
}

func refusing(verb, code byte) []byte {
	switch verb {
	case WILL, WONT:
		return []byte{IAC, DONT, code}
	default:
		return []byte{IAC, WONT, code}
	}
}

func TestNoNegotiationLoops(t *testing.T) {
	for name, p := range map[string]peer{"agreeable": agreeable, "refusing": refusing} {
		caps := NewCapabilities()
		s := NewSession(caps)

		rounds := 0
		for out := s.Output(); len(out) > 0; out = s.Output() {
			rounds++
			if rounds > 10 {
				t.Fatalf("%s peer: negotiation did not settle", name)
			}
			var reply []byte
			for _, msg := range frames(t, out) {
				if msg.Kind == KindNegotiation {
					reply = append(reply, p(msg.Codes[0], msg.Codes[1])...)
				}
			}
			s.Feed(reply)
		}

		for _, code := range handledOptions {
			local, remote, _ := s.OptionState(code)
			if local.Negotiating || remote.Negotiating {
				t.Errorf("%s peer: %s still negotiating", name, OptionName(code))
			}
		}
	}
}

func TestSendHelpers(t *testing.T) {
	s, _ := newTestSession(t)

	tests := []struct {
		name string
		send func()
		want []byte
	}{
		{"text", func() { s.SendText("abc") }, []byte("abc")},
		{"line adds CRLF", func() { s.SendLine("abc") }, []byte("abc\r\n")},
		{"line keeps CRLF", func() { s.SendLine("abc\r\n") }, []byte("abc\r\n")},
		{"prompt adds GA", func() { s.SendPrompt("> ") }, []byte{'>', ' ', IAC, GA}},
		{"prompt keeps GA", func() { s.SendPrompt(string([]byte{'>', IAC, GA})) }, []byte{'>', IAC, GA}},
		{"send line", func() { s.Send(Line, "x") }, []byte("x\r\n")},
		{"gmcp", func() { s.SendGMCP("Core.Ping") }, append(append([]byte{IAC, SB, GMCP}, "Core.Ping"...), IAC, SE)},
		{"negotiate", func() { s.SendNegotiate(WONT, MXP) }, []byte{IAC, WONT, MXP}},
		{"sub escapes", func() { s.SendSub(NAWS, []byte{0, IAC}) }, []byte{IAC, SB, NAWS, 0, IAC, IAC, IAC, SE}},
		{
			"mssp",
			func() { s.SendMSSP([]MSSPVar{{"NAME", "Test"}, {"PLAYERS", "3"}}) },
			append(append([]byte{IAC, SB, MSSP}, "NAMETest\r\nPLAYERS3"...), IAC, SE),
		},
	}
	for _, tt := range tests {
		tt.send()
		if got := s.Output(); !bytes.Equal(got, tt.want) {
			t.Errorf("%s: output %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTextEscaping(t *testing.T) {
	plain, _ := newTestSession(t)
	plain.SendText(string([]byte{'a', IAC}))
	if got := plain.Output(); !bytes.Equal(got, []byte{'a', IAC}) {
		t.Errorf("default text output %v", got)
	}

	escaped, _ := newTestSession(t, WithTextEscaping())
	escaped.SendPrompt(string([]byte{'a', IAC}))
	if got, want := escaped.Output(), []byte{'a', IAC, IAC, IAC, GA}; !bytes.Equal(got, want) {
		t.Errorf("escaped prompt output %v, want %v", got, want)
	}
}

func TestNAWSSubnegotiation(t *testing.T) {
	s, caps := newTestSession(t)

	s.Feed([]byte{IAC, WILL, NAWS})
	s.Feed(sub(NAWS, 0, 120, 0, 50))
	if caps.Width != 120 || caps.Height != 50 {
		t.Errorf("size = %dx%d, want 120x50", caps.Width, caps.Height)
	}

	s.Feed(sub(NAWS, 1, 0))
	if caps.Width != 120 {
		t.Errorf("short NAWS payload changed width to %d", caps.Width)
	}

	// 255 columns arrives escaped.
	s.Feed(sub(NAWS, 0, IAC, 0, 0))
	if caps.Width != 255 || caps.Height != 50 {
		t.Errorf("size = %dx%d, want 255x50", caps.Width, caps.Height)
	}
}

func TestOOBSubnegotiationsQueued(t *testing.T) {
	s, _ := newTestSession(t)

	s.Feed(sub(GMCP, []byte(`Core.Hello {"client":"Mudlet"}`)...))
	s.Feed(sub(MSDP, 1, 'L', 'I', 'S', 'T', 2, 'C', 'O', 'M', 'M', 'A', 'N', 'D', 'S'))
	s.Feed(sub(MSSP, 'x'))
	s.Feed(sub(99, 'x'))

	msgs := s.GameMessages()
	if len(msgs) != 2 {
		t.Fatalf("got %d game messages, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Type != GameMessageJSON || msgs[0].Data != `Core.Hello {"client":"Mudlet"}` {
		t.Errorf("gmcp message = %+v", msgs[0])
	}
	if msgs[1].Type != GameMessageMSDP || msgs[1].Data != "\x01LIST\x02COMMANDS" {
		t.Errorf("msdp message = %+v", msgs[1])
	}
}

func TestOptionObserver(t *testing.T) {
	type change struct {
		code    byte
		side    Side
		enabled bool
	}
	var seen []change
	s, _ := newTestSession(t, WithOptionObserver(func(code byte, side Side, enabled bool) {
		seen = append(seen, change{code, side, enabled})
	}))

	s.Feed([]byte{IAC, DO, MSSP, IAC, WILL, NAWS, IAC, DONT, MSSP})
	want := []change{
		{MSSP, LocalSide, true},
		{NAWS, RemoteSide, true},
		{MSSP, LocalSide, false},
	}
	if len(seen) != len(want) {
		t.Fatalf("observer saw %+v, want %+v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, seen[i], want[i])
		}
	}
}

func TestRaiseColorNeverLowers(t *testing.T) {
	caps := NewCapabilities()
	caps.RaiseColor(XtermColor)
	caps.RaiseColor(StandardColor)
	if caps.ColorType != XtermColor {
		t.Errorf("ColorType = %v, want xterm256", caps.ColorType)
	}
	if caps.Width != 78 || caps.Height != 24 || caps.ClientName != Unknown {
		t.Errorf("defaults wrong: %+v", caps)
	}
}

func TestMessageObserver(t *testing.T) {
	var kinds []MessageKind
	s, _ := newTestSession(t, WithMessageObserver(func(m Message) {
		kinds = append(kinds, m.Kind)
	}))

	s.Feed([]byte{'h', 'i', IAC, WILL, NAWS, IAC, GA})
	s.Feed(sub(NAWS, 0, 80, 0, 24))

	want := []MessageKind{KindAppData, KindNegotiation, KindCommand, KindSubnegotiation}
	if len(kinds) != len(want) {
		t.Fatalf("observed %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("message %d kind = %v, want %v", i, kinds[i], want[i])
		}
	}
}
