package telnet

import (
	"bytes"
	"fmt"
)

// MessageKind identifies which of the four TELNET frame shapes a Message holds.
type MessageKind uint8

const (
	KindAppData        MessageKind = iota // plain bytes between IACs
	KindCommand                           // IAC <cmd>
	KindNegotiation                       // IAC WILL/WONT/DO/DONT <opt>
	KindSubnegotiation                    // IAC SB <opt> <data> IAC SE
)

func (k MessageKind) String() string {
	switch k {
	case KindAppData:
		return "AppData"
	case KindCommand:
		return "Command"
	case KindNegotiation:
		return "Negotiation"
	case KindSubnegotiation:
		return "Subnegotiation"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint8(k))
	}
}

// Message is a single parsed or to-be-sent TELNET frame.
//
// Codes holds the auxiliary bytes: the command byte for KindCommand, the
// verb and option for KindNegotiation, and the option for KindSubnegotiation.
// Data holds the literal bytes of application data or the un-escaped
// payload of a subnegotiation.
type Message struct {
	Kind  MessageKind
	Data  []byte
	Codes [2]byte
}

// AppData builds an application data message.
func AppData(data []byte) Message {
	return Message{Kind: KindAppData, Data: data}
}

// Command builds a two-byte IAC command message.
func Command(cmd byte) Message {
	return Message{Kind: KindCommand, Codes: [2]byte{cmd, 0}}
}

// Negotiation builds an IAC <verb> <option> message.
func Negotiation(verb, option byte) Message {
	return Message{Kind: KindNegotiation, Codes: [2]byte{verb, option}}
}

// Subnegotiation builds an IAC SB <option> <data> IAC SE message.
func Subnegotiation(option byte, data []byte) Message {
	return Message{Kind: KindSubnegotiation, Data: data, Codes: [2]byte{option, 0}}
}

// Parse reads one message from the front of buf. It returns the message and
// the number of bytes it occupied, or a zero count when buf does not yet hold
// a complete frame. Parse never modifies buf and never fails: a truncated
// frame simply means more bytes are needed.
func Parse(buf []byte) (Message, int) {
	if len(buf) == 0 {
		return Message{}, 0
	}

	if buf[0] != IAC {
		end := bytes.IndexByte(buf, IAC)
		if end < 0 {
			end = len(buf)
		}
		data := make([]byte, end)
		copy(data, buf[:end])
		return AppData(data), end
	}

	if len(buf) < 2 {
		return Message{}, 0
	}

	switch buf[1] {
	case WILL, WONT, DO, DONT:
		if len(buf) < 3 {
			return Message{}, 0
		}
		return Negotiation(buf[1], buf[2]), 3
	case SB:
		return parseSubnegotiation(buf)
	default:
		return Command(buf[1]), 2
	}
}

// parseSubnegotiation scans for the terminating IAC SE. An IAC followed by
// anything other than SE escapes that following byte, so IAC IAC yields a
// literal 0xFF.
func parseSubnegotiation(buf []byte) (Message, int) {
	// IAC SB <opt> IAC SE is the shortest complete frame.
	if len(buf) < 5 {
		return Message{}, 0
	}

	option := buf[2]
	data := make([]byte, 0, len(buf)-5)
	for i := 3; i < len(buf); i++ {
		if buf[i] != IAC {
			data = append(data, buf[i])
			continue
		}
		if i+1 >= len(buf) {
			return Message{}, 0
		}
		if buf[i+1] == SE {
			return Subnegotiation(option, data), i + 2
		}
		data = append(data, buf[i+1])
		i++
	}
	return Message{}, 0
}

// Bytes serializes the message into its wire form. Subnegotiation payloads
// have any 0xFF doubled so the frame parses back to the same payload.
func (m Message) Bytes() []byte {
	switch m.Kind {
	case KindAppData:
		out := make([]byte, len(m.Data))
		copy(out, m.Data)
		return out
	case KindCommand:
		return []byte{IAC, m.Codes[0]}
	case KindNegotiation:
		return []byte{IAC, m.Codes[0], m.Codes[1]}
	case KindSubnegotiation:
		out := make([]byte, 0, len(m.Data)+5)
		out = append(out, IAC, SB, m.Codes[0])
		out = appendEscaped(out, m.Data)
		return append(out, IAC, SE)
	default:
		return nil
	}
}

func (m Message) String() string {
	switch m.Kind {
	case KindAppData:
		return fmt.Sprintf("AppData(%q)", m.Data)
	case KindCommand:
		return fmt.Sprintf("Command(%s)", CommandName(m.Codes[0]))
	case KindNegotiation:
		return fmt.Sprintf("Negotiation(%s %s)", CommandName(m.Codes[0]), OptionName(m.Codes[1]))
	case KindSubnegotiation:
		return fmt.Sprintf("Subnegotiation(%s %q)", OptionName(m.Codes[0]), m.Data)
	default:
		return m.Kind.String()
	}
}

// EscapeIAC returns p with every IAC byte doubled.
func EscapeIAC(p []byte) []byte {
	if bytes.IndexByte(p, IAC) < 0 {
		return p
	}
	return appendEscaped(make([]byte, 0, len(p)+len(p)/8+1), p)
}

func appendEscaped(dst, p []byte) []byte {
	for _, b := range p {
		dst = append(dst, b)
		if b == IAC {
			dst = append(dst, IAC)
		}
	}
	return dst
}
