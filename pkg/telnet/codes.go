package telnet

import "fmt"

// Telnet command bytes (RFC 854, 885).
const (
	EOR  byte = 239 // End of Record
	SE   byte = 240 // Subnegotiation End
	NOP  byte = 241 // No Operation
	GA   byte = 249 // Go Ahead
	SB   byte = 250 // Subnegotiation Begin
	WILL byte = 251
	WONT byte = 252
	DO   byte = 253
	DONT byte = 254
	IAC  byte = 255 // Interpret As Command
)

// Telnet option codes negotiated by MUD servers.
const (
	SGA       byte = 3  // Suppress Go Ahead
	MTTS      byte = 24 // Terminal Type, carrying the MTTS dialogue
	TeloptEOR byte = 25
	NAWS      byte = 31 // Negotiate About Window Size
	MNES      byte = 39
	MSDP      byte = 69
	MSSP      byte = 70
	MCCP2     byte = 86
	MCCP3     byte = 87
	MXP       byte = 91
	GMCP      byte = 201
)

// Text bytes with special meaning on the wire.
const (
	NUL      byte = 0
	BEL      byte = 7
	LF       byte = 10
	CR       byte = 13
	LINEMODE byte = 34
)

// TTYPE subnegotiation verbs.
const (
	ttypeIS   byte = 0
	ttypeSEND byte = 1
)

var commandNames = map[byte]string{
	EOR:  "EOR",
	SE:   "SE",
	NOP:  "NOP",
	GA:   "GA",
	SB:   "SB",
	WILL: "WILL",
	WONT: "WONT",
	DO:   "DO",
	DONT: "DONT",
	IAC:  "IAC",
}

var optionNames = map[byte]string{
	SGA:       "SGA",
	MTTS:      "MTTS",
	TeloptEOR: "EOR",
	NAWS:      "NAWS",
	LINEMODE:  "LINEMODE",
	MNES:      "MNES",
	MSDP:      "MSDP",
	MSSP:      "MSSP",
	MCCP2:     "MCCP2",
	MCCP3:     "MCCP3",
	MXP:       "MXP",
	GMCP:      "GMCP",
}

// CommandName returns a printable name for a command byte.
func CommandName(b byte) string {
	if name, ok := commandNames[b]; ok {
		return name
	}
	return fmt.Sprintf("CMD(%d)", b)
}

// OptionName returns a printable name for an option code.
func OptionName(b byte) string {
	if name, ok := optionNames[b]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", b)
}
