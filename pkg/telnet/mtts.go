package telnet

import (
	"strconv"
	"strings"
)

// MTTS bitfield values reported in the third TTYPE response ("MTTS <n>").
const (
	mttsANSI         = 1
	mttsVT100        = 2
	mttsUTF8         = 4
	mtts256Colors    = 8
	mttsMouse        = 16
	mttsOSCColor     = 32
	mttsScreenReader = 64
	mttsProxy        = 128
	mttsTrueColor    = 256
	mttsMNES         = 512
	mttsMSLP         = 1024
)

// xtermClients are clients known to render 256 colours even when they do
// not say so in later TTYPE responses.
var xtermClients = map[string]bool{
	"ATLANTIS":   true,
	"CMUD":       true,
	"KILDCLIENT": true,
	"MUDLET":     true,
	"PUTTY":      true,
	"BEIP":       true,
	"POTATO":     true,
	"TINYFUGUE":  true,
	"MUSHCLIENT": true,
}

func (s *Session) requestTerminalType() {
	s.SendSub(MTTS, []byte{ttypeSEND})
}

// subMTTS advances the TTYPE dialogue by one response. Each stage reveals a
// different facet: client name, terminal dialect, then the MTTS bitfield.
func (o *option) subMTTS(s *Session, data []byte) {
	if len(data) < 2 || data[0] != ttypeIS {
		return
	}

	mtts := strings.ToUpper(string(data[1:]))
	// A repeated answer means the client has nothing more to say.
	if mtts == s.mttsLast {
		return
	}

	switch o.mttsCount {
	case 0:
		mttsClient(s.caps, mtts)
	case 1:
		mttsTerminal(s.caps, mtts)
	case 2:
		mttsBitfield(s.caps, mtts)
	}

	o.mttsCount++
	s.mttsLast = mtts
	if o.mttsCount < s.mttsRequests {
		s.requestTerminalType()
	}
}

// mttsClient handles the first response: "<client> [version]".
func mttsClient(caps *Capabilities, mtts string) {
	fields := strings.Fields(mtts)
	switch len(fields) {
	case 2:
		caps.ClientName = fields[0]
		caps.ClientVersion = fields[1]
	case 1:
		caps.ClientName = fields[0]
	}

	if xtermClients[caps.ClientName] {
		caps.RaiseColor(XtermColor)
	}
	// Anything that speaks MTTS at all handles ANSI colour.
	caps.RaiseColor(StandardColor)
}

// mttsTerminal handles the second response: "<terminal>[-<variant>]".
func mttsTerminal(caps *Capabilities, mtts string) {
	parts := strings.Split(mtts, "-")
	if len(parts) > 2 {
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "256COLOR":
			caps.RaiseColor(XtermColor)
		case "TRUECOLOR":
			caps.RaiseColor(TrueColor)
		}
	}

	switch parts[0] {
	case "ANSI":
		caps.RaiseColor(StandardColor)
	case "VT100":
		caps.RaiseColor(StandardColor)
		caps.VT100 = true
	case "XTERM":
		caps.RaiseColor(XtermColor)
		caps.VT100 = true
	}
}

// mttsBitfield handles the third response: "MTTS <decimal bitfield>".
func mttsBitfield(caps *Capabilities, mtts string) {
	fields := strings.Fields(mtts)
	if len(fields) < 2 || fields[0] != "MTTS" {
		return
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil || v < 0 {
		return
	}

	if v&mttsANSI != 0 {
		caps.RaiseColor(StandardColor)
	}
	if v&mttsVT100 != 0 {
		caps.VT100 = true
	}
	if v&mttsUTF8 != 0 {
		caps.UTF8 = true
	}
	if v&mtts256Colors != 0 {
		caps.RaiseColor(XtermColor)
	}
	if v&mttsMouse != 0 {
		caps.MouseTracking = true
	}
	if v&mttsOSCColor != 0 {
		caps.OSCColorPalette = true
	}
	if v&mttsScreenReader != 0 {
		caps.ScreenReader = true
	}
	if v&mttsProxy != 0 {
		caps.Proxy = true
	}
	if v&mttsTrueColor != 0 {
		caps.RaiseColor(TrueColor)
	}
	if v&mttsMNES != 0 {
		caps.MNES = true
	}
	if v&mttsMSLP != 0 {
		caps.MSLP = true
	}
}
