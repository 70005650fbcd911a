package telnet

import "fmt"

// ColorType is the richest colour mode a client is known to support.
// The values are ordered: NoColor < StandardColor < XtermColor < TrueColor.
type ColorType uint8

const (
	NoColor       ColorType = iota
	StandardColor           // 16-colour ANSI
	XtermColor              // xterm 256-colour
	TrueColor               // 24-bit RGB
)

func (c ColorType) String() string {
	switch c {
	case NoColor:
		return "none"
	case StandardColor:
		return "ansi"
	case XtermColor:
		return "xterm256"
	case TrueColor:
		return "truecolor"
	default:
		return fmt.Sprintf("ColorType(%d)", uint8(c))
	}
}

// Unknown is the placeholder for identification fields not yet learned.
const Unknown = "UNKNOWN"

// Capabilities is the record of facts learned about a client. It is owned by
// the embedder and outlives the Session that fills it in.
type Capabilities struct {
	ColorType     ColorType
	ClientName    string
	ClientVersion string
	HostIP        string
	HostName      string
	Width         int
	Height        int

	UTF8            bool
	ScreenReader    bool
	Proxy           bool
	OSCColorPalette bool
	VT100           bool
	MouseTracking   bool
	NAWS            bool
	MSDP            bool
	GMCP            bool
	MCCP2           bool
	MCCP2Active     bool
	MCCP3           bool
	MCCP3Active     bool
	TeloptEOR       bool
	MTTS            bool
	TTYPE           bool
	MNES            bool
	SuppressGA      bool
	MSLP            bool
	ForceEndline    bool
	Linemode        bool
	MSSP            bool
	MXP             bool
	MXPActive       bool
}

// NewCapabilities returns a record with the protocol defaults: unknown
// identity, a 78x24 screen, no colour and every flag off.
func NewCapabilities() *Capabilities {
	return &Capabilities{
		ColorType:     NoColor,
		ClientName:    Unknown,
		ClientVersion: Unknown,
		HostIP:        Unknown,
		HostName:      Unknown,
		Width:         78,
		Height:        24,
	}
}

// RaiseColor lifts ColorType to at least c. It never lowers it.
func (c *Capabilities) RaiseColor(ct ColorType) {
	if ct > c.ColorType {
		c.ColorType = ct
	}
}
