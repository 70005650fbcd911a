package telnet

import "encoding/binary"

// Perspective is one side's view of an option: "will we perform it" for the
// local side, "will the peer perform it" for the remote side.
//
// Negotiating is set when we send WILL/DO and cleared by the first matching
// reply. Answered becomes true once the peer has said anything about the
// option. Enabled mirrors the agreed state.
type Perspective struct {
	Enabled     bool
	Negotiating bool
	Answered    bool
}

// Side names a Perspective.
type Side uint8

const (
	LocalSide Side = iota
	RemoteSide
)

func (s Side) String() string {
	if s == LocalSide {
		return "local"
	}
	return "remote"
}

// policy declares what the server is willing to do for an option and
// whether it opens negotiation itself.
type policy struct {
	supportLocal  bool
	supportRemote bool
	startWill     bool
	startDo       bool
}

var policies = map[byte]policy{
	SGA:  {supportLocal: true, startWill: true},
	MSSP: {supportLocal: true, startWill: true},
	MSDP: {supportLocal: true, startWill: true},
	GMCP: {supportLocal: true, startWill: true},
	NAWS: {supportRemote: true, startDo: true},
	MTTS: {supportRemote: true, startDo: true},
}

// handledOptions is the fixed set of options a Session installs, in the
// order their opening negotiations are sent.
var handledOptions = []byte{MSSP, SGA, MSDP, GMCP, NAWS, MTTS}

// option is the per-code negotiation state machine. It carries no
// reference to its Session; the session is passed into every call.
type option struct {
	code   byte
	policy policy
	local  Perspective
	remote Perspective

	mttsCount int
}

func newOption(code byte) *option {
	return &option{code: code, policy: policies[code]}
}

// receiveNegotiate applies one incoming WILL/WONT/DO/DONT. A reply is sent
// only to refuse, or to accept an offer we did not solicit; a reply that
// matches our own pending request just settles the state.
func (o *option) receiveNegotiate(s *Session, verb byte) {
	switch verb {
	case WILL:
		if !o.policy.supportRemote {
			s.SendNegotiate(DONT, o.code)
			return
		}
		switch {
		case o.remote.Negotiating:
			o.remote.Negotiating = false
			if !o.remote.Enabled {
				o.remote.Enabled = true
				o.enableRemote(s)
			}
		case !o.remote.Enabled:
			o.remote.Enabled = true
			s.SendNegotiate(DO, o.code)
			o.enableRemote(s)
		}
		o.remote.Answered = true

	case DO:
		if !o.policy.supportLocal {
			s.SendNegotiate(WONT, o.code)
			return
		}
		switch {
		case o.local.Negotiating:
			o.local.Negotiating = false
			if !o.local.Enabled {
				o.local.Enabled = true
				o.enableLocal(s)
			}
		case !o.local.Enabled:
			o.local.Enabled = true
			s.SendNegotiate(WILL, o.code)
			o.enableLocal(s)
		}
		o.local.Answered = true

	case WONT:
		if o.remote.Enabled {
			o.remote.Enabled = false
			o.disableRemote(s)
		}
		o.remote.Negotiating = false
		o.remote.Answered = true

	case DONT:
		if o.local.Enabled {
			o.local.Enabled = false
			o.disableLocal(s)
		}
		o.local.Negotiating = false
		o.local.Answered = true
	}
}

func (o *option) enableLocal(s *Session) {
	setLocalFlag(s.caps, o.code, true)
	s.notify(o.code, LocalSide, true)
}

func (o *option) disableLocal(s *Session) {
	setLocalFlag(s.caps, o.code, false)
	s.notify(o.code, LocalSide, false)
}

func (o *option) enableRemote(s *Session) {
	switch o.code {
	case MTTS:
		s.caps.MTTS = true
		s.requestTerminalType()
	case NAWS:
		s.caps.NAWS = true
	}
	s.notify(o.code, RemoteSide, true)
}

func (o *option) disableRemote(s *Session) {
	if o.code == NAWS {
		s.caps.NAWS = false
	}
	s.notify(o.code, RemoteSide, false)
}

func setLocalFlag(caps *Capabilities, code byte, on bool) {
	switch code {
	case SGA:
		caps.SuppressGA = on
	case MSSP:
		caps.MSSP = on
	case MSDP:
		caps.MSDP = on
	case GMCP:
		caps.GMCP = on
	}
}

// subnegotiate handles a subnegotiation addressed to this option.
func (o *option) subnegotiate(s *Session, data []byte) {
	switch o.code {
	case MTTS:
		o.subMTTS(s, data)
	case NAWS:
		// width and height as two big-endian uint16s
		if len(data) < 4 {
			return
		}
		if w := int(binary.BigEndian.Uint16(data[0:2])); w > 0 {
			s.caps.Width = w
		}
		if h := int(binary.BigEndian.Uint16(data[2:4])); h > 0 {
			s.caps.Height = h
		}
	case GMCP:
		s.queue(GameMessage{Type: GameMessageJSON, Data: string(data)})
	case MSDP:
		s.queue(GameMessage{Type: GameMessageMSDP, Data: string(data)})
	}
}
