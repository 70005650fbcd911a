package server

import (
	"strconv"
	"strings"

	"github.com/crystal-mush/mudtelnet/pkg/oob"
	"github.com/crystal-mush/mudtelnet/pkg/telnet"
)

// msspVars builds the MSSP table: live NAME, PLAYERS and UPTIME rows
// followed by the configured rows. A configured row with one of the live
// names replaces the live value.
func (s *Server) msspVars() []telnet.MSSPVar {
	cfg := s.Config()
	live := []telnet.MSSPVar{
		{Name: "NAME", Value: cfg.Name},
		{Name: "PLAYERS", Value: strconv.Itoa(s.Conns.Count())},
		{Name: "UPTIME", Value: strconv.FormatInt(s.startTime.Unix(), 10)},
	}

	overridden := make(map[string]bool, len(cfg.MSSP))
	for _, e := range cfg.MSSP {
		overridden[strings.ToUpper(e.Name)] = true
	}

	vars := make([]telnet.MSSPVar, 0, len(live)+len(cfg.MSSP))
	for _, v := range live {
		if !overridden[v.Name] {
			vars = append(vars, v)
		}
	}
	for _, e := range cfg.MSSP {
		vars = append(vars, telnet.MSSPVar{Name: strings.ToUpper(e.Name), Value: e.Value})
	}
	return vars
}

// sendMSSP queues the MSSP table on sess in the configured wire format.
// The caller holds the descriptor lock.
func (s *Server) sendMSSP(sess *telnet.Session) {
	vars := s.msspVars()
	if s.Config().MSSPFormat == MSSPStandard {
		sess.SendSub(telnet.MSSP, oob.EncodeMSSP(vars))
		return
	}
	sess.SendMSSP(vars)
}
