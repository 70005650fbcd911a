package server

import (
	"runtime"

	"github.com/crystal-mush/mudtelnet/pkg/telnet"
)

// ConnectionStats returns a breakdown of the open sessions.
func (s *Server) ConnectionStats() map[string]any {
	descs := s.Conns.AllDescriptors()

	var tcp, ws, cmdCount int
	var bytesSent, bytesRecv int64
	colors := map[string]int{}
	for _, c := range []telnet.ColorType{telnet.NoColor, telnet.StandardColor, telnet.XtermColor, telnet.TrueColor} {
		colors[c.String()] = 0
	}
	gmcp, msdp, mtts := 0, 0, 0

	for _, d := range descs {
		switch d.Transport {
		case TransportTCP:
			tcp++
		case TransportWebSocket:
			ws++
		}
		sent, recv, cmds, _ := d.Stats()
		bytesSent += sent
		bytesRecv += recv
		cmdCount += cmds

		caps := d.Snapshot()
		colors[caps.ColorType.String()]++
		if caps.GMCP {
			gmcp++
		}
		if caps.MSDP {
			msdp++
		}
		if caps.MTTS {
			mtts++
		}
	}

	return map[string]any{
		"total":      len(descs),
		"tcp":        tcp,
		"websocket":  ws,
		"bytes_sent": bytesSent,
		"bytes_recv": bytesRecv,
		"commands":   cmdCount,
		"colors":     colors,
		"gmcp":       gmcp,
		"msdp":       msdp,
		"mtts":       mtts,
	}
}

// MemoryStats returns Go runtime memory statistics.
func MemoryStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"heap_alloc_bytes":  m.HeapAlloc,
		"heap_inuse_bytes":  m.HeapInuse,
		"goroutines":        runtime.NumGoroutine(),
		"gc_cycles":         m.NumGC,
		"gc_pause_total_ns": m.PauseTotalNs,
	}
}
