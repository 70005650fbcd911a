package events

import "time"

// EventType classifies session events.
type EventType int

const (
	EvText         EventType = iota // Line of text for the recipient
	EvConnect                       // Session opened
	EvDisconnect                    // Session closed
	EvCapabilities                  // Capability record changed
	EvOption                        // Option enabled or disabled
	EvCommand                       // Line typed by the client
	EvGMCP                          // GMCP message from the client
	EvMSDP                          // MSDP message from the client
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvConnect:
		return "connect"
	case EvDisconnect:
		return "disconnect"
	case EvCapabilities:
		return "capabilities"
	case EvOption:
		return "option"
	case EvCommand:
		return "command"
	case EvGMCP:
		return "gmcp"
	case EvMSDP:
		return "msdp"
	default:
		return "unknown"
	}
}

// Event is something that happened on a session. Subscribers pick the
// fields they care about: Text for display, Data for structured consumers.
type Event struct {
	Type      EventType
	Session   int    // Descriptor ID (0 for broadcast)
	Source    int    // Descriptor that caused the event
	Transport string // "tcp" or "websocket"
	Addr      string
	Text      string
	Data      map[string]any
	Time      time.Time
}
