// Package oob encodes and decodes the payloads of the out-of-band MUD
// protocols carried inside TELNET subnegotiations: GMCP (Generic MUD
// Communication Protocol), MSDP (MUD Server Data Protocol) and MSSP (MUD
// Server Status Protocol). Framing and escaping are left to pkg/telnet.
package oob

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Supports tracks the GMCP packages a client has asked for through
// Core.Supports.Set/Add/Remove. Package names are matched case-insensitively.
type Supports struct {
	pkgs map[string]int
}

// NewSupports returns an empty package set.
func NewSupports() *Supports {
	return &Supports{pkgs: make(map[string]int)}
}

// Set replaces the package list with the entries in jsonData,
// a JSON array such as ["Char 1", "Room 1"].
func (s *Supports) Set(jsonData []byte) error {
	entries, err := parseSupportList(jsonData)
	if err != nil {
		return err
	}
	clear(s.pkgs)
	for name, ver := range entries {
		s.pkgs[name] = ver
	}
	return nil
}

// Add merges the entries in jsonData into the package list.
func (s *Supports) Add(jsonData []byte) error {
	entries, err := parseSupportList(jsonData)
	if err != nil {
		return err
	}
	for name, ver := range entries {
		s.pkgs[name] = ver
	}
	return nil
}

// Remove drops the named packages. Versions are ignored.
func (s *Supports) Remove(jsonData []byte) error {
	entries, err := parseSupportList(jsonData)
	if err != nil {
		return err
	}
	for name := range entries {
		delete(s.pkgs, name)
	}
	return nil
}

// Has reports whether msg (e.g. "Room.Info") belongs to a supported
// package, either exactly or through one of its parents.
func (s *Supports) Has(msg string) bool {
	name := strings.ToLower(msg)
	for {
		if _, ok := s.pkgs[name]; ok {
			return true
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			return false
		}
		name = name[:i]
	}
}

// Len returns the number of supported packages.
func (s *Supports) Len() int {
	return len(s.pkgs)
}

// List returns "name version" entries in sorted order.
func (s *Supports) List() []string {
	out := make([]string, 0, len(s.pkgs))
	for name, ver := range s.pkgs {
		out = append(out, fmt.Sprintf("%s %d", name, ver))
	}
	sort.Strings(out)
	return out
}

func parseSupportList(jsonData []byte) (map[string]int, error) {
	var list []string
	if err := json.Unmarshal(jsonData, &list); err != nil {
		return nil, fmt.Errorf("parse Core.Supports list: %w", err)
	}
	entries := make(map[string]int, len(list))
	for _, entry := range list {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		ver := 1
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil {
				ver = v
			}
		}
		entries[strings.ToLower(fields[0])] = ver
	}
	return entries, nil
}
