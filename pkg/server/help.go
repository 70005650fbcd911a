package server

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
)

// HelpFile holds help entries parsed from a text file. Entries start with
// a line "& topic"; consecutive topic lines share the body that follows.
type HelpFile struct {
	Entries map[string]string // lowercase topic -> text
}

// LoadHelpFile parses the help file at p.
func LoadHelpFile(p string) (*HelpFile, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("help: %w", err)
	}
	defer f.Close()

	hf := &HelpFile{Entries: make(map[string]string)}
	scanner := bufio.NewScanner(f)

	var topics []string
	var buf strings.Builder

	save := func() {
		text := strings.TrimRight(buf.String(), "\n ")
		for _, topic := range topics {
			hf.Entries[strings.ToLower(topic)] = text
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if topic, ok := strings.CutPrefix(line, "& "); ok {
			topic = strings.TrimSpace(topic)
			if buf.Len() == 0 && len(topics) > 0 {
				topics = append(topics, topic)
				continue
			}
			save()
			topics = []string{topic}
			buf.Reset()
			continue
		}
		if len(topics) > 0 {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("help: reading %s: %w", p, err)
	}
	save()
	return hf, nil
}

// Lookup finds an entry by exact topic, then by the shortest topic with the
// given prefix. A topic containing * or ? lists the matching topics.
func (hf *HelpFile) Lookup(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))

	if strings.ContainsAny(topic, "*?") {
		var matches []string
		for key := range hf.Entries {
			if ok, _ := path.Match(topic, key); ok {
				matches = append(matches, key)
			}
		}
		if len(matches) == 0 {
			return ""
		}
		sort.Strings(matches)
		return fmt.Sprintf("Here are the entries which match '%s':\n  %s", topic, strings.Join(matches, "  "))
	}

	if text, ok := hf.Entries[topic]; ok {
		return text
	}

	var best string
	for key := range hf.Entries {
		if strings.HasPrefix(key, topic) && (best == "" || len(key) < len(best)) {
			best = key
		}
	}
	if best != "" {
		return hf.Entries[best]
	}
	return ""
}
