package oob

import (
	"encoding/json"
	"fmt"
)

// Hello is the body of a client's Core.Hello message.
type Hello struct {
	Client  string `json:"client"`
	Version string `json:"version"`
}

// ParseGMCPMessage splits an incoming GMCP payload into its package name and
// JSON body. The body is nil when the message carries none.
func ParseGMCPMessage(data []byte) (pkg string, jsonData []byte) {
	for i, b := range data {
		if b == ' ' {
			return string(data[:i]), data[i+1:]
		}
	}
	return string(data), nil
}

// EncodeGMCP builds the payload "<pkg> <json>". A nil v yields the bare
// package name.
func EncodeGMCP(pkg string, v any) (string, error) {
	if v == nil {
		return pkg, nil
	}
	jsonData, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode GMCP %s: %w", pkg, err)
	}
	return pkg + " " + string(jsonData), nil
}

// ParseHello decodes a Core.Hello body.
func ParseHello(jsonData []byte) (Hello, error) {
	var h Hello
	if err := json.Unmarshal(jsonData, &h); err != nil {
		return Hello{}, fmt.Errorf("parse Core.Hello: %w", err)
	}
	return h, nil
}
