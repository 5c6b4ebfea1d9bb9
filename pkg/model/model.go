// Package model defines the core domain types for peerchat.
package model

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is an (ip, port) pair a peer can be reached at.
type Endpoint struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// ParseEndpoint parses "ip:port" into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("model: parse endpoint %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("model: parse endpoint %q: invalid port", s)
	}
	return Endpoint{IP: host, Port: port}, nil
}
