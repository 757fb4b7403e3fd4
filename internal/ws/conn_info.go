package ws

import "time"

// ConnInfo is the immutable identity context resolved at handshake time
// and carried by a connection for its whole lifetime.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	BaseURL     string
	ConnectedAt time.Time
}
