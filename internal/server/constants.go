// Package server exposes the session lifecycle over HTTP and WebSocket
package server

import "time"

// Server configuration constants
const (
	// Inbound WebSocket message rate limiting (sliding window per connection)
	RateLimitMessages = 30
	RateLimitWindow   = time.Second

	// Timeout for one outbound WebSocket write
	WriteTimeout = 5 * time.Second
)
