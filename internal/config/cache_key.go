package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionPaperKey returns the hash holding the student-facing payload of
// every question drawn for a session, keyed by question id.
func (r *CacheKeyStruct) SessionPaperKey(sessionID string) string {
	return fmt.Sprintf("session:%s:paper", sessionID)
}

// SessionMonitorChannel returns the Redis PubSub channel name for a session's live monitor.
func (r *CacheKeyStruct) SessionMonitorChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:monitor", sessionID)
}

var CacheKey = NewCacheKeyStruct()
