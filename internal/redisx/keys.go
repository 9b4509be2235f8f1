package redisx

import "time"

const (
	// Last board published by the kitchen process: board:snapshot -> JSON board.Snapshot
	KeyBoardSnapshot = "board:snapshot"

	// Submission lock per terminal: lock:{terminal key} -> random token
	KeyLock = "lock:%s"

	// Dedup of bridged push events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLBoardSnapshot = 10 * time.Minute
	TTLDedup         = 48 * time.Hour
)
