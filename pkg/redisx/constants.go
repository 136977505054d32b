package redisx

import "time"

// Namespace is the top-level key prefix for every key this server writes.
const Namespace = "rtm"

// Key contexts define the second-level key prefixes for specific domains.
const (
	ContextSession  = "session"  // connection session mirrors
	ContextPresence = "presence" // cross-replica presence records
	ContextRoom     = "room"     // room membership sets
	ContextContent  = "content"  // chat messages, posts, stories, comments
	ContextRate     = "rate"     // rate limit windows
	ContextRelay    = "relay"    // cross-replica broadcast channels
)

// TTL constants define the time-to-live durations for different data.
const (
	TTLSession      = 24 * time.Hour      // session mirror TTL
	TTLPresence     = 5 * time.Minute     // presence record TTL, renewed on ping
	TTLMessage      = 7 * 24 * time.Hour  // chat message retention
	TTLPost         = 30 * 24 * time.Hour // post retention
	TTLStoryDefault = 24 * time.Hour      // default story lifetime
	TTLComment      = 30 * 24 * time.Hour // comment retention
	TTLTyping       = 10 * time.Second    // typing indicator key
	TTLFileMeta     = 7 * 24 * time.Hour  // file metadata retention
)
