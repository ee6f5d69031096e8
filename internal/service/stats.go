package service

import "sync/atomic"

// Counters are the process-wide aggregate totals.
type Counters struct {
	Sessions            uint64 `json:"sessions"`
	Connections         uint64 `json:"connections"`
	MultiplayerSessions uint64 `json:"multiplayer_sessions"`
}

// Stats holds monotonic counters shared by the registries.
type Stats struct {
	sessions    atomic.Uint64
	connections atomic.Uint64
	multiplayer atomic.Uint64
}

func NewStats() *Stats {
	return &Stats{}
}

func (that *Stats) Counters() Counters {
	return Counters{
		Sessions:            that.sessions.Load(),
		Connections:         that.connections.Load(),
		MultiplayerSessions: that.multiplayer.Load(),
	}
}

// Restore seeds the counters from persisted totals.
func (that *Stats) Restore(counters Counters) {
	that.sessions.Store(counters.Sessions)
	that.connections.Store(counters.Connections)
	that.multiplayer.Store(counters.MultiplayerSessions)
}

func (that *Stats) sessionCreated() {
	that.sessions.Add(1)
}

func (that *Stats) connectionJoined() {
	that.connections.Add(1)
}

func (that *Stats) multiplayerReached() {
	that.multiplayer.Add(1)
}
