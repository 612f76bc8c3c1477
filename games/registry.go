/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	roomIDLength  = 6
	roomIDLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Registry owns every live room, keyed by room id.
type Registry struct {
	ctx  context.Context
	out  Broadcaster
	opts Options

	mu    sync.RWMutex
	rooms map[string]*Session
}

func NewRegistry(ctx context.Context, out Broadcaster, opts Options) *Registry {
	return &Registry{
		ctx:   ctx,
		out:   out,
		opts:  opts.withDefaults(),
		rooms: make(map[string]*Session),
	}
}

// GetOrCreate returns the room with the given id, creating it on first use.
func (r *Registry) GetOrCreate(roomID string) *Session {
	r.mu.RLock()
	s, ok := r.rooms[roomID]
	r.mu.RUnlock()

	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok = r.rooms[roomID]; !ok {
		s = NewSession(r.ctx, roomID, r.out, r.opts)
		r.rooms[roomID] = s
		log.Info().Str("room", roomID).Msg("room created")
	}
	return s
}

// Lookup returns an existing room without creating one.
func (r *Registry) Lookup(roomID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.rooms[roomID]
	return s, ok
}

// Remove detaches a player from a room. The room itself stays resident.
func (r *Registry) Remove(roomID, playerID string) {
	s, ok := r.Lookup(roomID)
	if !ok {
		return
	}
	if err := s.Leave(playerID); err != nil {
		log.Debug().Err(err).Str("room", roomID).Str("player", playerID).Msg("ignored leave")
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

// NewRoomID generates a random room code that is not currently in use.
func (r *Registry) NewRoomID() string {
	for {
		buf := make([]byte, roomIDLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		for i := range buf {
			buf[i] = roomIDLetters[int(buf[i])%len(roomIDLetters)]
		}
		id := string(buf)

		if _, exists := r.Lookup(id); !exists {
			return id
		}
	}
}

// Reap drops rooms that have no players and have been idle longer than idle.
func (r *Registry) Reap(idle time.Duration) int {
	cutoff := r.opts.Clock.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for id, s := range r.rooms {
		last, players := s.idleSince()
		if players > 0 || !last.Before(cutoff) {
			continue
		}
		s.close()
		delete(r.rooms, id)
		reaped++
		log.Info().Str("room", id).Msg("room reaped")
	}
	return reaped
}

// RunReaper calls Reap every idle/2 until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}

	ticker := r.opts.Clock.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Reap(idle)
		}
	}
}
