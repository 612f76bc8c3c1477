/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"fmt"
	"slices"
)

// BreakdownScore is one player's row in a round's breakdown.
type BreakdownScore struct {
	Player    string         `json:"player"`
	Breakdown CategoryPoints `json:"breakdown"`
	Total     int            `json:"total"`
}

// BreakdownEntry is the finalized scoring record for one round.
type BreakdownEntry struct {
	Round  int              `json:"round"`
	Scores []BreakdownScore `json:"scores"`
}

// Ledger keeps the per-round breakdown of a game. Only the latest round may be
// rewritten; earlier rounds are sealed.
type Ledger struct {
	entries []BreakdownEntry
}

// Record stores the breakdown for round, overwriting an existing entry for
// the same round.
func (l *Ledger) Record(round int, summary []RoundSummary) error {
	entry := BreakdownEntry{
		Round:  round,
		Scores: make([]BreakdownScore, 0, len(summary)),
	}
	for _, s := range summary {
		entry.Scores = append(entry.Scores, BreakdownScore{
			Player:    s.Player,
			Breakdown: s.Breakdown,
			Total:     s.Total,
		})
	}

	n := len(l.entries)
	switch {
	case n == 0 || l.entries[n-1].Round < round:
		l.entries = append(l.entries, entry)
	case l.entries[n-1].Round == round:
		l.entries[n-1] = entry
	default:
		return fmt.Errorf("%w: round %d", ErrRoundSealed, round)
	}

	return nil
}

// Entries returns a copy of every recorded round, oldest first.
func (l *Ledger) Entries() []BreakdownEntry {
	out := make([]BreakdownEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = BreakdownEntry{Round: e.Round, Scores: slices.Clone(e.Scores)}
	}
	return out
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

func (l *Ledger) Reset() {
	l.entries = nil
}
