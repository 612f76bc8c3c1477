/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

// Collector accumulates the answer sets submitted during the active round.
type Collector struct {
	answers map[string]AnswerSet
}

func NewCollector() *Collector {
	return &Collector{answers: make(map[string]AnswerSet)}
}

// Submit records or overwrites the answers for playerID.
func (c *Collector) Submit(playerID string, answers AnswerSet) {
	c.answers[playerID] = answers
}

func (c *Collector) Get(playerID string) (AnswerSet, bool) {
	a, ok := c.answers[playerID]
	return a, ok
}

func (c *Collector) Has(playerID string) bool {
	_, ok := c.answers[playerID]
	return ok
}

// Count is the number of distinct players that have submitted.
func (c *Collector) Count() int {
	return len(c.answers)
}

func (c *Collector) Remove(playerID string) {
	delete(c.answers, playerID)
}

// Backfill gives every listed player without a submission an empty answer set.
func (c *Collector) Backfill(playerIDs []string) int {
	filled := 0
	for _, id := range playerIDs {
		if _, ok := c.answers[id]; ok {
			continue
		}
		c.answers[id] = AnswerSet{}
		filled++
	}
	return filled
}

// Complete reports whether every listed player has submitted.
func (c *Collector) Complete(playerIDs []string) bool {
	if len(playerIDs) == 0 {
		return false
	}
	for _, id := range playerIDs {
		if _, ok := c.answers[id]; !ok {
			return false
		}
	}
	return true
}

func (c *Collector) Reset() {
	clear(c.answers)
}

// Snapshot returns a copy of the collected answers.
func (c *Collector) Snapshot() map[string]AnswerSet {
	out := make(map[string]AnswerSet, len(c.answers))
	for id, a := range c.answers {
		out[id] = a
	}
	return out
}
