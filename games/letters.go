/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import "math/rand/v2"

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// LetterPool hands out round letters for a single room. A letter is only
// drawn again once every other letter has appeared in the current cycle.
type LetterPool struct {
	rng  *rand.Rand
	used [len(alphabet)]bool
	n    int
}

// NewLetterPool returns an empty pool. A nil rng is replaced with a randomly
// seeded one.
func NewLetterPool(rng *rand.Rand) *LetterPool {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &LetterPool{rng: rng}
}

// Draw picks uniformly among the unused letters, starting a new cycle first
// if all of them are spent.
func (p *LetterPool) Draw() byte {
	if p.n == len(alphabet) {
		p.used = [len(alphabet)]bool{}
		p.n = 0
	}

	pick := p.rng.IntN(len(alphabet) - p.n)
	for i := range alphabet {
		if p.used[i] {
			continue
		}
		if pick == 0 {
			p.used[i] = true
			p.n++
			return alphabet[i]
		}
		pick--
	}

	// unreachable while n < len(alphabet)
	return alphabet[0]
}

// Used returns the letters drawn in the current cycle, alphabetically.
func (p *LetterPool) Used() []byte {
	out := make([]byte, 0, p.n)
	for i := range alphabet {
		if p.used[i] {
			out = append(out, alphabet[i])
		}
	}
	return out
}
