/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"encoding/json"
	"slices"
)

// CategoryScore is one player's answer and points in a single category.
type CategoryScore struct {
	PlayerID string `json:"id"`
	Player   string `json:"player"`
	Answer   string `json:"answer"`
	Points   int    `json:"points"`
}

// CategoryResults holds the scored answers of every player, per category.
type CategoryResults [numCategories][]CategoryScore

func (r CategoryResults) MarshalJSON() ([]byte, error) {
	m := make(map[string][]CategoryScore, numCategories)
	for _, c := range Categories {
		rows := r[c]
		if rows == nil {
			rows = []CategoryScore{}
		}
		m[categoryKeys[c]] = rows
	}
	return json.Marshal(m)
}

func (r *CategoryResults) UnmarshalJSON(b []byte) error {
	var raw map[string][]CategoryScore
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var out CategoryResults
	for key, rows := range raw {
		c, err := ParseCategory(key)
		if err != nil {
			continue
		}
		out[c] = rows
	}
	*r = out
	return nil
}

func (r CategoryResults) clone() CategoryResults {
	var out CategoryResults
	for i := range r {
		out[i] = slices.Clone(r[i])
	}
	return out
}

// RoundSummary is one player's total for a round with the per-category split.
type RoundSummary struct {
	PlayerID  string         `json:"id"`
	Player    string         `json:"player"`
	Total     int            `json:"total"`
	Breakdown CategoryPoints `json:"breakdown"`
}

// Summarize folds category results into per-player summaries, in order of
// first appearance.
func Summarize(results CategoryResults) []RoundSummary {
	index := make(map[string]int)
	out := make([]RoundSummary, 0)

	for _, c := range Categories {
		for _, row := range results[c] {
			i, ok := index[row.PlayerID]
			if !ok {
				i = len(out)
				index[row.PlayerID] = i
				out = append(out, RoundSummary{PlayerID: row.PlayerID, Player: row.Player})
			}
			out[i].Breakdown[c] += row.Points
			out[i].Total += row.Points
		}
	}

	return out
}

// RoundResult is the scored outcome of one round.
type RoundResult struct {
	RoundNumber int             `json:"roundNumber"`
	Letter      string          `json:"letter"`
	Results     CategoryResults `json:"results"`
	Summary     []RoundSummary  `json:"summary"`
	IsFinal     bool            `json:"isFinal"`
}

func (r *RoundResult) clone() *RoundResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Results = r.Results.clone()
	out.Summary = slices.Clone(r.Summary)
	return &out
}

// resummarize recomputes the summary after the results were edited.
func (r *RoundResult) resummarize() {
	r.Summary = Summarize(r.Results)
}

// Standing is a player's cumulative score at the end of a game.
type Standing struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// GameResult is the final ranking plus the full per-round ledger.
type GameResult struct {
	Scores    []Standing       `json:"scores"`
	Winner    *Standing        `json:"winner"`
	Breakdown []BreakdownEntry `json:"breakdown"`
}

// rank sorts standings by points, highest first, keeping the given order for
// ties.
func rank(standings []Standing) GameResult {
	sorted := slices.Clone(standings)
	slices.SortStableFunc(sorted, func(a, b Standing) int {
		return b.Points - a.Points
	})

	res := GameResult{Scores: sorted}
	if len(sorted) > 0 {
		w := sorted[0]
		res.Winner = &w
	}
	return res
}
