/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	uniquePoints = 10
	sharedPoints = 5
)

// PlayerScore is one player's result for a round.
type PlayerScore struct {
	PerCategory CategoryPoints
	Total       int
}

// Normalize trims surrounding whitespace and case-folds an answer.
func Normalize(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// validAnswer reports whether a normalized answer starts with letter.
func validAnswer(normalized string, letter byte) bool {
	if normalized == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(normalized)
	return unicode.ToLower(first) == unicode.ToLower(rune(letter))
}

// Score computes per-category and total points for every player in answers.
//
// Within a category, answers that are empty or do not start with letter score
// nothing. The remaining answers are grouped by normalized text: a lone answer
// earns 10 and every member of a shared group earns 5.
func Score(answers map[string]AnswerSet, letter byte) map[string]PlayerScore {
	out := make(map[string]PlayerScore, len(answers))
	for id := range answers {
		out[id] = PlayerScore{}
	}

	for _, c := range Categories {
		groups := make(map[string][]string)
		for id, set := range answers {
			val := Normalize(set[c])
			if !validAnswer(val, letter) {
				continue
			}
			groups[val] = append(groups[val], id)
		}

		for _, ids := range groups {
			pts := uniquePoints
			if len(ids) > 1 {
				pts = sharedPoints
			}
			for _, id := range ids {
				ps := out[id]
				ps.PerCategory[c] = pts
				ps.Total += pts
				out[id] = ps
			}
		}
	}

	return out
}
