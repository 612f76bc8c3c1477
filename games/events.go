/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import "context"

// Outbound event names.
const (
	EventRoomUpdate     = "roomUpdate"
	EventGameStarted    = "gameStarted"
	EventStartRound     = "startRound"
	EventAnswerUpdate   = "answerUpdate"
	EventPlayerStatuses = "playerStatusesUpdate"
	EventRoundResults   = "roundResults"
	EventScoresUpdated  = "scoresUpdated"
	EventGameOver       = "gameOver"
	EventTimerStarted   = "timerStarted"
)

// Broadcaster delivers named events to the members of a room, or to a single
// connection. Implementations must not block.
type Broadcaster interface {
	Broadcast(roomID, event string, payload any)
	Send(connID, event string, payload any)
}

// Recorder archives finished games.
type Recorder interface {
	RecordGame(ctx context.Context, roomID string, result GameResult) error
}

// RoomState is the full room view sent with roomUpdate.
type RoomState struct {
	RoomID        string         `json:"roomId"`
	Phase         Phase          `json:"phase"`
	Players       []Player       `json:"players"`
	CurrentRound  int            `json:"currentRound"`
	CurrentLetter string         `json:"currentLetter"`
	UsedLetters   []string       `json:"usedLetters"`
	Scores        map[string]int `json:"scores"`
	GameEnded     bool           `json:"gameEnded"`
}

type StartRound struct {
	Round  int    `json:"round"`
	Letter string `json:"letter"`
}

type AnswerUpdate struct {
	PlayerID string    `json:"playerId"`
	Answers  AnswerSet `json:"answers"`
}

// PlayerStatus is one row of the completion roster.
type PlayerStatus struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Done    bool       `json:"done"`
	Answers *AnswerSet `json:"answers,omitempty"`
}

type ScoresUpdated struct {
	Results   CategoryResults  `json:"results"`
	Summary   []RoundSummary   `json:"summary"`
	Breakdown []BreakdownEntry `json:"breakdown"`
}

type TimerStarted struct {
	Duration int `json:"duration"`
}

type outbound struct {
	to      string
	event   string
	payload any
}

// outbox collects events while the session lock is held so they can be
// delivered after it is released.
type outbox struct {
	msgs   []outbound
	record *GameResult
}

func (o *outbox) room(event string, payload any) {
	o.msgs = append(o.msgs, outbound{event: event, payload: payload})
}

func (o *outbox) direct(connID, event string, payload any) {
	o.msgs = append(o.msgs, outbound{to: connID, event: event, payload: payload})
}
