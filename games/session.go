/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultCollectionTimeout is how long stragglers get once two players
	// have submitted in a room of three or more.
	DefaultCollectionTimeout = 10 * time.Second

	timeoutMinPlayers     = 3
	timeoutTriggerAnswers = 2

	recordTimeout = 5 * time.Second
)

// Player is a member of a room, identified by its connection id.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// Phase is the round state of a room.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseRoundActive
	PhaseRoundReview
	PhaseGameOver
)

var phaseNames = [...]string{"lobby", "roundActive", "roundReview", "gameOver"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Options tune new sessions.
type Options struct {
	CollectionTimeout time.Duration
	Clock             clockwork.Clock
	// NewRand seeds each room's letter pool. Nil uses a random seed.
	NewRand  func() *rand.Rand
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.CollectionTimeout <= 0 {
		o.CollectionTimeout = DefaultCollectionTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Session is the state machine of a single room. All mutations happen under
// mu; the events they produce are delivered afterwards under sendMu, which is
// taken before mu is released so delivery order matches mutation order.
type Session struct {
	id       string
	ctx      context.Context
	out      Broadcaster
	clock    clockwork.Clock
	timeout  time.Duration
	recorder Recorder

	mu     sync.Mutex
	sendMu sync.Mutex

	phase      Phase
	players    []Player
	round      int
	letter     byte
	letters    *LetterPool
	collector  *Collector
	scores     map[string]int
	ledger     Ledger
	gameEnded  bool
	lastActive time.Time

	pending       *RoundResult
	pendingSent   bool
	pendingFolded bool

	timer      clockwork.Timer
	timerArmed bool
	roundSeq   uint64
}

// NewSession returns a room in the lobby at round 1 with no host.
func NewSession(ctx context.Context, roomID string, out Broadcaster, opts Options) *Session {
	opts = opts.withDefaults()

	var rng *rand.Rand
	if opts.NewRand != nil {
		rng = opts.NewRand()
	}

	return &Session{
		id:         roomID,
		ctx:        ctx,
		out:        out,
		clock:      opts.Clock,
		timeout:    opts.CollectionTimeout,
		recorder:   opts.Recorder,
		phase:      PhaseLobby,
		round:      1,
		letters:    NewLetterPool(rng),
		collector:  NewCollector(),
		scores:     make(map[string]int),
		lastActive: opts.Clock.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// do runs fn under the session lock, then delivers whatever it queued.
func (s *Session) do(fn func(ob *outbox) error) error {
	var ob outbox

	s.mu.Lock()
	err := fn(&ob)
	s.lastActive = s.clock.Now()
	s.sendMu.Lock()
	s.mu.Unlock()

	defer s.sendMu.Unlock()

	for _, m := range ob.msgs {
		if m.to == "" {
			s.out.Broadcast(s.id, m.event, m.payload)
		} else {
			s.out.Send(m.to, m.event, m.payload)
		}
	}

	if ob.record != nil && s.recorder != nil {
		ctx, cancel := context.WithTimeout(s.ctx, recordTimeout)
		defer cancel()
		if rerr := s.recorder.RecordGame(ctx, s.id, *ob.record); rerr != nil {
			log.Error().Err(rerr).Str("room", s.id).Msg("failed to record game")
		}
	}

	return err
}

func (s *Session) indexLocked(playerID string) int {
	return slices.IndexFunc(s.players, func(p Player) bool { return p.ID == playerID })
}

func (s *Session) hasHostLocked() bool {
	return slices.ContainsFunc(s.players, func(p Player) bool { return p.IsHost })
}

func (s *Session) requireHostLocked(playerID string) error {
	i := s.indexLocked(playerID)
	if i < 0 {
		return ErrUnknownPlayer
	}
	if !s.players[i].IsHost {
		return ErrNotHost
	}
	return nil
}

func (s *Session) playerIDsLocked() []string {
	ids := make([]string, len(s.players))
	for i, p := range s.players {
		ids[i] = p.ID
	}
	return ids
}

func (s *Session) stateLocked() RoomState {
	used := s.letters.Used()
	letters := make([]string, len(used))
	for i, l := range used {
		letters[i] = string(l)
	}

	var current string
	if s.letter != 0 {
		current = string(s.letter)
	}

	scores := make(map[string]int, len(s.scores))
	for id, pts := range s.scores {
		scores[id] = pts
	}

	return RoomState{
		RoomID:        s.id,
		Phase:         s.phase,
		Players:       slices.Clone(s.players),
		CurrentRound:  s.round,
		CurrentLetter: current,
		UsedLetters:   letters,
		Scores:        scores,
		GameEnded:     s.gameEnded,
	}
}

func (s *Session) statusesLocked() []PlayerStatus {
	out := make([]PlayerStatus, 0, len(s.players))
	for _, p := range s.players {
		st := PlayerStatus{ID: p.ID, Name: p.Name}
		if a, ok := s.collector.Get(p.ID); ok {
			st.Done = true
			st.Answers = &a
		}
		out = append(out, st)
	}
	return out
}

func (s *Session) gameResultLocked() GameResult {
	standings := make([]Standing, 0, len(s.players))
	for _, p := range s.players {
		standings = append(standings, Standing{Name: p.Name, Points: s.scores[p.ID]})
	}
	res := rank(standings)
	res.Breakdown = s.ledger.Entries()
	return res
}

// Join adds a player unless the connection is already in the room. Host is
// granted only when requested and no host exists yet.
func (s *Session) Join(playerID, name string, claimHost bool) {
	_ = s.do(func(ob *outbox) error {
		if s.indexLocked(playerID) < 0 {
			p := Player{
				ID:     playerID,
				Name:   name,
				IsHost: claimHost && !s.hasHostLocked(),
			}
			s.players = append(s.players, p)

			log.Info().Str("room", s.id).Str("player", name).Bool("host", p.IsHost).Msg("player joined")
		}

		ob.room(EventRoomUpdate, s.stateLocked())
		return nil
	})
}

// Leave removes a player and everything recorded for them. A departing host
// hands the role to the earliest-joined remaining player.
func (s *Session) Leave(playerID string) error {
	return s.do(func(ob *outbox) error {
		i := s.indexLocked(playerID)
		if i < 0 {
			return ErrUnknownPlayer
		}

		gone := s.players[i]
		s.players = slices.Delete(s.players, i, i+1)
		s.collector.Remove(playerID)
		delete(s.scores, playerID)

		if gone.IsHost && len(s.players) > 0 {
			s.players[0].IsHost = true
			log.Info().Str("room", s.id).Str("player", s.players[0].Name).Msg("host handed over")
		}

		log.Info().Str("room", s.id).Str("player", gone.Name).Msg("player left")

		if len(s.players) == 0 {
			s.cancelTimeoutLocked()
		}

		ob.room(EventRoomUpdate, s.stateLocked())
		ob.room(EventPlayerStatuses, s.statusesLocked())

		s.tryFinalizeLocked(ob)
		return nil
	})
}

// Start begins round 1. Only the host may start, and only from the lobby.
func (s *Session) Start(by string) error {
	return s.do(func(ob *outbox) error {
		if err := s.requireHostLocked(by); err != nil {
			return err
		}
		if s.phase != PhaseLobby {
			return ErrWrongPhase
		}

		s.gameEnded = false
		s.beginRoundLocked(1)

		ob.room(EventGameStarted, struct{}{})
		ob.room(EventStartRound, StartRound{Round: s.round, Letter: string(s.letter)})
		return nil
	})
}

// beginRoundLocked resets everything scoped to a single round and draws a
// new letter. Any pending collection timeout is cancelled.
func (s *Session) beginRoundLocked(round int) {
	s.cancelTimeoutLocked()
	s.roundSeq++
	s.timerArmed = false

	s.round = round
	s.letter = s.letters.Draw()
	s.collector.Reset()
	s.pending = nil
	s.pendingSent = false
	s.pendingFolded = false
	s.phase = PhaseRoundActive

	log.Info().Str("room", s.id).Int("round", s.round).Str("letter", string(s.letter)).Msg("round started")
}

// Submit records a player's answers for the active round and finalizes the
// round once everyone is in.
func (s *Session) Submit(playerID string, answers AnswerSet) error {
	return s.do(func(ob *outbox) error {
		if s.indexLocked(playerID) < 0 {
			return ErrUnknownPlayer
		}
		if s.phase != PhaseRoundActive && s.phase != PhaseRoundReview {
			return ErrWrongPhase
		}

		s.collector.Submit(playerID, answers)

		ob.room(EventAnswerUpdate, AnswerUpdate{PlayerID: playerID, Answers: answers})
		ob.room(EventPlayerStatuses, s.statusesLocked())

		log.Debug().Str("room", s.id).Int("submitted", s.collector.Count()).Int("expected", len(s.players)).Msg("answers submitted")

		if s.pendingSent {
			return nil
		}

		s.tryFinalizeLocked(ob)

		if !s.pendingSent && !s.timerArmed &&
			len(s.players) >= timeoutMinPlayers &&
			s.collector.Count() == timeoutTriggerAnswers {
			s.armTimeoutLocked(ob)
		}

		return nil
	})
}

func (s *Session) armTimeoutLocked(ob *outbox) {
	seq := s.roundSeq
	s.timerArmed = true
	s.timer = s.clock.AfterFunc(s.timeout, func() {
		s.collectionExpired(seq)
	})

	ob.room(EventTimerStarted, TimerStarted{Duration: int(s.timeout / time.Second)})

	log.Debug().Str("room", s.id).Int("round", s.round).Dur("timeout", s.timeout).Msg("collection timer started")
}

func (s *Session) cancelTimeoutLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// collectionExpired back-fills empty answers for everyone still missing and
// finalizes the round. A timer from a superseded round does nothing.
func (s *Session) collectionExpired(seq uint64) {
	_ = s.do(func(ob *outbox) error {
		if seq != s.roundSeq {
			return nil
		}
		s.timer = nil

		if s.phase != PhaseRoundActive || s.pendingSent {
			return nil
		}

		filled := s.collector.Backfill(s.playerIDsLocked())
		log.Info().Str("room", s.id).Int("round", s.round).Int("filled", filled).Msg("collection timed out")

		if filled > 0 {
			ob.room(EventPlayerStatuses, s.statusesLocked())
		}

		s.tryFinalizeLocked(ob)
		return nil
	})
}

// tryFinalizeLocked scores the round at most once, when every player in the
// room has submitted.
func (s *Session) tryFinalizeLocked(ob *outbox) bool {
	if s.phase != PhaseRoundActive || s.pendingSent {
		return false
	}
	if !s.collector.Complete(s.playerIDsLocked()) {
		return false
	}

	scores := Score(s.collector.Snapshot(), s.letter)

	var results CategoryResults
	for _, c := range Categories {
		rows := make([]CategoryScore, 0, len(s.players))
		for _, p := range s.players {
			a, _ := s.collector.Get(p.ID)
			rows = append(rows, CategoryScore{
				PlayerID: p.ID,
				Player:   p.Name,
				Answer:   a[c],
				Points:   scores[p.ID].PerCategory[c],
			})
		}
		results[c] = rows
	}

	s.pending = &RoundResult{
		RoundNumber: s.round,
		Letter:      string(s.letter),
		Results:     results,
	}
	s.pending.resummarize()
	s.pendingSent = true
	s.phase = PhaseRoundReview
	s.cancelTimeoutLocked()

	if err := s.ledger.Record(s.round, s.pending.Summary); err != nil {
		log.Error().Err(err).Str("room", s.id).Msg("failed to record breakdown")
	}

	ob.room(EventRoundResults, s.pending.clone())

	log.Info().Str("room", s.id).Int("round", s.round).Msg("round scored")
	return true
}

// Snapshot returns the pending round result, if any, and the final game
// result once the game has ended.
func (s *Session) Snapshot() (*RoundResult, *GameResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var game *GameResult
	if s.gameEnded {
		res := s.gameResultLocked()
		game = &res
	}
	return s.pending.clone(), game
}

// SendSnapshot replies to connID with the pending result and, after the game
// ends, the final standings. With neither available nothing is sent.
func (s *Session) SendSnapshot(connID string) {
	_ = s.do(func(ob *outbox) error {
		if s.pending != nil {
			ob.direct(connID, EventRoundResults, s.pending.clone())
		}
		if s.gameEnded {
			ob.direct(connID, EventGameOver, s.gameResultLocked())
		}
		return nil
	})
}

// SendStatuses replies to connID with the completion roster.
func (s *Session) SendStatuses(connID string) {
	_ = s.do(func(ob *outbox) error {
		ob.direct(connID, EventPlayerStatuses, s.statusesLocked())
		return nil
	})
}

// review runs a host edit against the pending result and publishes it.
func (s *Session) review(by string, edit func(r *RoundResult) error) error {
	return s.do(func(ob *outbox) error {
		if err := s.requireHostLocked(by); err != nil {
			return err
		}
		if s.phase != PhaseRoundReview {
			return ErrWrongPhase
		}
		if s.pending == nil {
			return ErrNoPendingResult
		}

		if err := edit(s.pending); err != nil {
			return err
		}

		s.pending.resummarize()
		if err := s.ledger.Record(s.round, s.pending.Summary); err != nil {
			return err
		}

		ob.room(EventScoresUpdated, ScoresUpdated{
			Results:   s.pending.Results.clone(),
			Summary:   slices.Clone(s.pending.Summary),
			Breakdown: s.ledger.Entries(),
		})
		return nil
	})
}

// OverrideScore sets the points one player earned in one category.
func (s *Session) OverrideScore(by string, c Category, playerID string, points int) error {
	if c < 0 || c >= numCategories {
		return ErrUnknownCategory
	}
	return s.review(by, func(r *RoundResult) error {
		for i := range r.Results[c] {
			if r.Results[c][i].PlayerID == playerID {
				r.Results[c][i].Points = points
				return nil
			}
		}
		return ErrUnknownPlayer
	})
}

// MarkValid gives a player full points in a category.
func (s *Session) MarkValid(by string, c Category, playerID string) error {
	return s.OverrideScore(by, c, playerID, uniquePoints)
}

// SplitPoints gives shared points to every answer in c matching text,
// ignoring case and surrounding whitespace.
func (s *Session) SplitPoints(by string, c Category, text string) error {
	if c < 0 || c >= numCategories {
		return ErrUnknownCategory
	}
	want := Normalize(text)
	return s.review(by, func(r *RoundResult) error {
		for i := range r.Results[c] {
			if Normalize(r.Results[c][i].Answer) == want {
				r.Results[c][i].Points = sharedPoints
			}
		}
		return nil
	})
}

// ReplaceScores applies a whole edited result set from the host. Rows are
// matched by player id, falling back to the player name; unmatched rows are
// ignored.
func (s *Session) ReplaceScores(by string, edited CategoryResults) error {
	return s.review(by, func(r *RoundResult) error {
		for _, c := range Categories {
			for _, in := range edited[c] {
				for i := range r.Results[c] {
					row := &r.Results[c][i]
					if (in.PlayerID != "" && row.PlayerID == in.PlayerID) ||
						(in.PlayerID == "" && row.Player == in.Player) {
						row.Points = in.Points
						break
					}
				}
			}
		}
		return nil
	})
}

// foldPendingLocked adds the pending round totals to the cumulative scores,
// at most once per result.
func (s *Session) foldPendingLocked() {
	if s.pending == nil || s.pendingFolded {
		return
	}
	for _, sum := range s.pending.Summary {
		if s.indexLocked(sum.PlayerID) < 0 {
			continue
		}
		s.scores[sum.PlayerID] += sum.Total
	}
	s.pendingFolded = true
}

// AdvanceRound banks the reviewed result and starts the next round.
func (s *Session) AdvanceRound(by string) error {
	return s.do(func(ob *outbox) error {
		if err := s.requireHostLocked(by); err != nil {
			return err
		}
		if s.pending == nil || s.pendingFolded {
			return ErrNoPendingResult
		}
		if s.phase != PhaseRoundReview {
			return ErrWrongPhase
		}

		s.foldPendingLocked()
		s.beginRoundLocked(s.round + 1)

		ob.room(EventStartRound, StartRound{Round: s.round, Letter: string(s.letter)})
		ob.room(EventPlayerStatuses, s.statusesLocked())
		return nil
	})
}

// EndGame banks any pending result, ends the game and publishes the final
// standings. Repeating it republishes without scoring again.
func (s *Session) EndGame(by string) error {
	return s.do(func(ob *outbox) error {
		if err := s.requireHostLocked(by); err != nil {
			return err
		}
		if s.phase == PhaseLobby {
			return ErrWrongPhase
		}

		first := !s.gameEnded

		s.cancelTimeoutLocked()
		s.roundSeq++
		s.foldPendingLocked()
		s.gameEnded = true
		s.phase = PhaseGameOver

		res := s.gameResultLocked()
		ob.room(EventGameOver, res)

		if first {
			ob.record = &res
			log.Info().Str("room", s.id).Int("rounds", s.ledger.Len()).Msg("game over")
		}
		return nil
	})
}

// Restart resets the game to round 1 with the same players.
func (s *Session) Restart(by string) error {
	return s.do(func(ob *outbox) error {
		if err := s.requireHostLocked(by); err != nil {
			return err
		}
		if s.phase == PhaseLobby {
			return ErrWrongPhase
		}

		clear(s.scores)
		s.ledger.Reset()
		s.gameEnded = false
		s.beginRoundLocked(1)

		ob.room(EventStartRound, StartRound{Round: s.round, Letter: string(s.letter)})
		ob.room(EventPlayerStatuses, s.statusesLocked())
		return nil
	})
}

// PlayerIDByName finds the first player with the given display name.
func (s *Session) PlayerIDByName(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.players {
		if p.Name == name {
			return p.ID, true
		}
	}
	return "", false
}

// State returns the current room view.
func (s *Session) State() RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateLocked()
}

// Breakdown returns the per-round ledger.
func (s *Session) Breakdown() []BreakdownEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ledger.Entries()
}

// TimerArmed reports whether a collection timeout was scheduled this round.
func (s *Session) TimerArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timerArmed
}

func (s *Session) idleSince() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActive, len(s.players)
}

// close cancels any outstanding timer so a reaped room cannot fire.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimeoutLocked()
	s.roundSeq++
}
