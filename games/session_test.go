/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	room    string
	to      string
	event   string
	payload any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) Broadcast(roomID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{room: roomID, event: event, payload: payload})
}

func (b *recordingBroadcaster) Send(connID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{to: connID, event: event, payload: payload})
}

func (b *recordingBroadcaster) named(event string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []sentEvent
	for _, e := range b.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBroadcaster) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.event
	}
	return out
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []GameResult
}

func (r *fakeRecorder) RecordGame(_ context.Context, _ string, res GameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type harness struct {
	s     *Session
	out   *recordingBroadcaster
	clock *clockwork.FakeClock
	rec   *fakeRecorder
}

func newHarness(t *testing.T, players ...string) *harness {
	t.Helper()

	h := &harness{
		out:   &recordingBroadcaster{},
		clock: clockwork.NewFakeClock(),
		rec:   &fakeRecorder{},
	}
	h.s = NewSession(context.Background(), "ROOM", h.out, Options{
		Clock:    h.clock,
		NewRand:  func() *rand.Rand { return rand.New(rand.NewPCG(42, 43)) },
		Recorder: h.rec,
	})

	for i, p := range players {
		h.s.Join(p, p, i == 0)
	}
	return h
}

func (h *harness) letter() byte {
	return h.s.State().CurrentLetter[0]
}

// valid returns an answer that starts with the round letter.
func (h *harness) valid(word string) string {
	return string(h.letter()) + word
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Start(h.s.State().Players[0].ID))
}

func TestSession_JoinIsIdempotentAndHostIsUnique(t *testing.T) {
	h := newHarness(t)

	h.s.Join("a", "Ann", true)
	h.s.Join("b", "Bob", true)
	h.s.Join("a", "Ann", true)

	players := h.s.State().Players
	require.Len(t, players, 2)
	assert.True(t, players[0].IsHost)
	assert.False(t, players[1].IsHost)
	assert.Len(t, h.out.named(EventRoomUpdate), 3)
}

func TestSession_StartRequiresHostAndLobby(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.out.reset()

	assert.ErrorIs(t, h.s.Start("b"), ErrNotHost)
	assert.ErrorIs(t, h.s.Start("zz"), ErrUnknownPlayer)
	assert.Empty(t, h.out.names())

	require.NoError(t, h.s.Start("a"))
	assert.Equal(t, []string{EventGameStarted, EventStartRound}, h.out.names())

	st := h.s.State()
	assert.Equal(t, PhaseRoundActive, st.Phase)
	assert.Equal(t, 1, st.CurrentRound)
	assert.Len(t, st.CurrentLetter, 1)

	assert.ErrorIs(t, h.s.Start("a"), ErrWrongPhase)
}

func TestSession_TwoPlayersNeverArmTimeout(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.start(t)

	require.NoError(t, h.s.Submit("a", answers(CategoryName, h.valid("nn"))))
	assert.False(t, h.s.TimerArmed())
	assert.Empty(t, h.out.named(EventRoundResults))

	require.NoError(t, h.s.Submit("b", answers(CategoryName, h.valid("ob"))))
	assert.False(t, h.s.TimerArmed())
	assert.Empty(t, h.out.named(EventTimerStarted))

	results := h.out.named(EventRoundResults)
	require.Len(t, results, 1)
	res := results[0].payload.(*RoundResult)
	assert.Equal(t, 1, res.RoundNumber)
	assert.Equal(t, 10, res.Summary[0].Total)
	assert.Equal(t, 10, res.Summary[1].Total)
	assert.Equal(t, PhaseRoundReview, h.s.State().Phase)
}

func TestSession_TimeoutArmedOnSecondSubmissionOnly(t *testing.T) {
	h := newHarness(t, "a", "b", "c", "d")
	h.start(t)

	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	assert.False(t, h.s.TimerArmed())

	require.NoError(t, h.s.Submit("b", AnswerSet{}))
	assert.True(t, h.s.TimerArmed())
	require.Len(t, h.out.named(EventTimerStarted), 1)

	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	require.NoError(t, h.s.Submit("c", AnswerSet{}))
	assert.Len(t, h.out.named(EventTimerStarted), 1)
	assert.Empty(t, h.out.named(EventRoundResults))
}

func TestSession_TimeoutBackfillsAndFinalizes(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.start(t)

	require.NoError(t, h.s.Submit("a", answers(CategoryPlace, h.valid("ville"))))
	require.NoError(t, h.s.Submit("b", answers(CategoryPlace, h.valid("ton"))))

	h.clock.Advance(DefaultCollectionTimeout)

	require.Eventually(t, func() bool {
		return len(h.out.named(EventRoundResults)) == 1
	}, time.Second, 5*time.Millisecond)

	res, _ := h.s.Snapshot()
	require.NotNil(t, res)
	rows := res.Results[CategoryPlace]
	require.Len(t, rows, 3)
	assert.Equal(t, "c", rows[2].PlayerID)
	assert.Equal(t, "", rows[2].Answer)
	assert.Equal(t, 0, rows[2].Points)
	assert.Equal(t, 10, rows[0].Points)

	require.NoError(t, h.s.Submit("c", answers(CategoryPlace, h.valid("burg"))))
	h.clock.Advance(DefaultCollectionTimeout)
	assert.Len(t, h.out.named(EventRoundResults), 1)
}

func TestSession_FinalizeIsAtMostOnce(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.start(t)

	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	require.NoError(t, h.s.Submit("b", AnswerSet{}))
	require.NoError(t, h.s.Submit("c", AnswerSet{}))
	require.Len(t, h.out.named(EventRoundResults), 1)

	// the timer was cancelled when the round completed
	h.clock.Advance(2 * DefaultCollectionTimeout)
	require.NoError(t, h.s.Submit("c", answers(CategoryName, h.valid("x"))))

	assert.Never(t, func() bool {
		return len(h.out.named(EventRoundResults)) != 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	res, _ := h.s.Snapshot()
	assert.Equal(t, 0, res.Summary[2].Total)
}

func TestSession_RoundResetCancelsTimeout(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.start(t)

	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	require.NoError(t, h.s.Submit("b", AnswerSet{}))
	require.True(t, h.s.TimerArmed())

	require.NoError(t, h.s.Restart("a"))
	assert.False(t, h.s.TimerArmed())

	h.clock.Advance(DefaultCollectionTimeout)

	assert.Never(t, func() bool {
		return len(h.out.named(EventRoundResults)) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, PhaseRoundActive, h.s.State().Phase)
}

func TestSession_UnknownAndLateSubmissions(t *testing.T) {
	h := newHarness(t, "a", "b")

	assert.ErrorIs(t, h.s.Submit("a", AnswerSet{}), ErrWrongPhase)

	h.start(t)
	assert.ErrorIs(t, h.s.Submit("ghost", AnswerSet{}), ErrUnknownPlayer)

	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	require.NoError(t, h.s.Submit("b", AnswerSet{}))

	require.NoError(t, h.s.Submit("b", answers(CategoryMovie, h.valid("ovie"))))
	res, _ := h.s.Snapshot()
	assert.Equal(t, 0, res.Summary[1].Total)
	assert.Len(t, h.out.named(EventAnswerUpdate), 3)
}

func TestSession_HostOverrides(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.start(t)

	require.NoError(t, h.s.Submit("a", answers(CategoryThing, h.valid("ox"))))
	require.NoError(t, h.s.Submit("b", answers(CategoryThing, "  "+h.valid("OX"))))
	require.NoError(t, h.s.Submit("c", answers(CategoryThing, "9zz")))

	assert.ErrorIs(t, h.s.MarkValid("b", CategoryThing, "c"), ErrNotHost)

	require.NoError(t, h.s.MarkValid("a", CategoryThing, "c"))
	res, _ := h.s.Snapshot()
	assert.Equal(t, 10, res.Summary[2].Total)

	require.NoError(t, h.s.OverrideScore("a", CategoryThing, "a", 10))
	res, _ = h.s.Snapshot()
	assert.Equal(t, 10, res.Summary[0].Total)
	assert.Equal(t, 5, res.Summary[1].Total)

	require.NoError(t, h.s.SplitPoints("a", CategoryThing, h.valid("ox")))
	res, _ = h.s.Snapshot()
	assert.Equal(t, 5, res.Summary[0].Total)
	assert.Equal(t, 5, res.Summary[1].Total)
	assert.Equal(t, 10, res.Summary[2].Total)

	assert.ErrorIs(t, h.s.OverrideScore("a", CategoryThing, "nobody", 3), ErrUnknownPlayer)
	assert.ErrorIs(t, h.s.OverrideScore("a", Category(42), "a", 3), ErrUnknownCategory)

	updates := h.out.named(EventScoresUpdated)
	require.Len(t, updates, 3)
	last := updates[2].payload.(ScoresUpdated)
	require.Len(t, last.Breakdown, 1)
	assert.Equal(t, 1, last.Breakdown[0].Round)
	assert.Equal(t, 10, last.Breakdown[0].Scores[2].Total)
}

func TestSession_ReplaceScores(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.start(t)
	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	require.NoError(t, h.s.Submit("b", AnswerSet{}))

	var edited CategoryResults
	edited[CategoryName] = []CategoryScore{{PlayerID: "a", Points: 10}}
	edited[CategoryPlace] = []CategoryScore{{Player: "b", Points: 5}, {Player: "stranger", Points: 10}}

	require.NoError(t, h.s.ReplaceScores("a", edited))

	res, _ := h.s.Snapshot()
	assert.Equal(t, 10, res.Summary[0].Total)
	assert.Equal(t, 5, res.Summary[1].Total)
	assert.Equal(t, 5, h.s.Breakdown()[0].Scores[1].Total)
}

func TestSession_OverridesOutsideReviewAreRejected(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.start(t)

	assert.ErrorIs(t, h.s.MarkValid("a", CategoryName, "b"), ErrWrongPhase)
	assert.Empty(t, h.out.named(EventScoresUpdated))
}

func TestSession_AdvanceRoundFoldsOnce(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.start(t)
	first := h.letter()

	require.NoError(t, h.s.Submit("a", answers(CategoryName, h.valid("a"))))
	require.NoError(t, h.s.Submit("b", answers(CategoryName, h.valid("b"))))

	assert.ErrorIs(t, h.s.AdvanceRound("b"), ErrNotHost)
	require.NoError(t, h.s.AdvanceRound("a"))
	assert.ErrorIs(t, h.s.AdvanceRound("a"), ErrNoPendingResult)

	st := h.s.State()
	assert.Equal(t, 2, st.CurrentRound)
	assert.NotEqual(t, string(first), st.CurrentLetter)
	assert.Equal(t, map[string]int{"a": 10, "b": 10}, st.Scores)
	assert.Equal(t, PhaseRoundActive, st.Phase)

	res, _ := h.s.Snapshot()
	assert.Nil(t, res)
}

func TestSession_LettersDoNotRepeatAcrossRounds(t *testing.T) {
	h := newHarness(t, "a")
	h.start(t)

	seen := map[string]bool{h.s.State().CurrentLetter: true}
	for range 25 {
		require.NoError(t, h.s.Submit("a", AnswerSet{}))
		require.NoError(t, h.s.AdvanceRound("a"))
		l := h.s.State().CurrentLetter
		require.False(t, seen[l], "letter %s repeated", l)
		seen[l] = true
	}
	assert.Len(t, seen, 26)
}

func TestSession_EndGameFoldsPendingExactlyOnce(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.start(t)

	require.NoError(t, h.s.Submit("a", answers(CategoryName, h.valid("x"))))
	require.NoError(t, h.s.Submit("b", answers(CategoryName, h.valid("x"))))
	require.NoError(t, h.s.Submit("c", answers(CategoryName, h.valid("y"), CategoryPlace, h.valid("z"))))

	require.NoError(t, h.s.EndGame("a"))
	require.NoError(t, h.s.EndGame("a"))

	st := h.s.State()
	assert.Equal(t, map[string]int{"a": 5, "b": 5, "c": 20}, st.Scores)
	assert.Equal(t, PhaseGameOver, st.Phase)
	assert.True(t, st.GameEnded)

	overs := h.out.named(EventGameOver)
	require.Len(t, overs, 2)
	res := overs[0].payload.(GameResult)
	assert.Equal(t, []Standing{{"c", 20}, {"a", 5}, {"b", 5}}, res.Scores)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "c", res.Winner.Name)
	assert.Len(t, res.Breakdown, 1)

	assert.Equal(t, 1, h.rec.count())
	assert.ErrorIs(t, h.s.AdvanceRound("a"), ErrNoPendingResult)
}

func TestSession_EndGameMidRoundCancelsTimeout(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.start(t)
	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	require.NoError(t, h.s.Submit("b", AnswerSet{}))

	require.NoError(t, h.s.EndGame("a"))
	h.clock.Advance(DefaultCollectionTimeout)

	assert.Never(t, func() bool {
		return len(h.out.named(EventRoundResults)) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, PhaseGameOver, h.s.State().Phase)
}

func TestSession_RestartKeepsPlayers(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.start(t)
	require.NoError(t, h.s.Submit("a", answers(CategoryName, h.valid("a"))))
	require.NoError(t, h.s.Submit("b", AnswerSet{}))
	require.NoError(t, h.s.AdvanceRound("a"))
	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	require.NoError(t, h.s.Submit("b", AnswerSet{}))
	require.NoError(t, h.s.EndGame("a"))

	before := h.s.State().Players
	require.NoError(t, h.s.Restart("a"))

	st := h.s.State()
	assert.Equal(t, 1, st.CurrentRound)
	assert.Equal(t, before, st.Players)
	assert.Empty(t, st.Scores)
	assert.False(t, st.GameEnded)
	assert.Empty(t, h.s.Breakdown())
	assert.Equal(t, PhaseRoundActive, st.Phase)

	_, game := h.s.Snapshot()
	assert.Nil(t, game)
}

func TestSession_LeaveHandsOverHostAndUnblocksRound(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.start(t)

	require.NoError(t, h.s.Submit("b", AnswerSet{}))
	require.NoError(t, h.s.Submit("c", AnswerSet{}))
	require.True(t, h.s.TimerArmed())

	require.NoError(t, h.s.Leave("a"))

	st := h.s.State()
	require.Len(t, st.Players, 2)
	assert.True(t, st.Players[0].IsHost)
	assert.Equal(t, "b", st.Players[0].ID)

	require.Len(t, h.out.named(EventRoundResults), 1)
	assert.Equal(t, PhaseRoundReview, st.Phase)

	assert.ErrorIs(t, h.s.Leave("a"), ErrUnknownPlayer)
}

func TestSession_SnapshotReplies(t *testing.T) {
	h := newHarness(t, "a", "b")

	h.s.SendSnapshot("a")
	assert.Empty(t, h.out.named(EventRoundResults))

	h.start(t)
	require.NoError(t, h.s.Submit("a", AnswerSet{}))
	require.NoError(t, h.s.Submit("b", AnswerSet{}))
	h.out.reset()

	h.s.SendSnapshot("b")
	got := h.out.named(EventRoundResults)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].to)

	require.NoError(t, h.s.EndGame("a"))
	h.out.reset()

	h.s.SendSnapshot("b")
	assert.Equal(t, []string{EventRoundResults, EventGameOver}, h.out.names())

	h.out.reset()
	h.s.SendStatuses("a")
	statuses := h.out.named(EventPlayerStatuses)
	require.Len(t, statuses, 1)
	rows := statuses[0].payload.([]PlayerStatus)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Done)
}

func TestSession_PlayerIDByName(t *testing.T) {
	h := newHarness(t)
	h.s.Join("conn-1", "Ann", false)

	id, ok := h.s.PlayerIDByName("Ann")
	assert.True(t, ok)
	assert.Equal(t, "conn-1", id)

	_, ok = h.s.PlayerIDByName("Bob")
	assert.False(t, ok)
}
