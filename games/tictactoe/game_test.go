package tictactoe

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorderHost captures everything a game session emits, keyed by player.
type recorderHost struct {
	mu       sync.Mutex
	events   map[uuid.UUID][]Envelope
	finished []GameSummary
}

func newRecorderHost() *recorderHost {
	return &recorderHost{events: make(map[uuid.UUID][]Envelope)}
}

func (h *recorderHost) send(player uuid.UUID, ev Envelope) {
	h.mu.Lock()
	h.events[player] = append(h.events[player], ev)
	h.mu.Unlock()
}

func (h *recorderHost) finishGame(_ *GameSession, sum GameSummary) {
	h.mu.Lock()
	h.finished = append(h.finished, sum)
	h.mu.Unlock()
}

func (h *recorderHost) eventsFor(player uuid.UUID) []Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Envelope, len(h.events[player]))
	copy(out, h.events[player])
	return out
}

func (h *recorderHost) tagsFor(player uuid.UUID) []string {
	evs := h.eventsFor(player)
	tags := make([]string, len(evs))
	for i, ev := range evs {
		tags[i] = ev.Event
	}
	return tags
}

func (h *recorderHost) lastFor(t *testing.T, player uuid.UUID) Envelope {
	t.Helper()
	evs := h.eventsFor(player)
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

// newTestGame builds a game session driven synchronously: the run
// goroutine is not started, tests call applyPlay/autoPlay/finish paths
// directly and inspect the recorder.
func newTestGame(t *testing.T) (*GameSession, *recorderHost, *clock.Mock, uuid.UUID, uuid.UUID) {
	t.Helper()

	host := newRecorderHost()
	mock := clock.NewMock()
	a := uuid.New()
	b := uuid.New()

	g := newGameSession(host, mock, 10*time.Second, make(chan struct{}), uuid.New(), a, b)
	g.broadcast(roundStartEvent(g.round))
	g.armTurn()

	return g, host, mock, a, b
}

func TestNewGameOpensWithXTurn(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	assert.Equal(t, X, g.turn)
	assert.Equal(t, 1, g.round)
	assert.Equal(t, a, g.currentPlayer())

	assert.Equal(t, []string{evtRoundStart, evtYourTurn}, host.tagsFor(a))
	assert.Equal(t, []string{evtRoundStart}, host.tagsFor(b))

	turn := host.lastFor(t, a)
	deadline, ok := turn.Data.(YourTurnData)
	require.True(t, ok)
	assert.Equal(t, g.clk.Now().Add(10*time.Second).Unix(), deadline.AutoPlayAfter)
}

func TestRoundWinFlow(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	// A takes the left column with B answering in the middle.
	g.applyPlay(a, 0, false)
	g.applyPlay(b, 1, false)
	g.applyPlay(a, 3, false)
	g.applyPlay(b, 4, false)
	g.applyPlay(a, 6, false)

	assert.False(t, g.over)
	assert.Equal(t, 1, g.scores[a])
	assert.Equal(t, 0, g.scores[b])
	assert.Equal(t, 2, g.round)
	assert.Equal(t, X, g.turn)
	assert.Equal(t, [9]Cell{}, g.board)

	// Both see round_end then round_start; X is told it is up again.
	aTags := host.tagsFor(a)
	require.GreaterOrEqual(t, len(aTags), 3)
	assert.Equal(t, []string{evtRoundEnd, evtRoundStart, evtYourTurn}, aTags[len(aTags)-3:])

	bTags := host.tagsFor(b)
	assert.Equal(t, []string{evtRoundEnd, evtRoundStart}, bTags[len(bTags)-2:])

	// The opponent saw every one of A's moves, including the winning one.
	var seen []int
	for _, ev := range host.eventsFor(b) {
		if ev.Event == evtPlay {
			data := ev.Data.(PlayData)
			assert.Equal(t, a, data.Player)
			seen = append(seen, data.Place)
		}
	}
	assert.Equal(t, []int{0, 3, 6}, seen)

	for _, ev := range host.eventsFor(b) {
		if ev.Event == evtRoundEnd {
			data := ev.Data.(RoundEndData)
			assert.Equal(t, 1, data.Round)
			require.NotNil(t, data.Winner)
			assert.Equal(t, a, *data.Winner)
		}
	}

	assert.Equal(t, []RoundResult{{Round: 1, Winner: &a}}, g.rounds)
}

func TestTurnAndPlaceValidation(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	g.applyPlay(b, 0, false)
	assert.Equal(t, errorEvent(ErrNotYourTurn), host.lastFor(t, b))
	assert.Equal(t, [9]Cell{}, g.board)

	g.applyPlay(a, 0, false)
	g.applyPlay(b, 0, false)
	assert.Equal(t, errorEvent(ErrInvalidPlace), host.lastFor(t, b))
	assert.Equal(t, O, g.turn)

	// A cannot sneak a second move in while it is B's turn.
	g.applyPlay(a, 1, false)
	assert.Equal(t, errorEvent(ErrNotYourTurn), host.lastFor(t, a))
}

// drawSequence fills the board without forming a line.
var drawSequence = []int{0, 1, 2, 4, 3, 5, 7, 6, 8}

func playDrawRound(g *GameSession, a, b uuid.UUID) {
	players := [2]uuid.UUID{a, b}
	for i, place := range drawSequence {
		g.applyPlay(players[i%2], place, false)
	}
}

func TestDrawRound(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	playDrawRound(g, a, b)

	assert.False(t, g.over)
	assert.Equal(t, 2, g.round)
	assert.Equal(t, 0, g.scores[a])
	assert.Equal(t, 0, g.scores[b])

	evs := host.eventsFor(a)
	var found bool
	for _, ev := range evs {
		if ev.Event == evtRoundEnd {
			found = true
			data := ev.Data.(RoundEndData)
			assert.Equal(t, 1, data.Round)
			assert.Nil(t, data.Winner)
		}
	}
	assert.True(t, found)
	assert.Equal(t, []RoundResult{{Round: 1, Winner: nil}}, g.rounds)
}

// playWinRound has the X player take the top row while O answers below.
func playWinRound(g *GameSession, x, o uuid.UUID) {
	g.applyPlay(x, 0, false)
	g.applyPlay(o, 3, false)
	g.applyPlay(x, 1, false)
	g.applyPlay(o, 4, false)
	g.applyPlay(x, 2, false)
}

func TestGameOverFirstToThree(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	for i := 0; i < 3; i++ {
		playWinRound(g, a, b)
	}

	assert.True(t, g.over)
	assert.Equal(t, 3, g.scores[a])
	require.NotNil(t, g.winner)
	assert.Equal(t, a, *g.winner)
	assert.Equal(t, ReasonPlayerWon, g.reason)
	assert.Len(t, g.rounds, 3)

	for _, p := range []uuid.UUID{a, b} {
		last := host.lastFor(t, p)
		require.Equal(t, evtGameOver, last.Event)
		data := last.Data.(GameOverData)
		assert.Equal(t, g.ID(), data.UUID)
		require.NotNil(t, data.Winner)
		assert.Equal(t, a, *data.Winner)
		assert.Equal(t, ReasonPlayerWon, data.Reason)
	}

	// Terminal state: nothing further applies.
	g.applyPlay(a, 0, false)
	assert.Equal(t, evtGameOver, host.lastFor(t, a).Event)
}

func TestGameDrawAfterFiveRounds(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	for i := 0; i < 5; i++ {
		playDrawRound(g, a, b)
	}

	assert.True(t, g.over)
	assert.Equal(t, ReasonDraw, g.reason)
	assert.Nil(t, g.winner)
	assert.Len(t, g.rounds, 5)

	last := host.lastFor(t, b)
	require.Equal(t, evtGameOver, last.Event)
	data := last.Data.(GameOverData)
	assert.Nil(t, data.Winner)
	assert.Equal(t, ReasonDraw, data.Reason)
}

func TestGameDrawAtRoundCapDespiteLead(t *testing.T) {
	g, _, _, a, b := newTestGame(t)

	// Two wins for A, then drawn rounds to the cap: nobody reached three.
	playWinRound(g, a, b)
	playWinRound(g, a, b)
	playDrawRound(g, a, b)
	playDrawRound(g, a, b)
	playDrawRound(g, a, b)

	assert.True(t, g.over)
	assert.Equal(t, 2, g.scores[a])
	assert.Equal(t, ReasonDraw, g.reason)
	assert.Nil(t, g.winner)
}

func TestAutoPlayPicksLowestEmpty(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	g.autoPlay()

	assert.Equal(t, X, g.board[0])
	assert.Equal(t, O, g.turn)

	// The timed-out player hears auto_play, the opponent a normal play.
	var auto []Envelope
	for _, ev := range host.eventsFor(a) {
		if ev.Event == evtAutoPlay {
			auto = append(auto, ev)
		}
	}
	require.Len(t, auto, 1)
	assert.Equal(t, AutoPlayData{Place: 0}, auto[0].Data)

	last := host.lastFor(t, b)
	require.Equal(t, evtPlay, last.Event)
	assert.Equal(t, PlayData{Place: 0, Player: a}, last.Data)

	// With 0 taken, the next timeout (now for O) picks 1.
	g.autoPlay()
	assert.Equal(t, O, g.board[1])
	assert.Equal(t, X, g.turn)
}

func TestAutoPlayEquivalence(t *testing.T) {
	manual, manualHost, _, a1, b1 := newTestGame(t)
	timed, timedHost, _, a2, b2 := newTestGame(t)

	// Same opening for both games.
	manual.applyPlay(a1, 0, false)
	manual.applyPlay(b1, 4, false)
	timed.applyPlay(a2, 0, false)
	timed.applyPlay(b2, 4, false)

	// Lowest empty index is 1 in both; one played, one timed out.
	manual.applyPlay(a1, 1, false)
	timed.autoPlay()

	assert.Equal(t, manual.board, timed.board)
	assert.Equal(t, manual.turn, timed.turn)
	assert.Equal(t, manual.round, timed.round)
	assert.Equal(t, manual.scores[a1], timed.scores[a2])

	// The opponents' streams are identical tag-for-tag; the movers differ
	// only by the trailing auto_play notice.
	assert.Equal(t, manualHost.tagsFor(b1), timedHost.tagsFor(b2))
	assert.Equal(t, append(manualHost.tagsFor(a1), evtAutoPlay), timedHost.tagsFor(a2))
}

func TestDisconnectFinality(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	g.applyPlay(a, 0, false)
	before := len(host.eventsFor(a))

	g.finishDisconnect(a)

	assert.True(t, g.over)
	assert.Equal(t, ReasonPlayerDisconnected, g.reason)

	// Only the survivor hears about it.
	last := host.lastFor(t, b)
	require.Equal(t, evtGameOver, last.Event)
	data := last.Data.(GameOverData)
	require.NotNil(t, data.Winner)
	assert.Equal(t, b, *data.Winner)
	assert.Equal(t, ReasonPlayerDisconnected, data.Reason)
	assert.Len(t, host.eventsFor(a), before)

	require.Len(t, host.finished, 1)
	sum := host.finished[0]
	assert.Equal(t, ReasonPlayerDisconnected, sum.Reason)
	require.NotNil(t, sum.Winner)
	assert.Equal(t, b, *sum.Winner)

	// No further events for this game, ever.
	bBefore := len(host.eventsFor(b))
	g.applyPlay(b, 5, false)
	g.autoPlay()
	assert.Len(t, host.eventsFor(b), bBefore)
	assert.Len(t, host.eventsFor(a), before)
}

func TestYourTurnPrecedesPlayRelay(t *testing.T) {
	g, host, _, a, b := newTestGame(t)

	g.applyPlay(a, 0, false)

	// The new current player is told it is up before seeing the move.
	tags := host.tagsFor(b)
	assert.Equal(t, []string{evtRoundStart, evtYourTurn, evtPlay}, tags)
}

func TestSummaryCarriesRoundsAndScores(t *testing.T) {
	g, host, mock, a, b := newTestGame(t)

	start := mock.Now()
	playWinRound(g, a, b)
	playDrawRound(g, a, b)
	mock.Add(42 * time.Second)
	g.finishDisconnect(b)

	require.Len(t, host.finished, 1)
	sum := host.finished[0]
	assert.Equal(t, g.ID(), sum.GameID)
	assert.Equal(t, a, sum.XPlayer)
	assert.Equal(t, b, sum.OPlayer)
	assert.Equal(t, 1, sum.XScore)
	assert.Equal(t, 0, sum.OScore)
	assert.Equal(t, start, sum.StartedAt)
	assert.Equal(t, start.Add(42*time.Second), sum.EndedAt)
	require.Len(t, sum.Rounds, 2)
	require.NotNil(t, sum.Rounds[0].Winner)
	assert.Equal(t, a, *sum.Rounds[0].Winner)
	assert.Nil(t, sum.Rounds[1].Winner)
}
