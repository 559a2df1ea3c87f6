package tictactoe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const defaultOutboxSize = 64

var (
	errMaxGames      = errors.New("max online games reached")
	errEngineStopped = errors.New("engine stopped")
)

// Options configures an Engine. Zero values fall back to production
// defaults; tests inject a mock clock and a memory sink.
type Options struct {
	Clock           clock.Clock
	MaxGames        int
	MovePeriod      time.Duration
	OutboxSize      int
	Sink            Sink
	RecordAbandoned bool
	Logf            func(format string, args ...any)
}

// Engine is the process-wide registry of live player and game sessions.
// Sessions reference each other only through ids resolved here, so a
// removal is a single map mutation and lifetimes end cleanly.
type Engine struct {
	clk             clock.Clock
	maxGames        int
	movePeriod      time.Duration
	outboxSize      int
	sink            Sink
	recordAbandoned bool
	logf            func(format string, args ...any)

	matchmaker *Matchmaker

	mu      sync.RWMutex
	players map[uuid.UUID]*PlayerSession
	games   map[uuid.UUID]*GameSession
	quit    chan struct{}
	stopped bool
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		clk:             opts.Clock,
		maxGames:        opts.MaxGames,
		movePeriod:      opts.MovePeriod,
		outboxSize:      opts.OutboxSize,
		sink:            opts.Sink,
		recordAbandoned: opts.RecordAbandoned,
		logf:            opts.Logf,
		players:         make(map[uuid.UUID]*PlayerSession),
		games:           make(map[uuid.UUID]*GameSession),
		quit:            make(chan struct{}),
	}

	if e.clk == nil {
		e.clk = clock.New()
	}
	if e.maxGames <= 0 {
		e.maxGames = 1000
	}
	if e.movePeriod <= 0 {
		e.movePeriod = 10 * time.Second
	}
	if e.outboxSize <= 0 {
		e.outboxSize = defaultOutboxSize
	}
	if e.logf == nil {
		e.logf = func(string, ...any) {}
	}

	e.matchmaker = newMatchmaker(e)

	return e
}

// Connect registers a session for an authenticated player. A player id
// may hold at most one session: a new connection supersedes the previous
// one, adopting its lifecycle state so a live game survives the swap.
func (e *Engine) Connect(playerID uuid.UUID) *PlayerSession {
	p := newPlayerSession(e, playerID)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		p.close()
		return p
	}
	old := e.players[playerID]
	if old != nil {
		p.adopt(old)
	}
	e.players[playerID] = p
	e.mu.Unlock()

	if old != nil {
		old.close()
		e.logf("Player %s reconnected, previous session superseded", playerID)
	} else {
		e.logf("Player %s connected", playerID)
	}

	return p
}

// Disconnect tears down a session. It is a no-op for sessions that have
// already been superseded, so a stale connection's teardown never ends
// the game its replacement is still playing.
func (e *Engine) Disconnect(p *PlayerSession) {
	e.mu.Lock()
	if e.players[p.ID()] != p {
		e.mu.Unlock()
		p.close()
		return
	}
	delete(e.players, p.ID())
	e.mu.Unlock()

	p.close()

	p.mu.Lock()
	phase, gameID := p.phase, p.gameID
	p.mu.Unlock()

	e.logf("Player %s disconnected", p.ID())

	// Searching entries are discarded lazily when the matchmaker pops
	// them; only a live game needs to hear about this.
	if phase == PhaseInGame {
		if g := e.game(gameID); g != nil {
			g.playerGone(p.ID())
		}
	}
}

// Matchmaker exposes the FIFO pairing queue.
func (e *Engine) Matchmaker() *Matchmaker {
	return e.matchmaker
}

func (e *Engine) game(id uuid.UUID) *GameSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.games[id]
}

func (e *Engine) gameCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.games)
}

// GameCount reports the number of live game sessions.
func (e *Engine) GameCount() int {
	return e.gameCount()
}

// PlayerCount reports the number of registered player sessions.
func (e *Engine) PlayerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.players)
}

// createGame mints a game session under the max-online-games cap. The
// caller starts it once both players have been notified.
func (e *Engine) createGame(xPlayer, oPlayer uuid.UUID) (*GameSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, errEngineStopped
	}
	if len(e.games) >= e.maxGames {
		return nil, errMaxGames
	}

	id := uuid.New()
	g := newGameSession(e, e.clk, e.movePeriod, e.quit, id, xPlayer, oPlayer)
	e.games[id] = g
	go g.waitRun()

	e.logf("Created game %s (X=%s O=%s), %d live", id, xPlayer, oPlayer, len(e.games))

	return g, nil
}

// send routes an event to a player by id. Events for players that have
// since vanished are dropped; the game learns about the disconnect
// through its own inbox.
func (e *Engine) send(player uuid.UUID, ev Envelope) {
	e.mu.RLock()
	p := e.players[player]
	e.mu.RUnlock()

	if p != nil {
		p.push(ev)
	}
}

// markPeerWelcomed flags that a player's opponent has published its chat
// key this game.
func (e *Engine) markPeerWelcomed(player uuid.UUID) {
	e.mu.RLock()
	p := e.players[player]
	e.mu.RUnlock()

	if p != nil {
		p.markPeerWelcomed()
	}
}

// finishGame detaches a finished game from both players, records its
// summary, and removes it from the registry. Shutdown-abandoned games are
// recorded only when the engine was configured to do so.
func (e *Engine) finishGame(g *GameSession, sum GameSummary) {
	e.mu.Lock()
	delete(e.games, g.ID())
	x := e.players[g.xPlayer]
	o := e.players[g.oPlayer]
	live := len(e.games)
	e.mu.Unlock()

	if x != nil {
		x.leaveGame(g.ID())
	}
	if o != nil {
		o.leaveGame(g.ID())
	}

	e.logf("Game %s over (%s), %d live", g.ID(), sum.Reason, live)

	if sum.Reason == ReasonServerShutdown && !e.recordAbandoned {
		return
	}
	if e.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.sink.Record(ctx, sum); err != nil {
		e.logf("Recording game %s failed: %v", g.ID(), err)
	}
}

// Shutdown stops every game loop and closes every session. In-flight
// games drain through their quit path; whether they reach the history
// sink is the RecordAbandoned startup choice.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.quit)
	games := make([]*GameSession, 0, len(e.games))
	for _, g := range e.games {
		games = append(games, g)
	}
	players := make([]*PlayerSession, 0, len(e.players))
	for _, p := range e.players {
		players = append(players, p)
	}
	e.mu.Unlock()

	for _, g := range games {
		<-g.done
	}
	for _, p := range players {
		p.close()
	}

	e.logf("Engine stopped")
}
