package tictactoe

import (
	"crypto/rand"
	"sync"
)

// Matchmaker pairs searching players first-in-first-out. All queue
// mutations happen under one lock; matchmaking is off the per-move hot
// path, so contention stays bounded.
type Matchmaker struct {
	engine *Engine

	mu    sync.Mutex
	queue []*PlayerSession
}

func newMatchmaker(e *Engine) *Matchmaker {
	return &Matchmaker{engine: e}
}

// Enqueue either parks the player in the queue or pairs it with the
// oldest waiting player. Entries whose connection has since dropped are
// discarded on pop rather than eagerly.
func (m *Matchmaker) Enqueue(p *PlayerSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine.gameCount() >= m.engine.maxGames {
		p.SendError(ErrMaxGamesReached)
		return
	}

	for len(m.queue) > 0 {
		head := m.queue[0]
		m.queue = m.queue[1:]
		if !head.alive() || head.ID() == p.ID() {
			continue
		}
		m.pair(head, p)
		return
	}

	p.setSearching()
	m.queue = append(m.queue, p)
}

// pair assigns symbols by coin flip, creates the game, and notifies both
// players before the game loop starts, so game_found always precedes
// round_start on the wire.
func (m *Matchmaker) pair(a, b *PlayerSession) {
	x, o := a, b
	if coinFlip() {
		x, o = o, x
	}

	g, err := m.engine.createGame(x.ID(), o.ID())
	if err != nil {
		a.setIdle()
		b.setIdle()
		a.SendError(ErrMaxGamesReached)
		b.SendError(ErrMaxGamesReached)
		return
	}

	x.enterGame(g.ID())
	o.enterGame(g.ID())

	found := gameFoundEvent(x.ID(), o.ID())
	x.push(found)
	o.push(found)

	g.start()

	// A player whose connection died inside the pairing window never
	// reaches the engine's disconnect path for this game.
	if !x.alive() {
		g.playerGone(x.ID())
	}
	if !o.alive() {
		g.playerGone(o.ID())
	}
}

func coinFlip() bool {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false
	}
	return b[0]&1 == 1
}
