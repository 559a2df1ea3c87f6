package tictactoe

import (
	"sync"

	"github.com/google/uuid"
)

// Phase is a player session's position in the matchmaking lifecycle.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSearching
	PhaseInGame
)

// PlayerSession owns the server-side state for one live connection. The
// transport feeds decoded frames into Dispatch and drains Outbox; the
// engine and game sessions reach it only through its player id.
//
// The outbox is a bounded FIFO. A consumer that falls far enough behind
// to fill it is treated as gone: the session closes and its game ends
// with player_disconnected semantics.
type PlayerSession struct {
	id     uuid.UUID
	engine *Engine
	outbox chan Envelope

	mu           sync.Mutex
	phase        Phase
	gameID       uuid.UUID
	welcomed     bool // this player published its chat key this game
	peerWelcomed bool // the opponent's key was forwarded to this player
	closed       bool
}

func newPlayerSession(e *Engine, id uuid.UUID) *PlayerSession {
	return &PlayerSession{
		id:     id,
		engine: e,
		outbox: make(chan Envelope, e.outboxSize),
	}
}

// ID returns the stable player identifier carried from authentication.
func (p *PlayerSession) ID() uuid.UUID {
	return p.id
}

// Outbox is the ordered stream of server events for the connection's
// write half. It is closed when the session ends.
func (p *PlayerSession) Outbox() <-chan Envelope {
	return p.outbox
}

// push enqueues an event without ever blocking. Overflow closes the
// session; the engine teardown is deferred to its own goroutine since
// push may be called from a game loop.
func (p *PlayerSession) push(ev Envelope) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}

	select {
	case p.outbox <- ev:
		p.mu.Unlock()
		return true
	default:
		p.closed = true
		close(p.outbox)
		p.mu.Unlock()
		go p.engine.Disconnect(p)
		return false
	}
}

// SendError emits a protocol error event. The session continues.
func (p *PlayerSession) SendError(code ErrorCode) {
	p.push(errorEvent(code))
}

func (p *PlayerSession) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.outbox)
	}
	p.mu.Unlock()
}

func (p *PlayerSession) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Phase returns the session's current lifecycle phase.
func (p *PlayerSession) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *PlayerSession) setSearching() {
	p.mu.Lock()
	p.phase = PhaseSearching
	p.mu.Unlock()
}

func (p *PlayerSession) setIdle() {
	p.mu.Lock()
	p.phase = PhaseIdle
	p.gameID = uuid.Nil
	p.mu.Unlock()
}

// enterGame moves the session into a game and resets the per-game chat
// handshake flags.
func (p *PlayerSession) enterGame(gameID uuid.UUID) {
	p.mu.Lock()
	p.phase = PhaseInGame
	p.gameID = gameID
	p.welcomed = false
	p.peerWelcomed = false
	p.mu.Unlock()
}

// leaveGame returns the session to Idle, but only if it is still attached
// to the given game; a session superseded into a newer game is left alone.
func (p *PlayerSession) leaveGame(gameID uuid.UUID) {
	p.mu.Lock()
	if p.phase == PhaseInGame && p.gameID == gameID {
		p.phase = PhaseIdle
		p.gameID = uuid.Nil
		p.welcomed = false
		p.peerWelcomed = false
	}
	p.mu.Unlock()
}

func (p *PlayerSession) markPeerWelcomed() {
	p.mu.Lock()
	p.peerWelcomed = true
	p.mu.Unlock()
}

// adopt copies the lifecycle state of a superseded session for the same
// player id, so a reconnect resumes a live game instead of forfeiting it.
// A searching predecessor is not adopted: its queue entry died with its
// connection, so the new session starts Idle and searches again.
func (p *PlayerSession) adopt(old *PlayerSession) {
	old.mu.Lock()
	phase, gameID := old.phase, old.gameID
	welcomed, peerWelcomed := old.welcomed, old.peerWelcomed
	old.mu.Unlock()

	if phase != PhaseInGame {
		return
	}

	p.mu.Lock()
	p.phase = phase
	p.gameID = gameID
	p.welcomed = welcomed
	p.peerWelcomed = peerWelcomed
	p.mu.Unlock()
}

// Dispatch routes one decoded client event through the inbound dispatch
// table. Protocol violations come back as error events on the outbox.
func (p *PlayerSession) Dispatch(ev ClientEvent) {
	switch ev.Kind {
	case KindSearch:
		p.handleSearch()
	case KindPlay:
		p.handlePlay(ev.Place)
	case KindWelcome:
		p.handleWelcome(ev.PublicKey)
	case KindChat:
		p.handleChat(ev.EncryptedMessage, ev.Signature)
	}
}

func (p *PlayerSession) handleSearch() {
	p.mu.Lock()
	phase := p.phase
	p.mu.Unlock()

	switch phase {
	case PhaseSearching:
		p.SendError(ErrAlreadyInSearch)
	case PhaseInGame:
		p.SendError(ErrAlreadyInGame)
	default:
		p.engine.matchmaker.Enqueue(p)
	}
}

func (p *PlayerSession) handlePlay(place int) {
	g := p.currentGame()
	if g == nil {
		p.SendError(ErrNotInGame)
		return
	}
	// Turn and cell occupancy are checked inside the game loop, where the
	// board state lives.
	g.submitPlay(p.id, place)
}

func (p *PlayerSession) handleWelcome(publicKey string) {
	p.mu.Lock()
	if p.phase != PhaseInGame {
		p.mu.Unlock()
		p.SendError(ErrNotInGame)
		return
	}
	if p.welcomed {
		p.mu.Unlock()
		p.SendError(ErrAlreadyWelcomed)
		return
	}
	if !opaqueShapeOK(publicKey) {
		p.mu.Unlock()
		p.SendError(ErrInvalidPublicKey)
		return
	}
	p.welcomed = true
	gameID := p.gameID
	p.mu.Unlock()

	g := p.engine.game(gameID)
	if g == nil {
		return
	}

	// Flag before relay: the opponent may chat the instant it sees the key.
	opponent := g.opponentOf(p.id)
	p.engine.markPeerWelcomed(opponent)
	p.engine.send(opponent, welcomeEvent(publicKey))
}

func (p *PlayerSession) handleChat(encrypted, signature string) {
	p.mu.Lock()
	if p.phase != PhaseInGame {
		p.mu.Unlock()
		p.SendError(ErrNotInGame)
		return
	}
	if !p.welcomed {
		p.mu.Unlock()
		p.SendError(ErrChatNotAllowed)
		return
	}
	if !p.peerWelcomed {
		p.mu.Unlock()
		p.SendError(ErrChatNotStarted)
		return
	}
	gameID := p.gameID
	p.mu.Unlock()

	if !opaqueShapeOK(encrypted) {
		p.SendError(ErrInvalidChatMessage)
		return
	}
	if !opaqueShapeOK(signature) {
		p.SendError(ErrInvalidChatSignature)
		return
	}

	g := p.engine.game(gameID)
	if g == nil {
		p.SendError(ErrNotInGame)
		return
	}

	p.engine.send(g.opponentOf(p.id), chatEvent(encrypted, signature))
}

func (p *PlayerSession) currentGame() *GameSession {
	p.mu.Lock()
	if p.phase != PhaseInGame {
		p.mu.Unlock()
		return nil
	}
	gameID := p.gameID
	p.mu.Unlock()

	return p.engine.game(gameID)
}
