package tictactoe

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Cell is one board position.
type Cell uint8

const (
	Empty Cell = iota
	X
	O
)

func (c Cell) other() Cell {
	if c == X {
		return O
	}
	return X
}

// Best-of policy: first to three round wins takes the game; if five
// rounds complete with neither player at three, the game is a draw.
const (
	roundsToWin = 3
	maxRounds   = 5
)

// winLines are the eight standard triples, row-major.
var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// gameHost is what a GameSession needs from its owner: id-indirect event
// delivery and a place to hand the summary when the game ends.
type gameHost interface {
	send(player uuid.UUID, ev Envelope)
	finishGame(g *GameSession, sum GameSummary)
}

type gameMsg struct {
	player uuid.UUID
	place  int
	gone   bool
}

// GameSession is the authoritative state machine for one game. All state
// below the inbox is owned by the run goroutine: an event is processed to
// completion before the loop suspends again, so transitions are atomic
// with respect to plays, timer fires and disconnects.
type GameSession struct {
	id      uuid.UUID
	xPlayer uuid.UUID
	oPlayer uuid.UUID

	host       gameHost
	clk        clock.Clock
	movePeriod time.Duration
	quit       <-chan struct{}

	inbox   chan gameMsg
	started chan struct{}
	done    chan struct{}

	board     [9]Cell
	round     int
	scores    map[uuid.UUID]int
	turn      Cell
	timer     *clock.Timer
	over      bool
	winner    *uuid.UUID
	reason    GameOverReason
	rounds    []RoundResult
	startedAt time.Time
}

func newGameSession(host gameHost, clk clock.Clock, movePeriod time.Duration, quit <-chan struct{}, id, xPlayer, oPlayer uuid.UUID) *GameSession {
	return &GameSession{
		id:         id,
		xPlayer:    xPlayer,
		oPlayer:    oPlayer,
		host:       host,
		clk:        clk,
		movePeriod: movePeriod,
		quit:       quit,
		inbox:      make(chan gameMsg, 32),
		started:    make(chan struct{}),
		done:       make(chan struct{}),
		round:      1,
		scores:     map[uuid.UUID]int{xPlayer: 0, oPlayer: 0},
		turn:       X,
		startedAt:  clk.Now(),
	}
}

// ID returns the game id minted at pairing.
func (g *GameSession) ID() uuid.UUID {
	return g.id
}

// Players returns the X and O player ids.
func (g *GameSession) Players() (x, o uuid.UUID) {
	return g.xPlayer, g.oPlayer
}

func (g *GameSession) opponentOf(player uuid.UUID) uuid.UUID {
	if player == g.xPlayer {
		return g.oPlayer
	}
	return g.xPlayer
}

func (g *GameSession) currentPlayer() uuid.UUID {
	if g.turn == X {
		return g.xPlayer
	}
	return g.oPlayer
}

// submitPlay hands a move to the game loop. Returns once the move is
// queued in the inbox or the game is gone.
func (g *GameSession) submitPlay(player uuid.UUID, place int) {
	select {
	case g.inbox <- gameMsg{player: player, place: place}:
	case <-g.done:
	}
}

// playerGone notifies the loop that a participant's connection dropped.
func (g *GameSession) playerGone(player uuid.UUID) {
	select {
	case g.inbox <- gameMsg{player: player, gone: true}:
	case <-g.done:
	}
}

// start releases the run goroutine. Called by the matchmaker after both
// players have been told about the pairing, so the game's first events
// queue behind game_found.
func (g *GameSession) start() {
	close(g.started)
}

// waitRun parks the game goroutine until the matchmaker releases it. A
// shutdown arriving first still resolves done, so Shutdown never waits
// on a game that was created but not started.
func (g *GameSession) waitRun() {
	select {
	case <-g.started:
		g.run()
	case <-g.quit:
		close(g.done)
	}
}

func (g *GameSession) run() {
	defer close(g.done)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		// A game that trips an invariant is terminated for both players;
		// it never takes the process down with it.
		g.broadcast(errorEvent(ErrOther))
		if !g.over {
			g.over = true
			g.winner = nil
			g.reason = ReasonInternalError
			g.host.finishGame(g, g.summary())
		}
	}()

	g.host.send(g.xPlayer, roundStartEvent(g.round))
	g.host.send(g.oPlayer, roundStartEvent(g.round))
	g.armTurn()

	for {
		select {
		case msg := <-g.inbox:
			if msg.gone {
				g.finishDisconnect(msg.player)
				return
			}
			g.applyPlay(msg.player, msg.place, false)
		case <-g.timer.C:
			g.autoPlay()
		case <-g.quit:
			g.timer.Stop()
			g.over = true
			g.reason = ReasonServerShutdown
			g.host.finishGame(g, g.summary())
			return
		}

		if g.over {
			g.host.finishGame(g, g.summary())
			return
		}
	}
}

// armTurn computes the new move deadline, arms a fresh timer for it, and
// tells the current player it is up. The previous timer handle (if any)
// was stopped by the caller; replacing it keeps stale fires unreachable.
func (g *GameSession) armTurn() {
	deadline := g.clk.Now().Add(g.movePeriod)
	g.timer = g.clk.Timer(g.movePeriod)
	g.host.send(g.currentPlayer(), yourTurnEvent(deadline.Unix()))
}

// applyPlay is the single mutation path for moves, shared by client plays
// and deadline auto-plays. Invalid attempts produce protocol errors and
// change nothing.
func (g *GameSession) applyPlay(player uuid.UUID, place int, auto bool) {
	if g.over {
		return
	}
	if player != g.currentPlayer() {
		g.host.send(player, errorEvent(ErrNotYourTurn))
		return
	}
	if place < 0 || place > 8 || g.board[place] != Empty {
		g.host.send(player, errorEvent(ErrInvalidPlace))
		return
	}

	g.timer.Stop()
	g.board[place] = g.turn
	opponent := g.opponentOf(player)

	if auto {
		// The timed-out player gets auto_play in place of a confirmation.
		g.host.send(player, autoPlayEvent(place))
	}

	switch {
	case g.lineThrough(place):
		g.scores[player]++
		g.host.send(opponent, playEvent(place, player))
		winner := player
		g.endRound(&winner)
	case g.boardFull():
		g.host.send(opponent, playEvent(place, player))
		g.endRound(nil)
	default:
		g.turn = g.turn.other()
		g.armTurn()
		g.host.send(opponent, playEvent(place, player))
	}
}

// autoPlay fires when the move deadline passes: the lowest-index empty
// cell is played on the current player's behalf.
func (g *GameSession) autoPlay() {
	if g.over {
		return
	}
	for place, c := range g.board {
		if c == Empty {
			g.applyPlay(g.currentPlayer(), place, true)
			return
		}
	}
}

// endRound records the round outcome and either finishes the game or
// resets the board for the next round. X opens every round.
func (g *GameSession) endRound(winner *uuid.UUID) {
	g.rounds = append(g.rounds, RoundResult{Round: g.round, Winner: winner})

	if winner != nil && g.scores[*winner] >= roundsToWin {
		g.finishPlayed(winner, ReasonPlayerWon)
		return
	}
	if g.round >= maxRounds {
		g.finishPlayed(nil, ReasonDraw)
		return
	}

	g.broadcast(roundEndEvent(g.round, winner))
	g.board = [9]Cell{}
	g.round++
	g.turn = X
	g.broadcast(roundStartEvent(g.round))
	g.armTurn()
}

func (g *GameSession) finishPlayed(winner *uuid.UUID, reason GameOverReason) {
	g.over = true
	g.winner = winner
	g.reason = reason
	g.broadcast(gameOverEvent(g.id, winner, reason))
}

// finishDisconnect ends the game in the survivor's favor. Only the
// survivor is told; no further events are ever emitted for this game.
func (g *GameSession) finishDisconnect(gone uuid.UUID) {
	g.timer.Stop()
	if g.over {
		return
	}

	survivor := g.opponentOf(gone)
	g.over = true
	g.winner = &survivor
	g.reason = ReasonPlayerDisconnected
	g.host.send(survivor, gameOverEvent(g.id, &survivor, ReasonPlayerDisconnected))
	g.host.finishGame(g, g.summary())
}

func (g *GameSession) broadcast(ev Envelope) {
	g.host.send(g.xPlayer, ev)
	g.host.send(g.oPlayer, ev)
}

func (g *GameSession) lineThrough(place int) bool {
	mark := g.board[place]
	for _, line := range winLines {
		if line[0] != place && line[1] != place && line[2] != place {
			continue
		}
		if g.board[line[0]] == mark && g.board[line[1]] == mark && g.board[line[2]] == mark {
			return true
		}
	}
	return false
}

func (g *GameSession) boardFull() bool {
	for _, c := range g.board {
		if c == Empty {
			return false
		}
	}
	return true
}

func (g *GameSession) summary() GameSummary {
	return GameSummary{
		GameID:    g.id,
		XPlayer:   g.xPlayer,
		OPlayer:   g.oPlayer,
		Rounds:    g.rounds,
		XScore:    g.scores[g.xPlayer],
		OScore:    g.scores[g.oPlayer],
		Winner:    g.winner,
		Reason:    g.reason,
		StartedAt: g.startedAt,
		EndedAt:   g.clk.Now(),
	}
}
