// Crossbox tic-tac-toe transport
//
// One authenticated WebSocket per player carries everything: matchmaking,
// moves, turn notices, and the end-to-end-encrypted chat relay. The
// handshake requires an Authorization: Bearer token; the engine owns all
// game state and this file only bridges gorilla connections to player
// sessions.
//
// Wire frames are single JSON objects {"event": TAG, "data": PAYLOAD?}.
// Malformed frames are answered with error events and never close the
// connection; only auth failures, framing errors, and stalled consumers
// do.

package main

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/crossbox/crossbox/games/tictactoe"
)

// maxFrameBytes sits above the 16 KiB chat payload cap so oversized chat
// fails shape checks as a protocol error instead of killing the stream.
const maxFrameBytes = 32 << 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveGameSocket(cfg *Config, engine *tictactoe.Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID, err := authenticatePlayer(cfg, r)
		if err != nil {
			logf(cfg, "GAMES", "Rejected connection from %s: %v", clientAddr(r), err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES", "Upgrade error for %s: %v", clientAddr(r), err)
			return
		}

		player := engine.Connect(playerID)

		go writePump(conn, player)
		readPump(conn, engine, player)
	}
}

// readPump drives the connection's read half. Returning tears down the
// session, which closes the outbox and with it the write half.
func readPump(conn *websocket.Conn, engine *tictactoe.Engine, player *tictactoe.PlayerSession) {
	defer func() {
		engine.Disconnect(player)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameBytes)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		ev, code := tictactoe.DecodeClientEvent(raw)
		if code != "" {
			player.SendError(code)
			continue
		}

		player.Dispatch(ev)
	}
}

// writePump drains the session outbox onto the wire, preserving the
// engine's emit order.
func writePump(conn *websocket.Conn, player *tictactoe.PlayerSession) {
	defer conn.Close()

	for ev := range player.Outbox() {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// registerTicTacToe sets up the single game endpoint:
//   - $prefix/ws → authenticated player WebSocket
func registerTicTacToe(cfg *Config, mux *httprouter.Router, engine *tictactoe.Engine) {
	mux.GET(cfg.prefix+"/ws", serveGameSocket(cfg, engine))
}
