package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/crossbox/crossbox/games/tictactoe"
	"github.com/crossbox/crossbox/history"
)

const timeout time.Duration = 10 * time.Second

// baseHeaders go on every HTTP response. Nothing here serves markup or
// scripts, so the content policy denies everything.
func baseHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000")
	}
}

// clientAddr resolves the peer address for log lines, preferring proxy
// headers when they carry a parseable address.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	if ip := net.ParseIP(r.Header.Get("X-Real-IP")); ip != nil {
		return ip.String()
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type healthStatus struct {
	Status  string `json:"status"`
	Games   int    `json:"games"`
	Players int    `json:"players"`
}

// serveHealthCheck reports liveness plus the engine's session gauges, so
// an operator can watch the max-online-games headroom from the edge.
func serveHealthCheck(cfg *Config, engine *tictactoe.Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		baseHeaders(cfg, w)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		err := json.NewEncoder(w).Encode(healthStatus{
			Status:  "ok",
			Games:   engine.GameCount(),
			Players: engine.PlayerCount(),
		})
		if err != nil {
			logf(cfg, "SERVE", "Health check to %s: %v", clientAddr(r), err)
		}
	}
}

func serveRobots(cfg *Config) httprouter.Handle {
	const data = "User-agent: *\nDisallow: /\n"

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		baseHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))

		_, _ = w.Write([]byte(data))
	}
}

func serveVersion(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		started := time.Now()

		baseHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		fmt.Fprintf(w, "crossbox v%s\n", releaseVersion)

		logf(cfg, "SERVE", "Version page to %s in %s",
			clientAddr(r),
			time.Since(started).Round(time.Microsecond),
		)
	}
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	logf(cfg, "SERVE", "Starting crossbox v%s", releaseVersion)

	store, err := history.Open(ctx, cfg.databaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	engine := tictactoe.NewEngine(tictactoe.Options{
		MaxGames:        cfg.maxOnlineGames,
		MovePeriod:      cfg.movePeriodDuration(),
		Sink:            store,
		RecordAbandoned: cfg.recordAbandoned,
		Logf:            subsystemLogger(cfg, "GAMES"),
	})

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux := httprouter.New()

	// Panicking HTTP handlers answer in the wire's own error shape.
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, _ any) {
		baseHeaders(cfg, w)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)

		_, _ = w.Write([]byte(`{"event":"error","data":"other"}`))
	}

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, engine))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	registerTicTacToe(cfg, mux, engine)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	go func() {
		logf(cfg, "SERVE", "Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)

		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("%s | SERVE: %v", time.Now().Format(logDate), err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	engine.Shutdown()

	return nil
}
