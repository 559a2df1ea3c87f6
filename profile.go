package main

import (
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

// profileNames are the profiles that matter for a process whose work is
// a goroutine per session: scheduler pressure, lock contention on the
// registry, and heap growth from session backlogs.
var profileNames = []string{"allocs", "block", "goroutine", "heap", "mutex"}

func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	for _, name := range profileNames {
		mux.Handler("GET", cfg.prefix+"/pprof/"+name, pprof.Handler(name))
	}

	mux.HandlerFunc("GET", cfg.prefix+"/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/trace", pprof.Trace)
}
