package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind            string
	databaseURL     string
	maxOnlineGames  int
	movePeriod      int
	port            int
	prefix          string
	profile         bool
	recordAbandoned bool
	secretKey       string
	tlsCert         string
	tlsKey          string
	verbose         bool
}

// envNames maps flags to their environment variables. These names are
// load-bearing: deployments configure the service through them.
var envNames = map[string]string{
	"bind":             "HOST",
	"database-url":     "DATABASE_URL",
	"max-online-games": "MAX_ONLINE_GAMES",
	"move-period":      "MOVE_PERIOD",
	"port":             "PORT",
	"prefix":           "PREFIX",
	"profile":          "PROFILE",
	"record-abandoned": "RECORD_ABANDONED",
	"secret-key":       "SECRET_KEY",
	"tls-cert":         "TLS_CERT",
	"tls-key":          "TLS_KEY",
	"verbose":          "VERBOSE",
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.secretKey == "" {
		return errors.New("a token secret is required (--secret-key / SECRET_KEY)")
	}
	if c.databaseURL == "" {
		return errors.New("a history store is required (--database-url / DATABASE_URL)")
	}
	if c.maxOnlineGames < 1 {
		return fmt.Errorf("invalid game cap (must be positive): %d", c.maxOnlineGames)
	}
	if c.movePeriod < 1 {
		return fmt.Errorf("invalid move period (must be a positive number of seconds): %d", c.movePeriod)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) movePeriodDuration() time.Duration {
	return time.Duration(c.movePeriod) * time.Second
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "crossbox",
		Short:         "A realtime two-player tic-tac-toe service with matchmaking and encrypted chat relay.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: HOST)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "history store connection string (env: DATABASE_URL)")
	fs.IntVar(&cfg.maxOnlineGames, "max-online-games", 1000, "cap on concurrent game sessions (env: MAX_ONLINE_GAMES)")
	fs.IntVar(&cfg.movePeriod, "move-period", 10, "seconds a player has to move before the server plays for them (env: MOVE_PERIOD)")
	fs.IntVarP(&cfg.port, "port", "p", 8000, "port to listen on (env: PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PROFILE)")
	fs.BoolVar(&cfg.recordAbandoned, "record-abandoned", false, "record games abandoned at shutdown as server_shutdown (env: RECORD_ABANDONED)")
	fs.StringVar(&cfg.secretKey, "secret-key", "", "HMAC secret for bearer token verification (env: SECRET_KEY)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		if env, ok := envNames[f.Name]; ok {
			_ = v.BindEnv(f.Name, env)
		}
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("crossbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
