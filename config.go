/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/npat/games"
)

type Config struct {
	bind              string
	collectionTimeout time.Duration
	corsOrigins       []string
	historyDB         string
	natsSubject       string
	natsURL           string
	port              int
	prefix            string
	profile           bool
	rateBurst         int
	rateLimit         float64
	readLimit         int64
	roomTimeout       time.Duration
	tlsCert           string
	tlsKey            string
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.collectionTimeout <= 0 {
		return fmt.Errorf("invalid collection timeout (must be positive): %s", c.collectionTimeout)
	}
	if c.roomTimeout < 0 {
		return fmt.Errorf("invalid room timeout (must not be negative): %s", c.roomTimeout)
	}
	if c.rateLimit <= 0 || c.rateBurst < 1 {
		return fmt.Errorf("invalid rate limit (must be positive): %g/s burst %d", c.rateLimit, c.rateBurst)
	}
	if c.readLimit < 512 {
		return fmt.Errorf("invalid read limit (must be at least 512 bytes): %d", c.readLimit)
	}
	if c.natsURL != "" && c.natsSubject == "" {
		return errors.New("--nats-subject must not be empty when --nats-url is set")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("NPAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "npat",
		Short:         "Serves real-time Name, Place, Animal, Thing party games over websockets.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			setupLogging(cfg)
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: NPAT_BIND)")
	fs.DurationVar(&cfg.collectionTimeout, "collection-timeout", games.DefaultCollectionTimeout, "time stragglers get once two players have answered (env: NPAT_COLLECTION_TIMEOUT)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origins", []string{"*"}, "origins allowed to make cross-origin requests (env: NPAT_CORS_ORIGINS)")
	fs.StringVar(&cfg.historyDB, "history-db", "", "path to sqlite database for finished game history (env: NPAT_HISTORY_DB)")
	fs.StringVar(&cfg.natsSubject, "nats-subject", "npat.rooms", "subject prefix for mirrored room events (env: NPAT_NATS_SUBJECT)")
	fs.StringVar(&cfg.natsURL, "nats-url", "", "nats server to mirror room events to (env: NPAT_NATS_URL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: NPAT_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: NPAT_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: NPAT_PROFILE)")
	fs.IntVar(&cfg.rateBurst, "rate-burst", 40, "burst of inbound messages allowed per connection (env: NPAT_RATE_BURST)")
	fs.Float64Var(&cfg.rateLimit, "rate-limit", 20, "inbound messages per second allowed per connection (env: NPAT_RATE_LIMIT)")
	fs.Int64Var(&cfg.readLimit, "read-limit", 32768, "maximum size of an inbound message in bytes (env: NPAT_READ_LIMIT)")
	fs.DurationVar(&cfg.roomTimeout, "room-timeout", 60*time.Minute, "time before idle empty rooms are removed, 0 to keep forever (env: NPAT_ROOM_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: NPAT_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: NPAT_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: NPAT_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: NPAT_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("npat v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
