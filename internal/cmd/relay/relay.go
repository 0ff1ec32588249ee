// Package relay parses relay command flags and composes the service
// entrypoint.
package relay

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/veilroom/veilroom/internal/platform/cmd"
	server "github.com/veilroom/veilroom/internal/services/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr      string `env:"VEILROOM_HTTP_ADDR"       envDefault:":8090"`
	DBPath        string `env:"VEILROOM_DB_PATH"         envDefault:"veilroom.db"`
	PublicBaseURL string `env:"VEILROOM_PUBLIC_BASE_URL" envDefault:"http://localhost:8090"`
	UploadsDir    string `env:"VEILROOM_UPLOADS_DIR"     envDefault:"uploads"`

	JoinTTL            time.Duration `env:"VEILROOM_JOIN_TTL"              envDefault:"5m"`
	ConsumeSlotOnAdmit bool          `env:"VEILROOM_CONSUME_SLOT_ON_ADMIT" envDefault:"true"`

	SweepInterval time.Duration `env:"VEILROOM_SWEEP_INTERVAL" envDefault:"5m"`
	SweepMaxAge   time.Duration `env:"VEILROOM_SWEEP_MAX_AGE"  envDefault:"1m"`

	ShutdownTimeout time.Duration `env:"VEILROOM_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", cfg.PublicBaseURL, "public base URL embedded in join QR codes")
	fs.StringVar(&cfg.UploadsDir, "uploads-dir", cfg.UploadsDir, "directory for uploaded files")
	fs.DurationVar(&cfg.JoinTTL, "join-ttl", cfg.JoinTTL, "window after session creation during which joins are admitted")
	fs.BoolVar(&cfg.ConsumeSlotOnAdmit, "consume-slot-on-admit", cfg.ConsumeSlotOnAdmit, "consume a join slot at admission rather than on a verified answer")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "how often expired sessions are swept")
	fs.DurationVar(&cfg.SweepMaxAge, "sweep-max-age", cfg.SweepMaxAge, "session age beyond which the sweep deletes it")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the relay app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:           cfg.HTTPAddr,
			StoragePath:        cfg.DBPath,
			PublicBaseURL:      cfg.PublicBaseURL,
			UploadsDir:         cfg.UploadsDir,
			JoinTTL:            cfg.JoinTTL,
			ConsumeSlotOnAdmit: cfg.ConsumeSlotOnAdmit,
			SweepInterval:      cfg.SweepInterval,
			SweepMaxAge:        cfg.SweepMaxAge,
			ShutdownTimeout:    cfg.ShutdownTimeout,
		}); err != nil {
			return fmt.Errorf("serve relay: %w", err)
		}
		return nil
	})
}
