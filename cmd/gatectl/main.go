// Command gatectl administers the gate's stores directly, without going
// through the HTTP API.
//
// Usage:
//
//	gatectl ban 123456789 --reason "spam" --hours 48
//	gatectl unban 123456789
//	gatectl status 123456789
//	gatectl lookup https://youtu.be/dQw4w9WgXcQ
//	gatectl stats
//	gatectl cache-clear
//
// Configuration is read the same way as the server (.env, CONFIG_FILE and
// environment); flags override the database and cache paths.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-media-gate/internal/cache"
	"github.com/tbourn/go-media-gate/internal/config"
	"github.com/tbourn/go-media-gate/internal/observability"
	"github.com/tbourn/go-media-gate/internal/repo"
	"github.com/tbourn/go-media-gate/internal/services"
	"github.com/tbourn/go-media-gate/internal/sysutil"
	"github.com/tbourn/go-media-gate/internal/workers"
)

// CLI defines the command-line interface.
type CLI struct {
	Ban        BanCmd        `cmd:"" help:"Ban a user."`
	Unban      UnbanCmd      `cmd:"" help:"Lift a user's ban."`
	Status     StatusCmd     `cmd:"" help:"Show a user's ban state (clears a lapsed ban)."`
	Lookup     LookupCmd     `cmd:"" help:"Look up a URL in the dedup store."`
	Stats      StatsCmd      `cmd:"" help:"Show aggregate statistics."`
	CacheClear CacheClearCmd `cmd:"" name:"cache-clear" help:"Drop every extraction cache entry. The server must be stopped for the leveldb backend."`

	DB        string `help:"SQLite database path (defaults to DB_PATH)." type:"path"`
	CachePath string `name:"cache-path" help:"Extraction cache path (defaults to CACHE_PATH)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"warn"`
}

// env is the state shared by all commands.
type env struct {
	cfg  config.Config
	db   *gorm.DB
	pool *workers.Pool
	out  io.Writer
}

func (e *env) close() {
	_ = e.pool.Close(context.Background())
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// span starts a command span; a no-op unless OTEL_ENABLED is set.
func span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.Tracer("gatectl").Start(ctx, name, trace.WithAttributes(attrs...))
}

// BanCmd bans a user by hand.
type BanCmd struct {
	UserID string `arg:"" name:"user-id" help:"User to ban."`
	Reason string `help:"Ban reason." default:"Manual ban by admin"`
	Hours  *int   `help:"Ban duration in hours; 0 is permanent (default: BAN_DURATION_HOURS)."`
}

func (c *BanCmd) Run(ctx context.Context, e *env) error {
	ctx, sp := span(ctx, "ban", attribute.String("user.id", c.UserID))
	defer sp.End()

	d := e.cfg.Admission.BanDuration
	if c.Hours != nil {
		if *c.Hours < 0 {
			return errors.New("--hours must be >= 0")
		}
		d = time.Duration(*c.Hours) * time.Hour
	}
	rec, err := services.NewBanService(e.db, e.pool).Ban(ctx, c.UserID, c.Reason, d)
	if err != nil {
		return err
	}
	return e.print(rec)
}

// UnbanCmd lifts a ban.
type UnbanCmd struct {
	UserID string `arg:"" name:"user-id" help:"User to unban."`
}

func (c *UnbanCmd) Run(ctx context.Context, e *env) error {
	ctx, sp := span(ctx, "unban", attribute.String("user.id", c.UserID))
	defer sp.End()

	if err := services.NewBanService(e.db, e.pool).Unban(ctx, c.UserID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(e.out, "unbanned %s\n", c.UserID)
	return err
}

// StatusCmd prints a ban record.
type StatusCmd struct {
	UserID string `arg:"" name:"user-id" help:"User to inspect."`
}

func (c *StatusCmd) Run(ctx context.Context, e *env) error {
	ctx, sp := span(ctx, "status", attribute.String("user.id", c.UserID))
	defer sp.End()

	rec, err := services.NewBanService(e.db, e.pool).Status(ctx, c.UserID)
	if err != nil {
		return err
	}
	return e.print(rec)
}

// LookupCmd prints the reusable record for a URL.
type LookupCmd struct {
	URL string `arg:"" help:"Exact source URL."`
}

func (c *LookupCmd) Run(ctx context.Context, e *env) error {
	ctx, sp := span(ctx, "lookup", attribute.String("media.url", c.URL))
	defer sp.End()

	m, err := services.NewMediaService(e.db, e.pool).Lookup(ctx, c.URL)
	if errors.Is(err, services.ErrDedupMiss) {
		return fmt.Errorf("%s: no reusable artifact", c.URL)
	}
	if err != nil {
		return err
	}
	return e.print(m)
}

// StatsCmd prints aggregate counts.
type StatsCmd struct{}

func (c *StatsCmd) Run(ctx context.Context, e *env) error {
	ctx, sp := span(ctx, "stats")
	defer sp.End()

	s, err := services.NewUserService(e.db, e.pool).Stats(ctx)
	if err != nil {
		return err
	}
	return e.print(s)
}

// CacheClearCmd empties the extraction cache.
type CacheClearCmd struct{}

func (c *CacheClearCmd) Run(ctx context.Context, e *env) (err error) {
	ctx, sp := span(ctx, "cache-clear")
	defer sp.End()

	store, err := cache.Open(e.cfg.Cache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close cache: %w", cerr))
		}
	}()

	ec := cache.New(store, e.pool, e.cfg.Cache.TTL)
	n := ec.Len()
	if err := ec.Clear(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.out, "removed %d entries\n", n)
	return err
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code. Every
// resource it opens is released before it returns.
func run(args []string, stdout, stderr io.Writer) int {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("gatectl"),
		kong.Description("Administer the media gate's ban, dedup and cache stores."),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		fmt.Fprintf(stderr, "gatectl: %v\n", err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}
	sysutil.SetupLogger(cli.LogLevel, true, stderr)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("load config")
		return 1
	}
	if cli.DB != "" {
		cfg.DBPath = cli.DB
	}
	if cli.CachePath != "" {
		cfg.Cache.Path = cli.CachePath
	}

	ctx := context.Background()
	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, "gatectl")
	if err != nil {
		log.Error().Err(err).Msg("otel setup")
		return 1
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("db", cfg.DBPath).Msg("open database")
		return 1
	}
	e := &env{cfg: cfg, db: db, pool: workers.New(1), out: stdout}
	defer e.close()
	if err := repo.AutoMigrate(db); err != nil {
		log.Error().Err(err).Msg("migrate database")
		return 1
	}

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(e); err != nil {
		log.Error().Err(err).Str("command", kctx.Command()).Msg("command failed")
		return 1
	}
	return 0
}
