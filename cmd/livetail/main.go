package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tourney-live/internal/config"
	"github.com/rickgao/tourney-live/internal/connection"
	"github.com/rickgao/tourney-live/internal/database"
	"github.com/rickgao/tourney-live/internal/journal"
	"github.com/rickgao/tourney-live/internal/model"
	"github.com/rickgao/tourney-live/internal/version"
)

const statsInterval = 5 * time.Second

func main() {
	cmd := &cli.Command{
		Name:    "livetail",
		Usage:   "follow a tournament's live updates",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (defaults are used when empty)",
			},
			&cli.StringFlag{
				Name:    "tournament",
				Aliases: []string{"t"},
				Usage:   "tournament id, overrides server.tournament",
			},
			&cli.BoolFlag{
				Name:  "journal",
				Usage: "record events to the journal database, overrides journal.enabled",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("livetail failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(os.Stdout, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting livetail",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
	)

	tournament := cfg.Server.Tournament
	if tournament == "" {
		return errors.New("no tournament: set server.tournament or pass --tournament")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	mcfg := cfg.ManagerConfig()
	mcfg.Headers = withUserAgent(mcfg.Headers)
	mgr := connection.NewManager(mcfg, logger.With("component", "connection"))
	subscribeLogging(mgr, logger)

	g, gctx := errgroup.WithContext(ctx)

	var writer *journal.Writer
	if cfg.Journal.Enabled {
		db := cfg.Journal.Database
		logger.Info("connecting to journal database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = journal.NewWriter(cfg.JournalWriterConfig(), cfg.Instance.ID, pool, logger.With("component", "journal"))
		if err := writer.Start(gctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		kinds := append(append([]string(nil), model.Kinds...), model.KindPong)
		detach := journal.Attach(mgr, writer, kinds)
		defer detach()
	}

	g.Go(func() error {
		if err := mgr.Connect(gctx, tournament); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		return watch(gctx, mgr, writer, logger)
	})

	err = g.Wait()
	mgr.Disconnect()

	if writer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		writer.Stop(stopCtx)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("livetail stopped")
	return nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.LoadAndValidate(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if t := cmd.String("tournament"); t != "" {
		cfg.Server.Tournament = t
	}
	if cmd.IsSet("journal") {
		cfg.Journal.Enabled = cmd.Bool("journal")
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	return cfg, nil
}

// newLogger builds the slog handler selected by cfg.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func withUserAgent(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	if _, ok := out["User-Agent"]; !ok {
		out["User-Agent"] = version.UserAgent()
	}
	return out
}

// subscribeLogging logs every known event in decoded form.
func subscribeLogging(mgr *connection.Manager, logger *slog.Logger) {
	mgr.OnConnectionStatusChange(func(connected bool) {
		logger.Info("connection status", "connected", connected)
	})

	mgr.On(model.KindInitialState, model.Handle(func(s model.InitialState) error {
		logger.Info("tournament state",
			"id", s.ID,
			"name", s.Name,
			"status", s.Status,
			"level", s.CurrentLevel,
			"players", s.PlayersCount,
			"active_players", s.ActivePlayersCount,
			"paused", s.Paused,
		)
		return nil
	}))
	mgr.On(model.KindTournamentStarted, model.Handle(func(s model.TournamentStarted) error {
		start := ""
		if s.StartTime != nil {
			start = *s.StartTime
		}
		logger.Info("tournament started", "start_time", start)
		return nil
	}))
	mgr.On(model.KindLevelChanged, model.Handle(func(l model.LevelChanged) error {
		attrs := []any{"level", l.Level}
		if l.SmallBlind != nil && l.BigBlind != nil {
			attrs = append(attrs, "blinds", fmt.Sprintf("%g/%g", *l.SmallBlind, *l.BigBlind))
		}
		if l.Duration != nil {
			attrs = append(attrs, "duration_min", *l.Duration)
		}
		logger.Info("level changed", attrs...)
		return nil
	}))
	mgr.On(model.KindPauseStatusChanged, model.Handle(func(p model.PauseStatusChanged) error {
		logger.Info("pause status changed", "paused", p.Paused)
		return nil
	}))
	mgr.On(model.KindPlayerEliminated, model.Handle(func(e model.PlayerEliminated) error {
		logger.Info("player eliminated", "player_id", e.PlayerID, "position", e.Position, "time", e.Time)
		return nil
	}))
	mgr.On(model.KindPlayerRebuy, model.Handle(func(r model.PlayerRebuy) error {
		logger.Info("player rebuy", "player_id", r.PlayerID, "chips_added", r.ChipsAdded, "time", r.Time)
		return nil
	}))
	mgr.On(model.KindTablesUpdated, func(data json.RawMessage) error {
		logger.Info("tables updated", "size", len(data))
		return nil
	})
	mgr.On(model.KindPong, func(json.RawMessage) error {
		logger.Debug("pong")
		return nil
	})
}

// watch logs statistics periodically and returns once the manager has
// given up reconnecting.
func watch(ctx context.Context, mgr *connection.Manager, writer *journal.Writer, logger *slog.Logger) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := mgr.Err(); err != nil {
			return err
		}

		st := mgr.Stats()
		attrs := []any{
			"state", st.State,
			"tournament", st.Subject,
			"attempts", st.Attempts,
			"connects", st.Connects,
			"disconnects", st.Disconnects,
			"frames", st.FramesReceived,
			"parse_errors", st.ParseErrors,
		}
		if writer != nil {
			js := writer.Stats()
			attrs = append(attrs,
				"journal_inserts", js.Inserts,
				"journal_errors", js.Errors,
				"journal_dropped", js.Dropped,
			)
		}
		logger.Debug("stats", attrs...)
	}
}
