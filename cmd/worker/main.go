package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keenon/lense/internal/config"
	"github.com/keenon/lense/internal/console"
	"github.com/keenon/lense/internal/dashboard"
	"github.com/keenon/lense/internal/identity"
	"github.com/keenon/lense/internal/payout"
	"github.com/keenon/lense/internal/session"
	"github.com/keenon/lense/internal/store"
	"github.com/keenon/lense/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogging(cfg.Log.Level)

	id, err := identity.Parse(cfg.Page.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse session identity")
	}
	log.Info().
		Str("assignment", id.AssignmentID).
		Str("hit", id.HITID).
		Str("worker", id.WorkerID).
		Msg("starting worker session client")

	endpoint, err := transport.Endpoint(cfg.Page.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive socket endpoint")
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer db.Close()

	sessionID := uuid.NewString()
	err = db.BeginSession(&store.SessionRecord{
		ID:           sessionID,
		AssignmentID: id.AssignmentID,
		HITID:        id.HITID,
		WorkerID:     id.WorkerID,
		StartedAt:    time.Now(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to record session start")
	}

	dash := dashboard.NewDashboard(id.AssignmentID, id.HITID, id.WorkerID)
	if stats, err := db.GetAggregateStats(); err != nil {
		log.Warn().Err(err).Msg("failed to load historical stats")
	} else {
		dash.LoadHistoricalStats(stats.TotalSessions, stats.TotalAnswers, stats.TodayAnswers)
	}

	term := console.New(os.Stdout)
	disp := &display{console: term, dash: dash}
	history := &historyRecorder{store: db, dash: dash, sessionID: sessionID}

	controller := session.New(session.Config{
		Identity:  id,
		Clock:     clockwork.NewRealClock(),
		Renderer:  term,
		Display:   disp,
		Presenter: term,
		Payer:     payout.NewClient(id),
		History:   history,
		Dial: func(h transport.Handler) session.Wire {
			return transport.NewConn(endpoint, h)
		},
	})
	dash.SetOptInFunc(controller.OptIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Dashboard.Enabled {
		go func() {
			if err := dash.ServeHTTP(ctx, cfg.Dashboard.Address); err != nil {
				log.Error().Err(err).Msg("dashboard server error")
			}
		}()
	}

	go term.Run(ctx, os.Stdin)

	done := make(chan struct{})
	go watchState(ctx, controller, dash, done)

	if id.Preview() {
		term.ShowNotice(session.NoticePreview)
	} else {
		term.PromptOptIn(controller.OptIn)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutting down on signal")
	case <-done:
		log.Info().Msg("session complete, shutting down")
	}

	cancel()
}

// watchState mirrors the session phase onto the dashboard and closes done
// once the session reaches its terminal state.
func watchState(ctx context.Context, controller *session.Controller, dash *dashboard.Dashboard, done chan<- struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last session.State
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := controller.State()
			if state == last {
				continue
			}
			last = state
			dash.UpdateState(string(state))
			dash.UpdateConnectionStatus(state == session.StateActive)
			if state == session.StateCompleted {
				close(done)
				return
			}
		}
	}
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
