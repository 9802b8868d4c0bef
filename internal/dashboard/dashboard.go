package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed templates/*
var templates embed.FS

// Stats holds the session statistics (pure data, no mutex)
type Stats struct {
	// Connection status
	Connected      bool      `json:"connected"`
	ConnectedSince time.Time `json:"connectedSince,omitempty"`
	LastDisconnect time.Time `json:"lastDisconnect,omitempty"`

	// Session state
	State     string `json:"state"`
	Bonus     string `json:"bonus"`
	Countdown string `json:"countdown"`

	// Query statistics
	QueriesAnswered int `json:"queriesAnswered"`

	// Historical totals from the local store
	TotalSessions int `json:"totalSessions"`
	TotalAnswers  int `json:"totalAnswers"`
	TodayAnswers  int `json:"todayAnswers"`

	// Session info
	AssignmentID string    `json:"assignmentId"`
	HITID        string    `json:"hitId"`
	WorkerID     string    `json:"workerId"`
	StartTime    time.Time `json:"startTime"`
}

// Dashboard serves live session statistics and the opt-in affordance.
type Dashboard struct {
	mu        sync.RWMutex
	stats     Stats
	optInFunc func() error
}

// NewDashboard creates a new dashboard instance
func NewDashboard(assignmentID, hitID, workerID string) *Dashboard {
	return &Dashboard{
		stats: Stats{
			AssignmentID: assignmentID,
			HITID:        hitID,
			WorkerID:     workerID,
			StartTime:    time.Now(),
			State:        "idle",
			Bonus:        "$0.000",
			Countdown:    "--:--:--",
		},
	}
}

// SetOptInFunc sets the function to call when the worker opts in via the
// dashboard.
func (d *Dashboard) SetOptInFunc(f func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.optInFunc = f
}

// UpdateConnectionStatus updates the connection status
func (d *Dashboard) UpdateConnectionStatus(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Connected = connected
	if connected {
		d.stats.ConnectedSince = time.Now()
	} else {
		d.stats.LastDisconnect = time.Now()
	}
}

// UpdateState records the session phase for display.
func (d *Dashboard) UpdateState(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.State = state
}

// UpdateBonus records the current bonus display string.
func (d *Dashboard) UpdateBonus(display string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Bonus = display
}

// UpdateCountdown records the current countdown display string.
func (d *Dashboard) UpdateCountdown(display string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Countdown = display
}

// RecordAnswer bumps the per-session answered counter.
func (d *Dashboard) RecordAnswer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.QueriesAnswered++
}

// LoadHistoricalStats initializes totals from the local session history.
func (d *Dashboard) LoadHistoricalStats(totalSessions, totalAnswers, todayAnswers int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.TotalSessions = totalSessions
	d.stats.TotalAnswers = totalAnswers
	d.stats.TodayAnswers = todayAnswers
}

// GetStats returns a copy of the current stats
func (d *Dashboard) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// ServeHTTP starts the HTTP dashboard server. It shuts down gracefully when ctx is cancelled.
func (d *Dashboard) ServeHTTP(ctx context.Context, addr string) error {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/stats", d.handleStats)
	mux.HandleFunc("/api/optin", d.handleOptIn)

	// Static files (CSS, JS)
	staticFS, err := fs.Sub(templates, "templates")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	// Index page
	mux.HandleFunc("/", d.handleIndex)

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("starting dashboard server")
	err = server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleStats returns the current statistics as JSON
func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := d.GetStats()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

// handleOptIn starts the on-call session
func (d *Dashboard) handleOptIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d.mu.RLock()
	optIn := d.optInFunc
	d.mu.RUnlock()

	if optIn == nil {
		http.Error(w, "Opt-in not configured", http.StatusInternalServerError)
		return
	}

	log.Info().Msg("opt-in requested via dashboard")

	if err := optIn(); err != nil {
		http.Error(w, fmt.Sprintf("Opt-in failed: %v", err), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleIndex serves the dashboard HTML page
func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data, err := templates.ReadFile("templates/index.html")
	if err != nil {
		log.Error().Err(err).Msg("failed to read index.html")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}
