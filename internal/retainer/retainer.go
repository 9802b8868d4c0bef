package retainer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// Base pay in dollars, before any per-query bonus.
	basePay = 3.0

	// Each answered query adds 1/queriesPerDollar of a dollar.
	queriesPerDollar = 500

	// Countdown display refresh interval.
	tickInterval = time.Second
)

// Display is the presentation collaborator for pay and countdown updates.
type Display interface {
	UpdateBonus(display string)
	UpdateCountdown(display string)
	Alert(message string)
	HasFocus() bool
}

// Tracker maintains the on-call countdown and the bonus figure. The
// countdown is recomputed from wall-clock elapsed time on every tick, so a
// suspended tab catches up instead of drifting.
type Tracker struct {
	clock     clockwork.Clock
	display   Display
	onExpired func()

	mu            sync.Mutex
	totalAnswered int
	cancelTick    context.CancelFunc
	expired       bool
}

// NewTracker creates a tracker. onExpired fires exactly once when the
// countdown runs out.
func NewTracker(clock clockwork.Clock, display Display, onExpired func()) *Tracker {
	return &Tracker{
		clock:     clock,
		display:   display,
		onExpired: onExpired,
	}
}

// Bonus is the pay earned for a given answered-query count.
func Bonus(totalAnswered int) float64 {
	return basePay + float64(totalAnswered)/queriesPerDollar
}

// FormatBonus renders a bonus amount for display, to three decimal places.
func FormatBonus(bonus float64) string {
	return fmt.Sprintf("$%.3f", bonus)
}

// RecordProgress recomputes the bonus from the server-announced total and
// pushes the new figure to the display. The figure is never interpolated
// locally; only server totals move it.
func (t *Tracker) RecordProgress(totalAnswered int) {
	t.mu.Lock()
	t.totalAnswered = totalAnswered
	t.mu.Unlock()

	log.Info().Int("total_answered", totalAnswered).Msg("progress update")
	t.display.UpdateBonus(FormatBonus(Bonus(totalAnswered)))
}

// TotalAnswered returns the last server-announced answered-query count.
func (t *Tracker) TotalAnswered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalAnswered
}

// StartCountdown anchors a countdown of the given duration at the current
// time and starts the 1 Hz display tick. A second announcement replaces any
// countdown already running; the anchor is always "now".
func (t *Tracker) StartCountdown(duration time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.cancelTick != nil {
		log.Warn().Msg("replacing running countdown")
		t.cancelTick()
	}
	t.cancelTick = cancel
	t.expired = false
	t.mu.Unlock()

	anchor := t.clock.Now()
	log.Info().Dur("duration", duration).Msg("countdown started")
	go t.run(ctx, anchor, duration)
}

// Stop halts the countdown tick without firing the expiry callback.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelTick != nil {
		t.cancelTick()
		t.cancelTick = nil
	}
}

func (t *Tracker) run(ctx context.Context, anchor time.Time, duration time.Duration) {
	ticker := t.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			remaining := Remaining(t.clock.Now(), anchor, duration)
			if remaining < 0 {
				t.expire()
				return
			}
			t.display.UpdateCountdown(FormatRemaining(remaining))
		}
	}
}

// expire fires the terminal callback, guarded so a re-entrant or racing
// tick can never fire it twice.
func (t *Tracker) expire() {
	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return
	}
	t.expired = true
	t.cancelTick = nil
	t.mu.Unlock()

	log.Info().Msg("on-call time is up")
	if !t.display.HasFocus() {
		t.display.Alert("Your time is up! Collect your earnings!")
	}
	t.onExpired()
}

// Remaining is the pure remaining-time computation: the announced duration
// minus the wall-clock time elapsed since the anchor.
func Remaining(now, anchor time.Time, duration time.Duration) time.Duration {
	return duration - now.Sub(anchor)
}

// FormatRemaining renders a non-negative remaining time as hh:mm:ss with
// zero-padded fields, rounding part-seconds up. Hours are unbounded.
func FormatRemaining(remaining time.Duration) string {
	totalSeconds := int64((remaining + time.Second - 1) / time.Second)
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
