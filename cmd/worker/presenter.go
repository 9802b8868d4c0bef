package main

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keenon/lense/internal/console"
	"github.com/keenon/lense/internal/dashboard"
	"github.com/keenon/lense/internal/store"
)

// display fans pay and countdown updates out to the terminal and the
// dashboard.
type display struct {
	console *console.Console
	dash    *dashboard.Dashboard
}

func (d *display) UpdateBonus(s string) {
	d.console.UpdateBonus(s)
	d.dash.UpdateBonus(s)
}

func (d *display) UpdateCountdown(s string) {
	d.console.UpdateCountdown(s)
	d.dash.UpdateCountdown(s)
}

func (d *display) Alert(message string) {
	d.console.Alert(message)
}

func (d *display) HasFocus() bool {
	return d.console.HasFocus()
}

// historyRecorder persists session activity and keeps the dashboard
// counters in step.
type historyRecorder struct {
	store     *store.Store
	dash      *dashboard.Dashboard
	sessionID string
}

func (h *historyRecorder) RecordAnswer(choiceID, shortcut string) {
	h.dash.RecordAnswer()
	err := h.store.RecordAnswer(&store.AnswerRecord{
		SessionID:  h.sessionID,
		ChoiceID:   choiceID,
		Shortcut:   shortcut,
		AnsweredAt: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to record answer")
	}
}

func (h *historyRecorder) FinishSession(outcome string) {
	if err := h.store.FinishSession(h.sessionID, outcome, time.Now()); err != nil {
		log.Error().Err(err).Msg("failed to record session outcome")
	}
}
