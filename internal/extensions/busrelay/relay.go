// Package busrelay публикует события жизненного цикла отладчика в шину событий.
package busrelay

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/rewind/internal/eventbus"
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/rewind"
)

// RecordingEvent полезная нагрузка RecordingStarted/RecordingStopped
type RecordingEvent struct {
	RecordingIndex int     `json:"recording_index"`
	SessionID      string  `json:"session_id"`
	Duration       float64 `json:"duration"`
}

// ControlStateEvent полезная нагрузка ControlStateChanged
type ControlStateEvent struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	ScrubTime float64 `json:"scrub_time"`
}

// Relay расширение-ретранслятор. Начало записи публикуется на ближайшем тике,
// когда индекс новой записи уже известен.
type Relay struct {
	bus     eventbus.EventBus
	source  string
	timeout time.Duration
	log     *logging.Logger

	pendingStart bool
	lastState    rewind.ControlState
}

// New создаёт ретранслятор
func New(bus eventbus.EventBus, source string) *Relay {
	if source == "" {
		source = "rewindd"
	}
	return &Relay{
		bus:       bus,
		source:    source,
		timeout:   time.Second,
		log:       logging.GetExtensionLogger(),
		lastState: rewind.ControlPause,
	}
}

func (r *Relay) Name() string { return "busrelay" }

func (r *Relay) RecordingStarted(rewind.Handle) {
	r.pendingStart = true
}

func (r *Relay) RecordingStopped(h rewind.Handle) {
	if err := r.flushStart(h); err != nil {
		r.log.Warn("RecordingStarted не опубликован: %v", err)
	}
	if err := r.publish(eventbus.EventRecordingStopped, h.SessionID(), RecordingEvent{
		RecordingIndex: h.RecordingIndex(),
		SessionID:      h.SessionID(),
		Duration:       h.RecordingDuration(),
	}); err != nil {
		r.log.Warn("RecordingStopped не опубликован: %v", err)
	}
}

// Update публикует отложенное начало записи и смену режима воспроизведения
func (r *Relay) Update(_ float64, h rewind.Handle) error {
	var errs []error
	if err := r.flushStart(h); err != nil {
		errs = append(errs, err)
	}

	if state := h.ControlState(); state != r.lastState {
		err := r.publish(eventbus.EventControlStateChanged, h.SessionID(), ControlStateEvent{
			From:      r.lastState.String(),
			To:        state.String(),
			ScrubTime: h.ScrubTime(),
		})
		if err != nil {
			errs = append(errs, err)
		}
		r.lastState = state
	}
	return errors.Join(errs...)
}

func (r *Relay) flushStart(h rewind.Handle) error {
	if !r.pendingStart {
		return nil
	}
	r.pendingStart = false
	return r.publish(eventbus.EventRecordingStarted, h.SessionID(), RecordingEvent{
		RecordingIndex: h.RecordingIndex(),
		SessionID:      h.SessionID(),
	})
}

func (r *Relay) publish(eventType, correlationID string, payload interface{}) error {
	if r.bus == nil {
		return nil
	}
	ev, err := eventbus.NewEnvelope(eventType, r.source, payload)
	if err != nil {
		return err
	}
	ev.CorrelationID = correlationID
	ev.Priority = 5

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.bus.Publish(ctx, ev)
}
