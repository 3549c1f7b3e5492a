package rewind

import (
	"context"
	"time"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/timeline"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// CanStartRecording запись можно начать: симуляция идёт и запись не активна
func (d *Debugger) CanStartRecording() bool {
	return !d.recording && d.IsSimulating()
}

// CanStopRecording запись активна
func (d *Debugger) CanStopRecording() bool {
	return d.recording
}

// StartRecording начинает новую запись с новым индексом
func (d *Debugger) StartRecording() {
	if !d.CanStartRecording() {
		return
	}

	_, span := d.tracer.Start(context.Background(), "rewind.StartRecording")
	defer span.End()

	d.setChannelsEnabled(true)
	d.notifyRecordingStarted()

	d.recordingDuration = 0
	d.scrubTime = 0
	d.traceTime = 0
	d.highestIndex++
	d.recordingIndex = d.highestIndex
	d.recording = true
	d.recordingStart = time.Now()
	d.sessionID = uuid.NewString()
	d.frameIndex = 0

	d.host.ResetWorldElapsedTime()
	d.host.SetWorldRecordingIndex(d.recordingIndex)

	span.SetAttributes(
		attribute.Int("rewind.recording_index", d.recordingIndex),
		attribute.String("rewind.session_id", d.sessionID),
	)
	d.log.Info("🔴 Запись #%d начата (session=%s)", d.recordingIndex, d.sessionID)
}

// StopRecording завершает запись. Длительность фиксируется на прошедшем
// времени симуляции в момент остановки, позиция воспроизведения не меняется.
func (d *Debugger) StopRecording() {
	if !d.CanStopRecording() {
		return
	}

	_, span := d.tracer.Start(context.Background(), "rewind.StopRecording")
	defer span.End()

	if d.host != nil {
		d.recordingDuration = d.host.WorldElapsedTime()
	}
	if d.scrubTime > d.recordingDuration {
		d.scrubTime = d.recordingDuration
	}

	d.setChannelsEnabled(false)
	d.notifyRecordingStopped()
	d.recording = false

	span.SetAttributes(
		attribute.Int("rewind.recording_index", d.recordingIndex),
		attribute.Float64("rewind.duration", d.recordingDuration),
	)
	d.log.Info("⏹️ Запись #%d остановлена: %.3f с (%s)", d.recordingIndex, d.recordingDuration, time.Since(d.recordingStart).Round(time.Millisecond))
}

// OpenRecording делает текущей ранее сохранённую запись, уже загруженную
// в сессию анализа. Доступно только вне симуляции и записи. Длительность
// берётся из последнего события записи, позиция сбрасывается в начало.
func (d *Debugger) OpenRecording(recordingIndex int, sessionID string) bool {
	if d.recording || d.IsSimulating() {
		return false
	}

	scope := d.beginRead()
	rp, ok := analysis.GetProvider[analysis.RecordingProvider](d.session, analysis.RecordingProviderName)
	var store timeline.Store
	if ok {
		store, ok = rp.RecordingTimeline(recordingIndex)
	}
	duration := 0.0
	if ok && store.EventCount() > 0 {
		if last, err := store.Event(store.EventCount() - 1); err == nil {
			duration = last.ElapsedTime
		}
	}
	scope.End()
	if !ok {
		return false
	}

	d.controlState = ControlPause
	d.recordingIndex = recordingIndex
	if recordingIndex > d.highestIndex {
		d.highestIndex = recordingIndex
	}
	d.sessionID = sessionID
	d.recordingDuration = duration
	d.frameIndex = 0
	d.setScrubTime(0, true)

	d.log.Info("📂 Открыта запись #%d: %.3f с", recordingIndex, duration)
	return true
}

// RecordingStartTime время начала текущей или последней записи
func (d *Debugger) RecordingStartTime() time.Time {
	return d.recordingStart
}

func (d *Debugger) setChannelsEnabled(enabled bool) {
	if d.channels == nil {
		return
	}
	for _, name := range d.channelNames {
		d.channels.SetChannelEnabled(name, enabled)
	}
}

// teardown завершает сессию при выходе из симуляции
func (d *Debugger) teardown() {
	d.poseResets.Clear()
	d.setChannelsEnabled(false)
	d.StopRecording()

	d.controlState = ControlPause
	d.recordingDuration = 0
	d.setScrubTime(0, true)
	d.log.Info("🧹 Сессия отладки сброшена")
}

// restorePoses возвращает живые трансформы, перезаписанные воспроизведением
func (d *Debugger) restorePoses() {
	if d.poseResets.Len() == 0 {
		return
	}
	restored := d.poseResets.Restore(d.scene)
	d.log.Debug("Восстановлено трансформов: %d", restored)
}

// === host.Listener ===

func (d *Debugger) OnSimStarted() {
	d.log.Info("▶️ Симуляция запущена")
	if d.autoRecord {
		d.StartRecording()
	}
}

func (d *Debugger) OnSimPaused() {
	d.log.Debug("Симуляция на паузе")
}

func (d *Debugger) OnSimResumed() {
	d.restorePoses()
}

func (d *Debugger) OnSimSingleStepped() {
	d.restorePoses()
}

func (d *Debugger) OnSimStopped() {
	d.teardown()
}
