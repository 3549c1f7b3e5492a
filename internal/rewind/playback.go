package rewind

import (
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/timeline"
)

// CanPlay воспроизведение вперёд доступно
func (d *Debugger) CanPlay() bool {
	return d.controlState != ControlPlay && !d.IsSimulating() && d.recordingDuration > 0
}

// CanPlayReverse воспроизведение назад доступно
func (d *Debugger) CanPlayReverse() bool {
	return d.controlState != ControlPlayReverse && !d.IsSimulating() && d.recordingDuration > 0
}

// CanPause пауза доступна
func (d *Debugger) CanPause() bool {
	return d.controlState != ControlPause
}

// CanScrub перемотка доступна
func (d *Debugger) CanScrub() bool {
	return !d.IsSimulating() && d.recordingDuration > 0
}

// Play воспроизводит вперёд. С конца записи начинает с нуля.
func (d *Debugger) Play() {
	if !d.CanPlay() {
		return
	}
	if d.scrubTime >= d.recordingDuration {
		d.setScrubTime(0, true)
	}
	d.controlState = ControlPlay
}

// PlayReverse воспроизводит назад. С начала записи начинает с конца.
func (d *Debugger) PlayReverse() {
	if !d.CanPlayReverse() {
		return
	}
	if d.scrubTime <= 0 {
		d.setScrubTime(d.recordingDuration, false)
	}
	d.controlState = ControlPlayReverse
}

// Pause останавливает воспроизведение
func (d *Debugger) Pause() {
	if !d.CanPause() {
		return
	}
	d.controlState = ControlPause
}

// ScrubToTime ставит позицию воспроизведения. Значение ограничивается
// длительностью записи. Воспроизведение останавливается, даже если перемотка
// сейчас недоступна.
func (d *Debugger) ScrubToTime(t float64) {
	d.Pause()
	if !d.CanScrub() {
		return
	}
	next := clamp(t, 0, d.recordingDuration)
	d.setScrubTime(next, next < d.scrubTime)
}

// ScrubToStart перематывает в начало записи
func (d *Debugger) ScrubToStart() {
	d.ScrubToTime(0)
}

// ScrubToEnd перематывает в конец записи
func (d *Debugger) ScrubToEnd() {
	d.ScrubToTime(d.recordingDuration)
}

// Step сдвигает позицию на frames событий. Индекс ограничивается
// границами записи, поиск ближайшего события не нужен.
func (d *Debugger) Step(frames int) {
	d.Pause()
	if !d.CanScrub() {
		return
	}

	scope := d.beginRead()
	defer scope.End()

	store, ok := d.currentTimeline()
	if !ok || store.EventCount() == 0 {
		return
	}

	index := timeline.ClampIndex(d.frameIndex+frames, store.EventCount())
	ev, err := store.Event(index)
	if err != nil {
		d.log.Warn("Шаг на событие %d не выполнен: %v", index, err)
		return
	}

	d.frameIndex = index
	d.scrubTime = clamp(ev.ElapsedTime, 0, d.recordingDuration)
	d.traceTime = ev.ProfileTime
	d.notifyTrackCursor(frames < 0)
}

// SetPlaybackRate задаёт множитель скорости. Неположительные значения игнорируются.
func (d *Debugger) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		return
	}
	d.playbackRate = rate
}

// setScrubTime меняет позицию, один раз находит событие и сообщает слушателям
func (d *Debugger) setScrubTime(t float64, reverse bool) {
	d.scrubTime = t
	d.resolveScrubTime()
	logging.LogScrub(logging.ComponentRewind, d.scrubTime, d.frameIndex, reverse)
	d.notifyTrackCursor(reverse)
}

// resolveScrubTime обновляет индекс события и время трассы. Без бэкенда
// или без событий прежние значения сохраняются.
func (d *Debugger) resolveScrubTime() {
	scope := d.beginRead()
	defer scope.End()

	store, ok := d.currentTimeline()
	if !ok {
		return
	}
	res, ok := timeline.Resolve(store, d.scrubTime, d.frameIndex)
	if !ok {
		return
	}
	d.frameIndex = res.Index
	d.traceTime = res.ProfileTime
}

// Tick один шаг отладчика. Вызывается раз в кадр с потока тика.
func (d *Debugger) Tick(deltaTime float64) {
	d.ticks++

	scope := d.beginRead()
	defer scope.End()

	if d.IsSimulating() {
		// Во время живой записи позиция следует за длительностью записи
		if d.recording {
			d.recordingDuration = d.host.WorldElapsedTime()
			d.setScrubTime(d.recordingDuration, false)
		}
	} else if d.controlState != ControlPause && d.recordingDuration > 0 {
		rate := d.playbackRate
		if d.controlState == ControlPlayReverse {
			rate = -rate
		}
		next := clamp(d.scrubTime+rate*deltaTime, 0, d.recordingDuration)
		d.setScrubTime(next, rate < 0)
		if next == 0 || next == d.recordingDuration {
			d.controlState = ControlPause
		}
	}

	if d.session == nil {
		return
	}
	if d.recording {
		d.refreshHierarchy()
	}
	d.updateExtensions(deltaTime)
}
