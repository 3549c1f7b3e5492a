package rewind

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrRunnerStopped цикл тика уже завершён
	ErrRunnerStopped = errors.New("rewind: runner stopped")
	// ErrCommandPanicked команда упала с паникой, цикл продолжает работу
	ErrCommandPanicked = errors.New("rewind: command panicked")
)

// Типы уведомлений отладчика
const (
	NotificationTrackCursor       = "track_cursor"
	NotificationComponentsChanged = "components_changed"
)

// Notification уведомление отладчика для подписчиков вне потока тика
type Notification struct {
	Type    string `json:"type"`
	Reverse bool   `json:"reverse"` // только для track_cursor
}

// Stepper живой мир, который продвигается на каждом тике перед отладчиком
type Stepper interface {
	Step(dt float64)
}

// Stats снимок состояния отладчика после тика
type Stats struct {
	ControlState      ControlState `json:"control_state"`
	ScrubTime         float64      `json:"scrub_time"`
	RecordingDuration float64      `json:"recording_duration"`
	TraceTime         float64      `json:"trace_time"`
	PlaybackRate      float64      `json:"playback_rate"`
	FrameIndex        int          `json:"frame_index"`
	EventCount        int          `json:"event_count"`
	RecordingIndex    int          `json:"recording_index"`
	Recording         bool         `json:"recording"`
	Simulating        bool         `json:"simulating"`
	SessionID         string       `json:"session_id,omitempty"`
	TargetID          uint64       `json:"target_id,omitempty"`
	HasTarget         bool         `json:"has_target"`
	SelectedID        uint64       `json:"selected_id,omitempty"`
	Extensions        int          `json:"extensions"`
	ExtensionFailures uint64       `json:"extension_failures"`
	Ticks             uint64       `json:"ticks"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Snapshot собирает Stats. Вызывается с потока тика.
func (d *Debugger) Snapshot() Stats {
	targetID, hasTarget := d.tracker.Target()
	var selectedID uint64
	if sel := d.tracker.Selected(); sel != nil {
		selectedID = sel.ObjectID
	}
	return Stats{
		ControlState:      d.controlState,
		ScrubTime:         d.scrubTime,
		RecordingDuration: d.recordingDuration,
		TraceTime:         d.traceTime,
		PlaybackRate:      d.playbackRate,
		FrameIndex:        d.frameIndex,
		EventCount:        d.EventCount(),
		RecordingIndex:    d.recordingIndex,
		Recording:         d.recording,
		Simulating:        d.IsSimulating(),
		SessionID:         d.sessionID,
		TargetID:          targetID,
		HasTarget:         hasTarget,
		SelectedID:        selectedID,
		Extensions:        d.registry.Len(),
		ExtensionFailures: d.extensionFailures,
		Ticks:             d.ticks,
		UpdatedAt:         time.Now(),
	}
}

type command struct {
	fn       func(d *Debugger)
	done     chan struct{}
	panicked interface{}
}

// Runner владеет потоком тика: продвигает мир и отладчик с заданной частотой
// и выполняет команды других горутин между тиками.
type Runner struct {
	debugger *Debugger
	world    Stepper
	interval time.Duration

	commands chan *command
	stats    atomic.Pointer[Stats]

	subMu       sync.Mutex
	subscribers map[chan Notification]struct{}
	dropped     atomic.Uint64

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewRunner создаёт цикл. world может быть nil.
func NewRunner(d *Debugger, world Stepper, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Second / 60
	}
	r := &Runner{
		debugger:    d,
		world:       world,
		interval:    interval,
		commands:    make(chan *command, 64),
		subscribers: make(map[chan Notification]struct{}),
		stopped:     make(chan struct{}),
	}
	d.AddTrackCursorListener(func(reverse bool) {
		r.broadcast(Notification{Type: NotificationTrackCursor, Reverse: reverse})
	})
	d.AddComponentListChangedListener(func() {
		r.broadcast(Notification{Type: NotificationComponentsChanged})
	})
	r.publish()
	return r
}

// Run крутит цикл тика до отмены ctx
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.stopOnce.Do(func() { close(r.stopped) })

	dt := r.interval.Seconds()
	r.debugger.log.Info("🔁 Цикл отладчика запущен: %v на тик", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.debugger.log.Info("🛑 Цикл отладчика остановлен")
			return
		case cmd := <-r.commands:
			r.exec(cmd)
		case <-ticker.C:
			if r.world != nil {
				r.world.Step(dt)
			}
			r.debugger.Tick(dt)
			r.publish()
		}
	}
}

// exec выполняет команду. Паника команды логируется и возвращается из Do.
func (r *Runner) exec(cmd *command) {
	defer close(cmd.done)
	defer r.publish()
	defer func() {
		if p := recover(); p != nil {
			cmd.panicked = p
			r.debugger.log.Error("💥 Паника в команде отладчика: %v", p)
		}
	}()
	cmd.fn(r.debugger)
}

// Do выполняет fn на потоке тика и ждёт завершения
func (r *Runner) Do(ctx context.Context, fn func(d *Debugger)) error {
	cmd := &command{fn: fn, done: make(chan struct{})}

	select {
	case r.commands <- cmd:
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cmd.done:
		if cmd.panicked != nil {
			return fmt.Errorf("%w: %v", ErrCommandPanicked, cmd.panicked)
		}
		return nil
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats последний опубликованный снимок. Безопасен для любых горутин.
func (r *Runner) Stats() Stats {
	return *r.stats.Load()
}

func (r *Runner) publish() {
	s := r.debugger.Snapshot()
	r.stats.Store(&s)
}

// Subscribe подписывает на уведомления отладчика. Уведомления приходят с потока
// тика; при заполненном буфере новые отбрасываются. cancel закрывает канал.
func (r *Runner) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notification, buffer)

	r.subMu.Lock()
	r.subscribers[ch] = struct{}{}
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subscribers, ch)
			close(ch)
			r.subMu.Unlock()
		})
	}
	return ch, cancel
}

// DroppedNotifications сколько уведомлений не влезло в буферы подписчиков
func (r *Runner) DroppedNotifications() uint64 {
	return r.dropped.Load()
}

func (r *Runner) broadcast(n Notification) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for ch := range r.subscribers {
		select {
		case ch <- n:
		default:
			r.dropped.Add(1)
		}
	}
}
