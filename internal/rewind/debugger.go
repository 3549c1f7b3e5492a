// Package rewind реализует отладчик перемотки: машину состояний воспроизведения,
// управление сессией записи, обход расширений и отслеживание цели отладки.
//
// Отладчик однопоточный: все методы вызываются с одного потока тика
// (см. Runner). Чтение трассы внутри тика идёт под одним ReadScope.
package rewind

import (
	"time"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/hierarchy"
	"github.com/annel0/rewind/internal/host"
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/timeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Handle интерфейс отладчика, доступный расширениям
type Handle interface {
	CurrentTraceTime() float64
	AnalysisSession() analysis.Session
	TargetActorID() (uint64, bool)
	DebugComponents() []*hierarchy.Node
	IsRecording() bool
	IsSimulating() bool
	RecordingDuration() float64
	SelectedComponent() *hierarchy.Node

	RecordingIndex() int
	SessionID() string
	ControlState() ControlState
	ScrubTime() float64
	Scene() host.Scene
	PoseResets() *PoseResetLog
}

// Options зависимости отладчика. Host и Session могут отсутствовать:
// тогда зависящие от них операции ничего не делают.
type Options struct {
	Host         host.Host
	Channels     host.Channels
	Scene        host.Scene
	Session      analysis.Session
	Registry     *ExtensionRegistry
	ChannelNames []string // каналы захвата, включаемые на время записи
	AutoRecord   bool     // начинать запись при старте симуляции
	PlaybackRate float64

	// FirstRecordingIndex индекс, после которого нумеруются новые записи
	// (например, последний сохранённый в архиве)
	FirstRecordingIndex int
}

// Debugger отладчик перемотки
type Debugger struct {
	host         host.Host
	channels     host.Channels
	scene        host.Scene
	session      analysis.Session
	registry     *ExtensionRegistry
	channelNames []string
	autoRecord   bool

	log    *logging.Logger
	tracer trace.Tracer

	// Воспроизведение
	controlState      ControlState
	scrubTime         float64
	recordingDuration float64
	playbackRate      float64
	frameIndex        int
	traceTime         float64

	// Запись
	recordingIndex int
	highestIndex   int
	recording      bool
	recordingStart time.Time
	sessionID      string

	tracker    *hierarchy.Tracker
	poseResets *PoseResetLog

	trackCursorListeners   []TrackCursorListener
	componentListListeners []ComponentListListener

	ticks             uint64
	extensionFailures uint64
}

var _ Handle = (*Debugger)(nil)
var _ host.Listener = (*Debugger)(nil)

// New создаёт отладчик в состоянии паузы
func New(opts Options) *Debugger {
	rate := opts.PlaybackRate
	if rate <= 0 {
		rate = 1
	}
	return &Debugger{
		host:         opts.Host,
		channels:     opts.Channels,
		scene:        opts.Scene,
		session:      opts.Session,
		registry:     opts.Registry,
		channelNames: append([]string(nil), opts.ChannelNames...),
		autoRecord:   opts.AutoRecord,
		log:          logging.GetRewindLogger(),
		tracer:       otel.Tracer("github.com/annel0/rewind/internal/rewind"),
		controlState: ControlPause,
		playbackRate: rate,
		highestIndex: opts.FirstRecordingIndex,
		tracker:      hierarchy.NewTracker(),
		poseResets:   NewPoseResetLog(),
	}
}

// === Handle ===

func (d *Debugger) CurrentTraceTime() float64          { return d.traceTime }
func (d *Debugger) AnalysisSession() analysis.Session  { return d.session }
func (d *Debugger) TargetActorID() (uint64, bool)      { return d.tracker.Target() }
func (d *Debugger) DebugComponents() []*hierarchy.Node { return d.tracker.Components() }
func (d *Debugger) IsRecording() bool                  { return d.recording }
func (d *Debugger) RecordingDuration() float64         { return d.recordingDuration }
func (d *Debugger) SelectedComponent() *hierarchy.Node { return d.tracker.Selected() }
func (d *Debugger) RecordingIndex() int                { return d.recordingIndex }
func (d *Debugger) ControlState() ControlState         { return d.controlState }
func (d *Debugger) ScrubTime() float64                 { return d.scrubTime }
func (d *Debugger) Scene() host.Scene                  { return d.scene }
func (d *Debugger) PoseResets() *PoseResetLog          { return d.poseResets }

// IsSimulating живая симуляция запущена и не на паузе
func (d *Debugger) IsSimulating() bool {
	return d.host != nil && d.host.IsSimulating()
}

// PlaybackRate множитель скорости воспроизведения
func (d *Debugger) PlaybackRate() float64 { return d.playbackRate }

// ScrubFrameIndex индекс последнего найденного события
func (d *Debugger) ScrubFrameIndex() int { return d.frameIndex }

// SessionID идентификатор текущей или последней записи
func (d *Debugger) SessionID() string { return d.sessionID }

// === Слушатели ===

// AddTrackCursorListener подписывает на изменения позиции воспроизведения
func (d *Debugger) AddTrackCursorListener(fn TrackCursorListener) {
	d.trackCursorListeners = append(d.trackCursorListeners, fn)
}

// AddComponentListChangedListener подписывает на изменения дерева компонентов
func (d *Debugger) AddComponentListChangedListener(fn ComponentListListener) {
	d.componentListListeners = append(d.componentListListeners, fn)
}

func (d *Debugger) notifyTrackCursor(reverse bool) {
	for _, fn := range d.trackCursorListeners {
		fn(reverse)
	}
}

func (d *Debugger) notifyComponentListChanged() {
	for _, fn := range d.componentListListeners {
		fn()
	}
}

// === Цель отладки ===

// SetTargetActor делает объект целью отладки и строит его дерево на текущий
// момент трассы. Возвращает false, если объект неизвестен бэкенду.
func (d *Debugger) SetTargetActor(objectID uint64) bool {
	scope := d.beginRead()
	defer scope.End()

	op, ok := analysis.GetProvider[analysis.ObjectProvider](d.session, analysis.ObjectProviderName)
	if !ok {
		return false
	}
	info, ok := op.GetObjectInfo(objectID)
	if !ok {
		return false
	}

	d.tracker.SetTarget(info.ID, info.Name)
	d.tracker.Refresh(op, d.traceTime)
	d.log.Info("🎯 Цель отладки: %s (%d)", info.Name, info.ID)
	d.notifyComponentListChanged()
	return true
}

// ClearTarget снимает цель отладки
func (d *Debugger) ClearTarget() {
	if _, ok := d.tracker.Target(); !ok {
		return
	}
	d.tracker.ClearTarget()
	d.notifyComponentListChanged()
}

// SetSelectedComponent выбирает компонент дерева цели
func (d *Debugger) SetSelectedComponent(objectID uint64) bool {
	return d.tracker.Select(objectID)
}

// ClearSelectedComponent снимает выбор компонента
func (d *Debugger) ClearSelectedComponent() bool {
	had := d.tracker.Selected() != nil
	d.tracker.ClearSelection()
	return had
}

// refreshHierarchy вызывается внутри тика под ReadScope
func (d *Debugger) refreshHierarchy() {
	op, ok := analysis.GetProvider[analysis.ObjectProvider](d.session, analysis.ObjectProviderName)
	if !ok {
		return
	}
	if d.tracker.Refresh(op, d.traceTime) {
		d.notifyComponentListChanged()
	}
}

// === Доступ к трассе ===

type noopScope struct{}

func (noopScope) End() {}

func (d *Debugger) beginRead() analysis.ReadScope {
	if d.session == nil {
		return noopScope{}
	}
	return d.session.BeginRead()
}

// currentTimeline таймлайн текущей записи; вызывается под ReadScope
func (d *Debugger) currentTimeline() (timeline.Store, bool) {
	rp, ok := analysis.GetProvider[analysis.RecordingProvider](d.session, analysis.RecordingProviderName)
	if !ok {
		return nil, false
	}
	return rp.RecordingTimeline(d.recordingIndex)
}

// EventCount число событий текущей записи, 0 без бэкенда
func (d *Debugger) EventCount() int {
	scope := d.beginRead()
	defer scope.End()

	store, ok := d.currentTimeline()
	if !ok {
		return 0
	}
	return store.EventCount()
}
