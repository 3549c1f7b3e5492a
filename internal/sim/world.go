// Package sim содержит симулированный живой мир: хост для отладчика и
// продюсер трассы, который пишет события, объекты и позы в сессию анализа.
package sim

import (
	"fmt"
	"sync"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/host"
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/timeline"
	"github.com/annel0/rewind/internal/vec"
	"github.com/aquilax/go-perlin"
)

// Каналы захвата, которые понимает симуляция
const (
	ChannelObject     = "Object"
	ChannelFrame      = "Frame"
	ChannelAnimation  = "Animation"
	ChannelPoseSearch = "PoseSearch"
)

// Имена компонентов актора
const (
	CapsuleComponentName = "CapsuleComponent"
	MeshComponentName    = "SkeletalMeshComponent"
)

// Config параметры симуляции
type Config struct {
	Seed       int64
	Actors     int
	ChurnEvery float64 // период смены id скелетного компонента, 0 без смены
	BoneCount  int
	StepDelta  float64 // длительность одиночного шага на паузе
}

type actor struct {
	id           uint64
	name         string
	capsuleID    uint64
	meshID       uint64
	controllerID uint64
	phase        float64
}

// World симулированный мир. Реализует host.Host, host.Channels, host.Scene и host.Notifier.
type World struct {
	mu      sync.Mutex
	session *analysis.MemorySession
	cfg     Config
	noise   *perlin.Perlin
	log     *logging.Logger

	nextID         uint64
	profileTime    float64 // абсолютное время трассы
	elapsed        float64 // время с последнего ResetWorldElapsedTime
	recordingIndex int
	frameIndex     uint64
	sinceChurn     float64

	started    bool
	simulating bool
	channels   map[string]bool
	actors     []*actor
	transforms map[uint64]vec.Transform

	listeners []host.Listener
}

// NewWorld создаёт мир, пишущий трассу в session
func NewWorld(session *analysis.MemorySession, cfg Config) *World {
	if cfg.Actors <= 0 {
		cfg.Actors = 1
	}
	if cfg.BoneCount <= 0 {
		cfg.BoneCount = 3
	}
	if cfg.StepDelta <= 0 {
		cfg.StepDelta = 1.0 / 60.0
	}
	return &World{
		session:    session,
		cfg:        cfg,
		noise:      perlin.NewPerlin(2.0, 2.0, 3, cfg.Seed),
		log:        logging.GetSimLogger(),
		nextID:     1000,
		channels:   make(map[string]bool),
		transforms: make(map[uint64]vec.Transform),
	}
}

// === host.Host ===

func (w *World) IsSimulating() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.simulating
}

func (w *World) WorldElapsedTime() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.elapsed
}

func (w *World) ResetWorldElapsedTime() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.elapsed = 0
}

func (w *World) SetWorldRecordingIndex(index int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordingIndex = index
}

// === host.Channels ===

func (w *World) SetChannelEnabled(name string, enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.channels[name] = enabled
}

// ChannelEnabled проверяет состояние канала
func (w *World) ChannelEnabled(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.channels[name]
}

// === host.Scene ===

func (w *World) ObjectTransform(objectID uint64) (vec.Transform, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.transforms[objectID]
	return t, ok
}

func (w *World) SetObjectTransform(objectID uint64, t vec.Transform) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.transforms[objectID]; !ok {
		return false
	}
	w.transforms[objectID] = t
	return true
}

// === host.Notifier ===

func (w *World) AddListener(l host.Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

func (w *World) RemoveListener(l host.Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, existing := range w.listeners {
		if existing == l {
			w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
			return
		}
	}
}

// notify вызывается без удерживаемой блокировки: слушатели обращаются к миру
func (w *World) notify(fn func(l host.Listener)) {
	w.mu.Lock()
	listeners := append([]host.Listener(nil), w.listeners...)
	w.mu.Unlock()

	for _, l := range listeners {
		fn(l)
	}
}

// === Жизненный цикл ===

var _ host.Control = (*World)(nil)

// IsStarted симуляция запущена (в том числе на паузе)
func (w *World) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Start запускает симуляцию и создаёт акторов
func (w *World) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.simulating = true
	w.elapsed = 0
	w.sinceChurn = 0
	w.spawnActorsLocked()
	w.mu.Unlock()

	w.log.Info("▶️ Симуляция запущена: %d акторов", w.cfg.Actors)
	w.notify(func(l host.Listener) { l.OnSimStarted() })
}

// Pause ставит симуляцию на паузу
func (w *World) Pause() {
	w.mu.Lock()
	if !w.simulating {
		w.mu.Unlock()
		return
	}
	w.simulating = false
	w.mu.Unlock()

	w.log.Info("⏸️ Симуляция на паузе")
	w.notify(func(l host.Listener) { l.OnSimPaused() })
}

// Resume продолжает симуляцию после паузы
func (w *World) Resume() {
	w.mu.Lock()
	if !w.started || w.simulating {
		w.mu.Unlock()
		return
	}
	w.simulating = true
	w.mu.Unlock()

	w.log.Info("▶️ Симуляция продолжена")
	w.notify(func(l host.Listener) { l.OnSimResumed() })
}

// SingleStep продвигает мир на один кадр, оставаясь на паузе
func (w *World) SingleStep() {
	w.mu.Lock()
	if !w.started || w.simulating {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.notify(func(l host.Listener) { l.OnSimSingleStepped() })

	w.mu.Lock()
	w.advanceLocked(w.cfg.StepDelta)
	w.mu.Unlock()
}

// Stop завершает симуляцию. Объекты в трассе закрываются текущим временем.
func (w *World) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.simulating = false
	for _, a := range w.actors {
		for _, id := range []uint64{a.id, a.capsuleID, a.meshID, a.controllerID} {
			w.session.EndObject(id, w.profileTime)
		}
		w.session.Unpossess(a.id, w.profileTime)
	}
	w.actors = nil
	w.transforms = make(map[uint64]vec.Transform)
	w.mu.Unlock()

	w.log.Info("⏹️ Симуляция остановлена")
	w.notify(func(l host.Listener) { l.OnSimStopped() })
}

// Step продвигает симуляцию на dt секунд, если она запущена и не на паузе
func (w *World) Step(dt float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.simulating || dt <= 0 {
		return
	}
	w.advanceLocked(dt)
}

// Actors возвращает id акторов в порядке создания
func (w *World) Actors() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]uint64, len(w.actors))
	for i, a := range w.actors {
		ids[i] = a.id
	}
	return ids
}

// MeshComponent возвращает текущий id скелетного компонента актора
func (w *World) MeshComponent(actorID uint64) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, a := range w.actors {
		if a.id == actorID {
			return a.meshID, true
		}
	}
	return 0, false
}

// ProfileTime текущее время трассы
func (w *World) ProfileTime() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profileTime
}

func (w *World) newIDLocked() uint64 {
	w.nextID++
	return w.nextID
}

func (w *World) spawnActorsLocked() {
	for i := 0; i < w.cfg.Actors; i++ {
		name := "Hero"
		controllerName := "PlayerController"
		if i > 0 {
			name = fmt.Sprintf("NPC_%d", i)
			controllerName = fmt.Sprintf("AIController_%d", i)
		}

		a := &actor{
			id:    w.newIDLocked(),
			name:  name,
			phase: float64(i) * 17.3,
		}
		a.capsuleID = w.newIDLocked()
		a.meshID = w.newIDLocked()
		a.controllerID = w.newIDLocked()

		w.session.AddObject(analysis.ObjectInfo{ID: a.id, Name: name, ClassName: "Character"}, w.profileTime)
		w.session.AddObject(analysis.ObjectInfo{ID: a.capsuleID, OuterID: a.id, Name: CapsuleComponentName, ClassName: "CapsuleComponent"}, w.profileTime)
		w.session.AddObject(analysis.ObjectInfo{ID: a.meshID, OuterID: a.id, Name: MeshComponentName, ClassName: "SkeletalMeshComponent"}, w.profileTime)
		w.session.AddObject(analysis.ObjectInfo{ID: a.controllerID, Name: controllerName, ClassName: "Controller"}, w.profileTime)
		w.session.Possess(a.id, a.controllerID, w.profileTime)

		w.transforms[a.id] = vec.Identity()
		w.transforms[a.meshID] = vec.Identity()
		w.actors = append(w.actors, a)
	}
}

// advanceLocked один кадр симуляции и захват трассы по включённым каналам
func (w *World) advanceLocked(dt float64) {
	frameStart := w.profileTime
	w.profileTime += dt
	w.elapsed += dt
	w.frameIndex++

	for _, a := range w.actors {
		t := w.motion(a, w.profileTime)
		w.transforms[a.id] = t
		w.transforms[a.meshID] = t
	}

	if w.cfg.ChurnEvery > 0 {
		w.sinceChurn += dt
		if w.sinceChurn >= w.cfg.ChurnEvery {
			w.sinceChurn = 0
			w.churnMeshIDsLocked()
		}
	}

	if w.channels[ChannelFrame] {
		frame := analysis.Frame{Index: w.frameIndex, StartTime: frameStart, EndTime: w.profileTime}
		if err := w.session.AddFrame(analysis.FrameGame, frame); err != nil {
			w.log.Warn("Кадр %d не записан: %v", w.frameIndex, err)
		}
	}
	if w.channels[ChannelObject] && w.recordingIndex > 0 {
		ev := timeline.Event{ElapsedTime: w.elapsed, ProfileTime: w.profileTime}
		if err := w.session.AddRecordingEvent(w.recordingIndex, ev); err != nil {
			w.log.Warn("Событие записи %d не добавлено: %v", w.recordingIndex, err)
		}
	}
	if w.channels[ChannelAnimation] {
		for _, a := range w.actors {
			w.session.AddPose(a.meshID, analysis.PoseEvent{
				ProfileTime:      w.profileTime,
				ComponentToWorld: w.transforms[a.meshID],
				Bones:            w.bones(a, w.profileTime),
			})
		}
	}
	if w.channels[ChannelPoseSearch] && w.frameIndex%6 == 0 {
		for _, a := range w.actors {
			w.session.AddDecision(a.meshID, w.decision(a, w.profileTime))
		}
	}
}

// churnMeshIDsLocked переназначает id скелетных компонентов, как это делает реальный бэкенд
func (w *World) churnMeshIDsLocked() {
	for _, a := range w.actors {
		oldID := a.meshID
		a.meshID = w.newIDLocked()
		w.session.EndObject(oldID, w.profileTime)
		w.session.AddObject(analysis.ObjectInfo{ID: a.meshID, OuterID: a.id, Name: MeshComponentName, ClassName: "SkeletalMeshComponent"}, w.profileTime)
		w.transforms[a.meshID] = w.transforms[oldID]
		delete(w.transforms, oldID)
		w.log.Debug("Компонент %s/%s: id %d -> %d", a.name, MeshComponentName, oldID, a.meshID)
	}
}

func (w *World) motion(a *actor, t float64) vec.Transform {
	return vec.Transform{
		Location: vec.Vec3{
			X: 500 * w.noise.Noise1D(t*0.25+a.phase),
			Y: 500 * w.noise.Noise1D(t*0.25+a.phase+100),
		},
		Rotation: vec.Vec3{Z: 180 * w.noise.Noise1D(t*0.1+a.phase+200)},
		Scale:    vec.One,
	}
}

func (w *World) bones(a *actor, t float64) []vec.Transform {
	bones := make([]vec.Transform, w.cfg.BoneCount)
	for i := range bones {
		offset := float64(i) * 3.7
		bones[i] = vec.Transform{
			Location: vec.Vec3{Z: float64(i) * 20},
			Rotation: vec.Vec3{
				X: 30 * w.noise.Noise2D(t, a.phase+offset),
				Y: 30 * w.noise.Noise2D(t+offset, a.phase),
			},
			Scale: vec.One,
		}
	}
	return bones
}

func (w *World) decision(a *actor, t float64) analysis.MotionMatchDecision {
	n := (w.noise.Noise1D(t*0.5+a.phase) + 1) / 2
	return analysis.MotionMatchDecision{
		ProfileTime: t,
		Database:    "Locomotion",
		PoseIndex:   int(n * 240),
		Cost:        n,
		Continuing:  w.frameIndex%12 != 0,
	}
}
