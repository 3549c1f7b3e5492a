package analysis

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/rewind/internal/timeline"
)

type objectRecord struct {
	info     ObjectInfo
	lifetime TimeRange
}

type possession struct {
	pawnID       uint64
	controllerID uint64
	span         TimeRange
}

// MemorySession in-memory бэкенд трассы. Продюсер пишет через методы Add*/End*,
// отладчик читает через провайдеры внутри BeginRead.
// Методы чтения провайдеров сами не блокируют: блокировку держит ReadScope.
type MemorySession struct {
	mu sync.RWMutex

	scopeMu sync.Mutex
	readers int

	recordings  map[int]*timeline.Recording
	objects     map[uint64]*objectRecord
	objectOrder []uint64
	possessions []possession
	frames      map[FrameType][]Frame
	poses       map[uint64]*poseTimeline
	decisions   map[uint64]*decisionTimeline

	disabled map[string]bool
}

// NewMemorySession создаёт пустую сессию
func NewMemorySession() *MemorySession {
	return &MemorySession{
		recordings: make(map[int]*timeline.Recording),
		objects:    make(map[uint64]*objectRecord),
		frames:     make(map[FrameType][]Frame),
		poses:      make(map[uint64]*poseTimeline),
		decisions:  make(map[uint64]*decisionTimeline),
		disabled:   make(map[string]bool),
	}
}

type memoryScope struct {
	s    *MemorySession
	once sync.Once
}

// BeginRead захватывает блокировку чтения. Вложенные вызовы не блокируют повторно.
func (s *MemorySession) BeginRead() ReadScope {
	s.scopeMu.Lock()
	if s.readers == 0 {
		s.mu.RLock()
	}
	s.readers++
	s.scopeMu.Unlock()
	return &memoryScope{s: s}
}

func (sc *memoryScope) End() {
	sc.once.Do(func() {
		sc.s.scopeMu.Lock()
		sc.s.readers--
		if sc.s.readers == 0 {
			sc.s.mu.RUnlock()
		}
		sc.s.scopeMu.Unlock()
	})
}

// ReadProvider возвращает сессию как провайдер по имени
func (s *MemorySession) ReadProvider(name string) Provider {
	if s.disabled[name] {
		return nil
	}
	switch name {
	case RecordingProviderName:
		return recordingProvider{s}
	case ObjectProviderName:
		return objectProvider{s}
	case FrameProviderName:
		return frameProvider{s}
	case PoseProviderName:
		return poseProvider{s}
	case PoseSearchProviderName:
		return poseSearchProvider{s}
	}
	return nil
}

// SetProviderEnabled включает или выключает провайдер (имитация неполного бэкенда)
func (s *MemorySession) SetProviderEnabled(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[name] = !enabled
}

// === Запись ===

// AddRecordingEvent добавляет событие в запись recordingIndex, создавая её при необходимости
func (s *MemorySession) AddRecordingEvent(recordingIndex int, ev timeline.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[recordingIndex]
	if !ok {
		rec = timeline.NewRecording(recordingIndex)
		s.recordings[recordingIndex] = rec
	}
	return rec.Append(ev)
}

// AddObject регистрирует объект, живущий с момента start
func (s *MemorySession) AddObject(info ObjectInfo, start float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addObjectLocked(info, Open(start))
}

func (s *MemorySession) addObjectLocked(info ObjectInfo, lifetime TimeRange) {
	if _, exists := s.objects[info.ID]; !exists {
		s.objectOrder = append(s.objectOrder, info.ID)
	}
	s.objects[info.ID] = &objectRecord{info: info, lifetime: lifetime}
}

// EndObject закрывает время жизни объекта
func (s *MemorySession) EndObject(id uint64, end float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.objects[id]; ok && rec.lifetime.IsOpen() {
		rec.lifetime.End = end
	}
}

// Possess фиксирует, что контроллер управляет пешкой начиная с t
func (s *MemorySession) Possess(pawnID, controllerID uint64, t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.possessions {
		p := &s.possessions[i]
		if p.pawnID == pawnID && p.span.IsOpen() {
			p.span.End = t
		}
	}
	s.possessions = append(s.possessions, possession{pawnID: pawnID, controllerID: controllerID, span: Open(t)})
}

// Unpossess закрывает текущее управление пешкой
func (s *MemorySession) Unpossess(pawnID uint64, t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.possessions {
		p := &s.possessions[i]
		if p.pawnID == pawnID && p.span.IsOpen() {
			p.span.End = t
		}
	}
}

// AddFrame добавляет кадр. Кадры одного типа добавляются по возрастанию времени.
func (s *MemorySession) AddFrame(frameType FrameType, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := s.frames[frameType]
	if n := len(frames); n > 0 && frame.StartTime < frames[n-1].StartTime {
		return fmt.Errorf("кадр %d раньше предыдущего: %.6f < %.6f", frame.Index, frame.StartTime, frames[n-1].StartTime)
	}
	s.frames[frameType] = append(frames, frame)
	return nil
}

// AddPose добавляет позу компонента
func (s *MemorySession) AddPose(objectID uint64, ev PoseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.poses[objectID]
	if !ok {
		tl = &poseTimeline{}
		s.poses[objectID] = tl
	}
	tl.events = insertSorted(tl.events, ev, func(e PoseEvent) float64 { return e.ProfileTime })
}

// AddDecision добавляет решение motion matching
func (s *MemorySession) AddDecision(objectID uint64, d MotionMatchDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.decisions[objectID]
	if !ok {
		tl = &decisionTimeline{}
		s.decisions[objectID] = tl
	}
	tl.events = insertSorted(tl.events, d, func(e MotionMatchDecision) float64 { return e.ProfileTime })
}

// RecordingIndexes возвращает индексы всех записей по возрастанию
func (s *MemorySession) RecordingIndexes() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int, 0, len(s.recordings))
	for idx := range s.recordings {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// insertSorted вставляет элемент, сохраняя порядок по ключу (равные в конец)
func insertSorted[T any](items []T, item T, key func(T) float64) []T {
	k := key(item)
	if n := len(items); n == 0 || key(items[n-1]) <= k {
		return append(items, item)
	}
	pos := sort.Search(len(items), func(i int) bool { return key(items[i]) > k })
	items = append(items, item)
	copy(items[pos+1:], items[pos:])
	items[pos] = item
	return items
}

// === Провайдеры ===

type recordingProvider struct{ s *MemorySession }

func (recordingProvider) ProviderName() string { return RecordingProviderName }

func (p recordingProvider) RecordingTimeline(recordingIndex int) (timeline.Store, bool) {
	rec, ok := p.s.recordings[recordingIndex]
	if !ok {
		return nil, false
	}
	return rec, true
}

type objectProvider struct{ s *MemorySession }

func (objectProvider) ProviderName() string { return ObjectProviderName }

func (p objectProvider) EnumerateObjects(start, end float64, fn func(ObjectInfo)) {
	for _, id := range p.s.objectOrder {
		rec := p.s.objects[id]
		if rec.lifetime.Overlaps(start, end) {
			fn(rec.info)
		}
	}
}

func (p objectProvider) GetObjectInfo(id uint64) (ObjectInfo, bool) {
	rec, ok := p.s.objects[id]
	if !ok {
		return ObjectInfo{}, false
	}
	return rec.info, true
}

func (p objectProvider) GetObjectRecordingLifetime(id uint64) (TimeRange, bool) {
	rec, ok := p.s.objects[id]
	if !ok {
		return TimeRange{}, false
	}
	return rec.lifetime, true
}

func (p objectProvider) FindPossessingController(pawnID uint64, t float64) (ObjectInfo, bool) {
	for i := len(p.s.possessions) - 1; i >= 0; i-- {
		ps := p.s.possessions[i]
		if ps.pawnID != pawnID || !ps.span.Contains(t) {
			continue
		}
		if rec, ok := p.s.objects[ps.controllerID]; ok {
			return rec.info, true
		}
	}
	return ObjectInfo{}, false
}

type frameProvider struct{ s *MemorySession }

func (frameProvider) ProviderName() string { return FrameProviderName }

// GetFrameFromTime ищет последний кадр с StartTime <= t и проверяет, что t не позже его конца
func (p frameProvider) GetFrameFromTime(frameType FrameType, t float64) (Frame, bool) {
	frames := p.s.frames[frameType]
	pos := sort.Search(len(frames), func(i int) bool { return frames[i].StartTime > t })
	if pos == 0 {
		return Frame{}, false
	}
	frame := frames[pos-1]
	if t > frame.EndTime {
		return Frame{}, false
	}
	return frame, true
}

type poseProvider struct{ s *MemorySession }

func (poseProvider) ProviderName() string { return PoseProviderName }

func (p poseProvider) PoseTimeline(objectID uint64) (PoseTimeline, bool) {
	tl, ok := p.s.poses[objectID]
	if !ok {
		return nil, false
	}
	return tl, true
}

type poseSearchProvider struct{ s *MemorySession }

func (poseSearchProvider) ProviderName() string { return PoseSearchProviderName }

func (p poseSearchProvider) DecisionTimeline(objectID uint64) (DecisionTimeline, bool) {
	tl, ok := p.s.decisions[objectID]
	if !ok {
		return nil, false
	}
	return tl, true
}

type poseTimeline struct {
	events []PoseEvent
}

func (tl *poseTimeline) EnumerateEvents(start, end float64, fn func(PoseEvent)) {
	from := sort.Search(len(tl.events), func(i int) bool { return tl.events[i].ProfileTime >= start })
	for i := from; i < len(tl.events) && tl.events[i].ProfileTime <= end; i++ {
		fn(tl.events[i])
	}
}

type decisionTimeline struct {
	events []MotionMatchDecision
}

func (tl *decisionTimeline) EnumerateEvents(start, end float64, fn func(MotionMatchDecision)) {
	from := sort.Search(len(tl.events), func(i int) bool { return tl.events[i].ProfileTime >= start })
	for i := from; i < len(tl.events) && tl.events[i].ProfileTime <= end; i++ {
		fn(tl.events[i])
	}
}
