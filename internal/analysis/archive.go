package analysis

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/annel0/rewind/internal/timeline"
)

// ErrRecordingNotFound запись с указанным индексом отсутствует в сессии
var ErrRecordingNotFound = errors.New("analysis: recording not found")

// ArchivedObject объект с временем жизни
type ArchivedObject struct {
	Info     ObjectInfo `json:"info"`
	Lifetime TimeRange  `json:"lifetime"`
}

// ArchivedPossession интервал управления пешкой
type ArchivedPossession struct {
	PawnID       uint64    `json:"pawn_id"`
	ControllerID uint64    `json:"controller_id"`
	Span         TimeRange `json:"span"`
}

// RecordingArchive самодостаточный снимок одной записи и связанных с ней данных трассы
type RecordingArchive struct {
	RecordingIndex int                              `json:"recording_index"`
	SessionID      string                           `json:"session_id,omitempty"`
	CreatedAt      time.Time                        `json:"created_at"`
	Duration       float64                          `json:"duration"`
	Events         []timeline.Event                 `json:"events"`
	Objects        []ArchivedObject                 `json:"objects"`
	Possessions    []ArchivedPossession             `json:"possessions,omitempty"`
	GameFrames     []Frame                          `json:"game_frames"`
	Poses          map[uint64][]PoseEvent           `json:"poses,omitempty"`
	Decisions      map[uint64][]MotionMatchDecision `json:"decisions,omitempty"`
}

// Export собирает архив записи. В архив попадают данные трассы,
// пересекающиеся с окном profile time записи.
func (s *MemorySession) Export(recordingIndex int, sessionID string) (*RecordingArchive, error) {
	scope := s.BeginRead()
	defer scope.End()

	rec, ok := s.recordings[recordingIndex]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRecordingNotFound, recordingIndex)
	}

	events := rec.Events()
	archive := &RecordingArchive{
		RecordingIndex: recordingIndex,
		SessionID:      sessionID,
		CreatedAt:      time.Now().UTC(),
		Duration:       rec.Duration(),
		Events:         events,
		Poses:          make(map[uint64][]PoseEvent),
		Decisions:      make(map[uint64][]MotionMatchDecision),
	}
	if len(events) == 0 {
		return archive, nil
	}

	start, end := events[0].ProfileTime, events[len(events)-1].ProfileTime
	for _, id := range s.objectOrder {
		obj := s.objects[id]
		if obj.lifetime.Overlaps(start, end) {
			archive.Objects = append(archive.Objects, ArchivedObject{Info: obj.info, Lifetime: obj.lifetime})
		}
	}
	for _, p := range s.possessions {
		if p.span.Overlaps(start, end) {
			archive.Possessions = append(archive.Possessions, ArchivedPossession{PawnID: p.pawnID, ControllerID: p.controllerID, Span: p.span})
		}
	}
	for _, f := range s.frames[FrameGame] {
		if f.EndTime >= start && f.StartTime <= end {
			archive.GameFrames = append(archive.GameFrames, f)
		}
	}
	for id, tl := range s.poses {
		tl.EnumerateEvents(start, end, func(ev PoseEvent) {
			archive.Poses[id] = append(archive.Poses[id], ev)
		})
	}
	for id, tl := range s.decisions {
		tl.EnumerateEvents(start, end, func(d MotionMatchDecision) {
			archive.Decisions[id] = append(archive.Decisions[id], d)
		})
	}
	return archive, nil
}

// Import загружает архив в сессию. Существующая запись с тем же индексом заменяется,
// уже известные объекты не перезаписываются. Повторная загрузка того же архива
// не дублирует кадры, позы, решения и интервалы управления.
func (s *MemorySession) Import(archive *RecordingArchive) error {
	rec, err := timeline.NewRecordingFromEvents(archive.RecordingIndex, archive.Events)
	if err != nil {
		return fmt.Errorf("архив записи %d повреждён: %w", archive.RecordingIndex, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordings[archive.RecordingIndex] = rec
	for _, obj := range archive.Objects {
		if _, exists := s.objects[obj.Info.ID]; exists {
			continue
		}
		s.addObjectLocked(obj.Info, obj.Lifetime)
	}
	for _, p := range archive.Possessions {
		imported := possession{pawnID: p.PawnID, controllerID: p.ControllerID, span: p.Span}
		if !slices.Contains(s.possessions, imported) {
			s.possessions = append(s.possessions, imported)
		}
	}
	s.frames[FrameGame] = mergeSorted(s.frames[FrameGame], archive.GameFrames, func(f Frame) float64 { return f.StartTime })
	for id, poses := range archive.Poses {
		tl, ok := s.poses[id]
		if !ok {
			tl = &poseTimeline{}
			s.poses[id] = tl
		}
		tl.events = mergeSorted(tl.events, poses, func(e PoseEvent) float64 { return e.ProfileTime })
	}
	for id, decisions := range archive.Decisions {
		tl, ok := s.decisions[id]
		if !ok {
			tl = &decisionTimeline{}
			s.decisions[id] = tl
		}
		tl.events = mergeSorted(tl.events, decisions, func(e MotionMatchDecision) float64 { return e.ProfileTime })
	}
	return nil
}

// mergeSorted добавляет элементы, ключ которых ещё не встречался в items
func mergeSorted[T any](items, incoming []T, key func(T) float64) []T {
	known := make(map[float64]struct{}, len(items))
	for _, it := range items {
		known[key(it)] = struct{}{}
	}
	for _, it := range incoming {
		if _, ok := known[key(it)]; ok {
			continue
		}
		items = insertSorted(items, it, key)
	}
	return items
}
