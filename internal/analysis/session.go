// Package analysis описывает контракт бэкенда анализа трассы, из которого
// отладчик читает записанные данные, и его in-memory реализацию.
package analysis

import (
	"encoding/json"
	"math"

	"github.com/annel0/rewind/internal/timeline"
	"github.com/annel0/rewind/internal/vec"
)

// Имена провайдеров сессии
const (
	RecordingProviderName  = "RecordingProvider"
	ObjectProviderName     = "ObjectProvider"
	FrameProviderName      = "FrameProvider"
	PoseProviderName       = "PoseProvider"
	PoseSearchProviderName = "PoseSearchProvider"
)

// ReadScope удерживает блокировку чтения сессии. End можно вызывать повторно.
type ReadScope interface {
	End()
}

// Provider типизированный источник данных сессии
type Provider interface {
	ProviderName() string
}

// Session сессия анализа. Все методы чтения провайдеров вызываются
// внутри BeginRead/End.
type Session interface {
	BeginRead() ReadScope
	// ReadProvider возвращает nil, если провайдер недоступен
	ReadProvider(name string) Provider
}

// GetProvider достаёт провайдер нужного типа. ok == false при отсутствии сессии или провайдера.
func GetProvider[T Provider](s Session, name string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	p := s.ReadProvider(name)
	if p == nil {
		return zero, false
	}
	typed, ok := p.(T)
	return typed, ok
}

// TimeRange интервал времени трассы. Для живых объектов End = +Inf.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Open возвращает интервал без конца
func Open(start float64) TimeRange {
	return TimeRange{Start: start, End: math.Inf(1)}
}

// Overlaps проверяет пересечение с окном [start, end]
func (r TimeRange) Overlaps(start, end float64) bool {
	return r.Start <= end && start <= r.End
}

// Contains проверяет, что t внутри интервала
func (r TimeRange) Contains(t float64) bool {
	return r.Overlaps(t, t)
}

// IsOpen объект ещё жив
func (r TimeRange) IsOpen() bool {
	return math.IsInf(r.End, 1)
}

// ObjectInfo описание объекта трассы (актор, компонент, контроллер)
type ObjectInfo struct {
	ID        uint64 `json:"id"`
	OuterID   uint64 `json:"outer_id"`
	Name      string `json:"name"`
	ClassName string `json:"class_name"`
}

// FrameType тип кадра трассы
type FrameType int

const (
	FrameGame FrameType = iota
	FrameRendering
)

// Frame кадр трассы
type Frame struct {
	Index     uint64  `json:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// PoseEvent поза скелетного компонента в момент трассы
type PoseEvent struct {
	ProfileTime      float64         `json:"profile_time"`
	ComponentToWorld vec.Transform   `json:"component_to_world"`
	Bones            []vec.Transform `json:"bones,omitempty"`
}

// MotionMatchDecision решение motion matching в момент трассы
type MotionMatchDecision struct {
	ProfileTime float64 `json:"profile_time"`
	Database    string  `json:"database"`
	PoseIndex   int     `json:"pose_index"`
	Cost        float64 `json:"cost"`
	Continuing  bool    `json:"continuing"`
}

// RecordingProvider даёт доступ к таймлайнам записей по индексу
type RecordingProvider interface {
	Provider
	RecordingTimeline(recordingIndex int) (timeline.Store, bool)
}

// ObjectProvider даёт доступ к объектам трассы
type ObjectProvider interface {
	Provider
	EnumerateObjects(start, end float64, fn func(ObjectInfo))
	GetObjectInfo(id uint64) (ObjectInfo, bool)
	GetObjectRecordingLifetime(id uint64) (TimeRange, bool)
	FindPossessingController(pawnID uint64, t float64) (ObjectInfo, bool)
}

// FrameProvider ищет кадры по времени трассы
type FrameProvider interface {
	Provider
	GetFrameFromTime(frameType FrameType, t float64) (Frame, bool)
}

// PoseTimeline таймлайн поз одного компонента
type PoseTimeline interface {
	EnumerateEvents(start, end float64, fn func(PoseEvent))
}

// PoseProvider даёт таймлайны поз
type PoseProvider interface {
	Provider
	PoseTimeline(objectID uint64) (PoseTimeline, bool)
}

// DecisionTimeline таймлайн решений motion matching одного объекта
type DecisionTimeline interface {
	EnumerateEvents(start, end float64, fn func(MotionMatchDecision))
}

// PoseSearchProvider даёт таймлайны решений motion matching
type PoseSearchProvider interface {
	Provider
	DecisionTimeline(objectID uint64) (DecisionTimeline, bool)
}

type timeRangeJSON struct {
	Start float64  `json:"start"`
	End   *float64 `json:"end"`
}

// MarshalJSON кодирует открытый конец как null
func (r TimeRange) MarshalJSON() ([]byte, error) {
	out := timeRangeJSON{Start: r.Start}
	if !r.IsOpen() {
		end := r.End
		out.End = &end
	}
	return json.Marshal(out)
}

// UnmarshalJSON декодирует null в открытый конец
func (r *TimeRange) UnmarshalJSON(data []byte) error {
	var in timeRangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Start = in.Start
	r.End = math.Inf(1)
	if in.End != nil {
		r.End = *in.End
	}
	return nil
}
