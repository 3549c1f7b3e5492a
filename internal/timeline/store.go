// Package timeline содержит упорядоченное хранилище записанных событий
// и поиск ближайшего кадра по времени воспроизведения.
package timeline

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrIndexOutOfRange возвращается при прямом обращении к событию вне [0, EventCount())
	ErrIndexOutOfRange = errors.New("timeline: index out of range")
	// ErrOutOfOrder возвращается при попытке добавить событие раньше последнего
	ErrOutOfOrder = errors.New("timeline: event elapsed time goes backwards")
)

// Event одно записанное событие. После добавления не изменяется.
type Event struct {
	ElapsedTime float64 `json:"elapsed_time"` // секунды от начала записи
	ProfileTime float64 `json:"profile_time"` // ключ корреляции с трассой
}

// Store read-only представление событий одной записи.
// События упорядочены по неубыванию ElapsedTime.
type Store interface {
	EventCount() int
	Event(index int) (Event, error)
}

// Recording хранилище событий одной записи. Добавлять события может
// только продюсер захвата; потребители видят его через Store.
type Recording struct {
	mu     sync.RWMutex
	index  int
	events []Event
}

// NewRecording создаёт пустую запись с указанным индексом
func NewRecording(recordingIndex int) *Recording {
	return &Recording{index: recordingIndex}
}

// NewRecordingFromEvents создаёт запись из готового списка событий
func NewRecordingFromEvents(recordingIndex int, events []Event) (*Recording, error) {
	r := NewRecording(recordingIndex)
	for _, ev := range events {
		if err := r.Append(ev); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Index возвращает индекс записи
func (r *Recording) Index() int {
	return r.index
}

// Append добавляет событие в конец записи
func (r *Recording) Append(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.events); n > 0 && ev.ElapsedTime < r.events[n-1].ElapsedTime {
		return fmt.Errorf("%w: %.6f < %.6f", ErrOutOfOrder, ev.ElapsedTime, r.events[n-1].ElapsedTime)
	}
	r.events = append(r.events, ev)
	return nil
}

// EventCount возвращает количество событий; 0 если ничего не записано
func (r *Recording) EventCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Event возвращает событие по индексу
func (r *Recording) Event(index int) (Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.events) {
		return Event{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(r.events))
	}
	return r.events[index], nil
}

// Events возвращает копию всех событий
func (r *Recording) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Duration возвращает ElapsedTime последнего события
func (r *Recording) Duration() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.events) == 0 {
		return 0
	}
	return r.events[len(r.events)-1].ElapsedTime
}
