package rewind

import (
	"github.com/annel0/rewind/internal/host"
	"github.com/annel0/rewind/internal/vec"
)

// PoseResetLog журнал исходных трансформов объектов, которые воспроизведение
// временно перезаписало. Запоминается только первое значение для каждого объекта.
type PoseResetLog struct {
	originals map[uint64]vec.Transform
	order     []uint64
}

// NewPoseResetLog создаёт пустой журнал
func NewPoseResetLog() *PoseResetLog {
	return &PoseResetLog{originals: make(map[uint64]vec.Transform)}
}

// Remember сохраняет исходный трансформ, если объект ещё не записан
func (l *PoseResetLog) Remember(objectID uint64, original vec.Transform) {
	if _, ok := l.originals[objectID]; ok {
		return
	}
	l.originals[objectID] = original
	l.order = append(l.order, objectID)
}

// Has проверяет, перезаписан ли объект
func (l *PoseResetLog) Has(objectID uint64) bool {
	_, ok := l.originals[objectID]
	return ok
}

// Len количество перезаписанных объектов
func (l *PoseResetLog) Len() int {
	return len(l.originals)
}

// Restore возвращает исходные трансформы в сцену и очищает журнал.
// Возвращает число восстановленных объектов.
func (l *PoseResetLog) Restore(scene host.Scene) int {
	restored := 0
	if scene != nil {
		for _, id := range l.order {
			if scene.SetObjectTransform(id, l.originals[id]) {
				restored++
			}
		}
	}
	l.Clear()
	return restored
}

// Clear очищает журнал без восстановления
func (l *PoseResetLog) Clear() {
	l.originals = make(map[uint64]vec.Transform)
	l.order = l.order[:0]
}
