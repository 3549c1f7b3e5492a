package hierarchy

import (
	"github.com/annel0/rewind/internal/analysis"
)

// Tracker цель отладки и выбранный компонент
type Tracker struct {
	components []*Node
	selected   *Node
}

// NewTracker создаёт трекер без цели
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetTarget делает объект корнем дерева. Дерево и выбор сбрасываются.
func (t *Tracker) SetTarget(objectID uint64, name string) {
	t.components = []*Node{{
		ObjectID:      objectID,
		ObjectName:    name,
		Expanded:      true,
		AddController: true,
	}}
	t.selected = nil
}

// ClearTarget убирает цель
func (t *Tracker) ClearTarget() {
	t.components = nil
	t.selected = nil
}

// Target возвращает id цели
func (t *Tracker) Target() (uint64, bool) {
	if len(t.components) == 0 {
		return 0, false
	}
	return t.components[0].ObjectID, true
}

// Components корневой список дерева (цель и её потомки)
func (t *Tracker) Components() []*Node {
	return t.components
}

// Refresh обновляет дерево цели на момент time. Выбор сбрасывается,
// если выбранный узел исчез из дерева.
func (t *Tracker) Refresh(op analysis.ObjectProvider, time float64) bool {
	if len(t.components) == 0 || op == nil {
		return false
	}

	root := t.components[0]
	if lifetime, ok := op.GetObjectRecordingLifetime(root.ObjectID); ok {
		root.Lifetime = lifetime
	}
	changed := Refresh(&root.Children, root.ObjectID, root.AddController, op, time)

	if changed && t.selected != nil && !contains(t.components, t.selected) {
		t.selected = nil
	}
	return changed
}

// Select выбирает узел по id. Возвращает false, если узла нет в дереве.
func (t *Tracker) Select(objectID uint64) bool {
	node := Find(t.components, objectID)
	if node == nil {
		return false
	}
	t.selected = node
	return true
}

// ClearSelection снимает выбор
func (t *Tracker) ClearSelection() {
	t.selected = nil
}

// Selected выбранный узел или nil
func (t *Tracker) Selected() *Node {
	return t.selected
}
