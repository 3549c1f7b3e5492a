// Package hierarchy хранит дерево объектов цели отладки (актор, его компоненты
// и контроллер) и синхронизирует его с трассой на заданный момент времени.
package hierarchy

import (
	"github.com/annel0/rewind/internal/analysis"
)

// Node узел дерева отладки. Узлы переживают обновления, пока имя совпадает,
// поэтому Expanded и внешние ссылки на выбранный узел сохраняются.
type Node struct {
	ObjectID      uint64             `json:"object_id"`
	ObjectName    string             `json:"object_name"`
	Expanded      bool               `json:"expanded"`
	AddController bool               `json:"add_controller,omitempty"`
	Lifetime      analysis.TimeRange `json:"lifetime"`
	Children      []*Node            `json:"children,omitempty"`
}

// Refresh синхронизирует nodes с объектами, чей владелец parentID, на момент t.
// Существующий узел переиспользуется по имени (последнее совпадение), у него
// обновляется только id. Новые объекты добавляются, не найденные узлы удаляются.
// При addController в тот же список сливается контроллер, управляющий parentID.
// Возвращает true, если структура дерева изменилась.
//
// Сопоставление по имени обходит смену id у скелетных компонентов, но два
// объекта с одинаковым именем у одного владельца будут склеены в один узел.
func Refresh(nodes *[]*Node, parentID uint64, addController bool, op analysis.ObjectProvider, t float64) bool {
	if op == nil {
		return false
	}

	found := make([]bool, len(*nodes))
	changed := false

	merge := func(info analysis.ObjectInfo) {
		idx := findLastByName(*nodes, info.Name)
		if idx >= 0 {
			node := (*nodes)[idx]
			node.ObjectID = info.ID
			if lifetime, ok := op.GetObjectRecordingLifetime(info.ID); ok {
				node.Lifetime = lifetime
			}
			found[idx] = true
			if Refresh(&node.Children, info.ID, false, op, t) {
				changed = true
			}
			return
		}

		node := &Node{ObjectID: info.ID, ObjectName: info.Name}
		if lifetime, ok := op.GetObjectRecordingLifetime(info.ID); ok {
			node.Lifetime = lifetime
		}
		Refresh(&node.Children, info.ID, false, op, t)
		*nodes = append(*nodes, node)
		found = append(found, true)
		changed = true
	}

	op.EnumerateObjects(t, t, func(info analysis.ObjectInfo) {
		if info.OuterID == parentID {
			merge(info)
		}
	})
	if addController {
		if ctrl, ok := op.FindPossessingController(parentID, t); ok {
			merge(ctrl)
		}
	}

	for i := len(found) - 1; i >= 0; i-- {
		if !found[i] {
			*nodes = append((*nodes)[:i], (*nodes)[i+1:]...)
			changed = true
		}
	}
	return changed
}

func findLastByName(nodes []*Node, name string) int {
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].ObjectName == name {
			return i
		}
	}
	return -1
}

// Walk обходит дерево в глубину. parent == nil для корневых узлов.
func Walk(nodes []*Node, fn func(node, parent *Node)) {
	var walk func(list []*Node, parent *Node)
	walk = func(list []*Node, parent *Node) {
		for _, n := range list {
			fn(n, parent)
			walk(n.Children, n)
		}
	}
	walk(nodes, nil)
}

// Find ищет узел по id
func Find(nodes []*Node, objectID uint64) *Node {
	var result *Node
	Walk(nodes, func(n, _ *Node) {
		if result == nil && n.ObjectID == objectID {
			result = n
		}
	})
	return result
}

// contains проверяет, что узел (по указателю) присутствует в дереве
func contains(nodes []*Node, target *Node) bool {
	present := false
	Walk(nodes, func(n, _ *Node) {
		if n == target {
			present = true
		}
	})
	return present
}
