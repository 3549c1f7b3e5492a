// Package poses применяет записанные позы скелетных компонентов к живой сцене
// во время воспроизведения.
package poses

import (
	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/hierarchy"
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/rewind"
)

// Extension для каждого компонента цели берёт последнюю позу игрового кадра,
// содержащего текущее время трассы, и ставит её в сцену. Исходный трансформ
// сохраняется в журнале сброса поз отладчика до первой перезаписи.
type Extension struct {
	log     *logging.Logger
	applied uint64
}

// New создаёт расширение
func New() *Extension {
	return &Extension{log: logging.GetExtensionLogger()}
}

func (e *Extension) Name() string { return "poses" }

// Applied сколько раз поза была поставлена в сцену
func (e *Extension) Applied() uint64 { return e.applied }

func (e *Extension) RecordingStarted(rewind.Handle) {}
func (e *Extension) RecordingStopped(rewind.Handle) {}

// Update вызывается каждый тик отладчика
func (e *Extension) Update(_ float64, h rewind.Handle) error {
	if h.IsSimulating() {
		return nil
	}
	session := h.AnalysisSession()
	scene := h.Scene()
	if session == nil || scene == nil {
		return nil
	}

	scope := session.BeginRead()
	defer scope.End()

	fp, ok := analysis.GetProvider[analysis.FrameProvider](session, analysis.FrameProviderName)
	if !ok {
		return nil
	}
	pp, ok := analysis.GetProvider[analysis.PoseProvider](session, analysis.PoseProviderName)
	if !ok {
		return nil
	}
	op, _ := analysis.GetProvider[analysis.ObjectProvider](session, analysis.ObjectProviderName)

	t := h.CurrentTraceTime()
	frame, ok := fp.GetFrameFromTime(analysis.FrameGame, t)
	if !ok {
		return nil
	}

	hierarchy.Walk(h.DebugComponents(), func(node, parent *hierarchy.Node) {
		tl, ok := pp.PoseTimeline(recordedID(op, node, parent, t))
		if !ok {
			return
		}

		var pose analysis.PoseEvent
		found := false
		tl.EnumerateEvents(frame.StartTime, frame.EndTime, func(ev analysis.PoseEvent) {
			pose = ev
			found = true
		})
		if !found {
			return
		}

		current, ok := scene.ObjectTransform(node.ObjectID)
		if !ok {
			return
		}
		h.PoseResets().Remember(node.ObjectID, current)
		if scene.SetObjectTransform(node.ObjectID, pose.ComponentToWorld) {
			e.applied++
			e.log.Trace("Поза %s (%d) на t=%.4f", node.ObjectName, node.ObjectID, pose.ProfileTime)
		}
	})
	return nil
}

// recordedID id, под которым компонент был записан в момент t. Узел дерева
// хранит последний id, а бэкенд мог выдать компоненту новый id позже.
func recordedID(op analysis.ObjectProvider, node, parent *hierarchy.Node, t float64) uint64 {
	if op == nil || parent == nil {
		return node.ObjectID
	}
	if lifetime, ok := op.GetObjectRecordingLifetime(node.ObjectID); ok && lifetime.Contains(t) {
		return node.ObjectID
	}

	id := node.ObjectID
	op.EnumerateObjects(t, t, func(info analysis.ObjectInfo) {
		if info.OuterID == parent.ObjectID && info.Name == node.ObjectName {
			id = info.ID
		}
	})
	return id
}
