// Package motionmatch отслеживает решение motion matching на текущий момент
// воспроизведения для выбранного компонента цели.
package motionmatch

import (
	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/hierarchy"
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/rewind"
)

// DefaultLookback насколько далеко назад от текущего времени искать решение
const DefaultLookback = 1.0

// State последнее найденное решение
type State struct {
	ObjectID uint64                       `json:"object_id"`
	Decision analysis.MotionMatchDecision `json:"decision"`
}

// Extension ищет последнее решение не позже текущего времени трассы.
// Источник: выбранный компонент, иначе первый компонент цели с решениями.
type Extension struct {
	Lookback float64

	log     *logging.Logger
	current State
	valid   bool
}

// New создаёт расширение
func New() *Extension {
	return &Extension{Lookback: DefaultLookback, log: logging.GetExtensionLogger()}
}

func (e *Extension) Name() string { return "motionmatch" }

// Current решение на текущий момент
func (e *Extension) Current() (State, bool) {
	return e.current, e.valid
}

func (e *Extension) RecordingStarted(rewind.Handle) {
	e.valid = false
}

func (e *Extension) RecordingStopped(rewind.Handle) {}

// Update вызывается каждый тик отладчика
func (e *Extension) Update(_ float64, h rewind.Handle) error {
	session := h.AnalysisSession()
	if session == nil {
		return nil
	}

	scope := session.BeginRead()
	defer scope.End()

	psp, ok := analysis.GetProvider[analysis.PoseSearchProvider](session, analysis.PoseSearchProviderName)
	if !ok {
		e.valid = false
		return nil
	}

	t := h.CurrentTraceTime()
	var candidates []*hierarchy.Node
	if sel := h.SelectedComponent(); sel != nil {
		candidates = append(candidates, sel)
	} else {
		hierarchy.Walk(h.DebugComponents(), func(node, _ *hierarchy.Node) {
			candidates = append(candidates, node)
		})
	}

	for _, node := range candidates {
		tl, ok := psp.DecisionTimeline(node.ObjectID)
		if !ok {
			continue
		}
		var latest analysis.MotionMatchDecision
		found := false
		tl.EnumerateEvents(t-e.Lookback, t, func(d analysis.MotionMatchDecision) {
			latest = d
			found = true
		})
		if !found {
			continue
		}

		if !e.valid || e.current.ObjectID != node.ObjectID || e.current.Decision.PoseIndex != latest.PoseIndex {
			e.log.Trace("Motion matching %s: %s[%d] cost=%.3f", node.ObjectName, latest.Database, latest.PoseIndex, latest.Cost)
		}
		e.current = State{ObjectID: node.ObjectID, Decision: latest}
		e.valid = true
		return nil
	}

	e.valid = false
	return nil
}
