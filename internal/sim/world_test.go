package sim

import (
	"testing"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	calls []string
}

func (l *recordingListener) OnSimStarted()       { l.calls = append(l.calls, "started") }
func (l *recordingListener) OnSimPaused()        { l.calls = append(l.calls, "paused") }
func (l *recordingListener) OnSimResumed()       { l.calls = append(l.calls, "resumed") }
func (l *recordingListener) OnSimSingleStepped() { l.calls = append(l.calls, "stepped") }
func (l *recordingListener) OnSimStopped()       { l.calls = append(l.calls, "stopped") }

func newTestWorld(cfg Config) (*World, *analysis.MemorySession) {
	session := analysis.NewMemorySession()
	return NewWorld(session, cfg), session
}

func TestWorld_LifecycleNotifications(t *testing.T) {
	w, _ := newTestWorld(Config{Seed: 1, Actors: 1})
	l := &recordingListener{}
	w.AddListener(l)

	w.Pause() // до старта ничего не происходит
	w.Start()
	w.Start()
	w.Pause()
	w.SingleStep()
	w.Resume()
	w.Stop()

	assert.Equal(t, []string{"started", "paused", "stepped", "resumed", "stopped"}, l.calls)
	assert.False(t, w.IsSimulating())

	w.RemoveListener(l)
	w.Start()
	assert.Len(t, l.calls, 5, "Удалённый слушатель не получает уведомлений")
}

func TestWorld_StepOnlyWhileSimulating(t *testing.T) {
	w, _ := newTestWorld(Config{Seed: 1})
	w.Step(1)
	assert.Zero(t, w.WorldElapsedTime())

	w.Start()
	w.Step(0.5)
	w.Step(0.25)
	assert.InDelta(t, 0.75, w.WorldElapsedTime(), 1e-9)

	w.Pause()
	w.Step(1)
	assert.InDelta(t, 0.75, w.WorldElapsedTime(), 1e-9)

	w.ResetWorldElapsedTime()
	assert.Zero(t, w.WorldElapsedTime())
	assert.InDelta(t, 0.75, w.ProfileTime(), 1e-9, "Время трассы не сбрасывается")
}

func TestWorld_CapturesOnlyEnabledChannels(t *testing.T) {
	w, session := newTestWorld(Config{Seed: 3, Actors: 2})
	w.Start()
	w.Step(0.1) // каналы выключены

	w.SetWorldRecordingIndex(1)
	w.ResetWorldElapsedTime()
	for _, ch := range []string{ChannelObject, ChannelFrame, ChannelAnimation, ChannelPoseSearch} {
		w.SetChannelEnabled(ch, true)
	}
	assert.True(t, w.ChannelEnabled(ChannelFrame))
	for i := 0; i < 12; i++ {
		w.Step(0.1)
	}

	scope := session.BeginRead()
	defer scope.End()

	rp, ok := analysis.GetProvider[analysis.RecordingProvider](session, analysis.RecordingProviderName)
	require.True(t, ok)
	store, ok := rp.RecordingTimeline(1)
	require.True(t, ok)
	assert.Equal(t, 12, store.EventCount())
	last, err := store.Event(11)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, last.ElapsedTime, 1e-9)
	assert.InDelta(t, 1.3, last.ProfileTime, 1e-9)

	fp, _ := analysis.GetProvider[analysis.FrameProvider](session, analysis.FrameProviderName)
	_, ok = fp.GetFrameFromTime(analysis.FrameGame, 0.05)
	assert.False(t, ok, "Кадр до включения канала не записан")
	frame, ok := fp.GetFrameFromTime(analysis.FrameGame, 0.65)
	require.True(t, ok)
	assert.Equal(t, uint64(7), frame.Index)

	meshID, ok := w.MeshComponent(w.Actors()[0])
	require.True(t, ok)
	pp, _ := analysis.GetProvider[analysis.PoseProvider](session, analysis.PoseProviderName)
	poses, ok := pp.PoseTimeline(meshID)
	require.True(t, ok)
	count := 0
	poses.EnumerateEvents(0, 10, func(ev analysis.PoseEvent) {
		count++
		assert.Len(t, ev.Bones, 3)
	})
	assert.Equal(t, 12, count)

	psp, _ := analysis.GetProvider[analysis.PoseSearchProvider](session, analysis.PoseSearchProviderName)
	decisions, ok := psp.DecisionTimeline(meshID)
	require.True(t, ok)
	decisionCount := 0
	decisions.EnumerateEvents(0, 10, func(analysis.MotionMatchDecision) { decisionCount++ })
	assert.Equal(t, 2, decisionCount, "Решения пишутся каждый шестой кадр")
}

func TestWorld_ActorHierarchyAndController(t *testing.T) {
	w, session := newTestWorld(Config{Seed: 1, Actors: 2})
	w.Start()
	w.Step(0.1)

	scope := session.BeginRead()
	defer scope.End()
	op, ok := analysis.GetProvider[analysis.ObjectProvider](session, analysis.ObjectProviderName)
	require.True(t, ok)

	hero := w.Actors()[0]
	var children []string
	op.EnumerateObjects(0.1, 0.1, func(o analysis.ObjectInfo) {
		if o.OuterID == hero {
			children = append(children, o.Name)
		}
	})
	assert.Equal(t, []string{CapsuleComponentName, MeshComponentName}, children)

	ctrl, ok := op.FindPossessingController(hero, 0.1)
	require.True(t, ok)
	assert.Equal(t, "PlayerController", ctrl.Name)

	info, ok := op.GetObjectInfo(w.Actors()[1])
	require.True(t, ok)
	assert.Equal(t, "NPC_1", info.Name)
}

func TestWorld_MeshIDChurn(t *testing.T) {
	w, session := newTestWorld(Config{Seed: 1, Actors: 1, ChurnEvery: 0.45})
	w.Start()
	hero := w.Actors()[0]
	before, _ := w.MeshComponent(hero)

	for i := 0; i < 10; i++ {
		w.Step(0.1)
	}
	after, _ := w.MeshComponent(hero)
	require.NotEqual(t, before, after)

	_, ok := w.ObjectTransform(before)
	assert.False(t, ok, "Старый id больше не в сцене")
	_, ok = w.ObjectTransform(after)
	assert.True(t, ok)

	scope := session.BeginRead()
	defer scope.End()
	op, _ := analysis.GetProvider[analysis.ObjectProvider](session, analysis.ObjectProviderName)
	lifetime, ok := op.GetObjectRecordingLifetime(before)
	require.True(t, ok)
	assert.False(t, lifetime.IsOpen())
	info, ok := op.GetObjectInfo(after)
	require.True(t, ok)
	assert.Equal(t, MeshComponentName, info.Name)
	assert.Equal(t, hero, info.OuterID)
}

func TestWorld_SceneTransforms(t *testing.T) {
	w, _ := newTestWorld(Config{Seed: 5})
	assert.False(t, w.SetObjectTransform(1, vec.Identity()), "Неизвестный объект")

	w.Start()
	hero := w.Actors()[0]
	override := vec.Transform{Location: vec.Vec3{X: 42}, Scale: vec.One}
	require.True(t, w.SetObjectTransform(hero, override))
	got, ok := w.ObjectTransform(hero)
	require.True(t, ok)
	assert.True(t, got.Equals(override))

	w.Step(0.1)
	got, _ = w.ObjectTransform(hero)
	assert.False(t, got.Equals(override), "Симуляция двигает актора")

	w.Stop()
	_, ok = w.ObjectTransform(hero)
	assert.False(t, ok)
}
