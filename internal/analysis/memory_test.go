package analysis

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/annel0/rewind/internal/timeline"
	"github.com/annel0/rewind/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySession_ReadScopeIsReentrant(t *testing.T) {
	s := NewMemorySession()

	outer := s.BeginRead()
	inner := s.BeginRead()
	inner.End()
	inner.End() // повторный End безопасен

	// Запись должна дождаться окончания внешнего scope
	written := make(chan struct{})
	go func() {
		_ = s.AddRecordingEvent(1, timeline.Event{ElapsedTime: 0})
		close(written)
	}()

	select {
	case <-written:
		t.Fatal("Запись прошла при удерживаемом read scope")
	case <-time.After(50 * time.Millisecond):
	}

	outer.End()
	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("Запись не прошла после окончания scope")
	}
}

func TestMemorySession_ConcurrentScopes(t *testing.T) {
	s := NewMemorySession()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				scope := s.BeginRead()
				_, _ = GetProvider[RecordingProvider](s, RecordingProviderName)
				scope.End()
			}
		}()
	}
	for j := 0; j < 100; j++ {
		require.NoError(t, s.AddRecordingEvent(1, timeline.Event{ElapsedTime: float64(j)}))
	}
	wg.Wait()

	scope := s.BeginRead()
	defer scope.End()
	rp, ok := GetProvider[RecordingProvider](s, RecordingProviderName)
	require.True(t, ok)
	store, ok := rp.RecordingTimeline(1)
	require.True(t, ok)
	assert.Equal(t, 100, store.EventCount())
}

func TestGetProvider_Missing(t *testing.T) {
	_, ok := GetProvider[ObjectProvider](nil, ObjectProviderName)
	assert.False(t, ok)

	s := NewMemorySession()
	s.SetProviderEnabled(ObjectProviderName, false)
	_, ok = GetProvider[ObjectProvider](s, ObjectProviderName)
	assert.False(t, ok)

	_, ok = GetProvider[ObjectProvider](s, "Unknown")
	assert.False(t, ok)

	// Неверный тип провайдера
	_, ok = GetProvider[FrameProvider](s, RecordingProviderName)
	assert.False(t, ok)
}

func TestObjectProvider_EnumerateAndController(t *testing.T) {
	s := NewMemorySession()
	s.AddObject(ObjectInfo{ID: 1, Name: "Hero"}, 10)
	s.AddObject(ObjectInfo{ID: 2, OuterID: 1, Name: "Mesh"}, 10)
	s.AddObject(ObjectInfo{ID: 3, Name: "PlayerController"}, 10)
	s.EndObject(2, 12)
	s.AddObject(ObjectInfo{ID: 4, OuterID: 1, Name: "Mesh"}, 12)
	s.Possess(1, 3, 11)

	scope := s.BeginRead()
	defer scope.End()
	op, ok := GetProvider[ObjectProvider](s, ObjectProviderName)
	require.True(t, ok)

	var at11, at13 []uint64
	op.EnumerateObjects(11, 11, func(o ObjectInfo) { at11 = append(at11, o.ID) })
	op.EnumerateObjects(13, 13, func(o ObjectInfo) { at13 = append(at13, o.ID) })
	assert.Equal(t, []uint64{1, 2, 3}, at11)
	assert.Equal(t, []uint64{1, 3, 4}, at13)

	lifetime, ok := op.GetObjectRecordingLifetime(2)
	require.True(t, ok)
	assert.Equal(t, TimeRange{Start: 10, End: 12}, lifetime)

	_, ok = op.FindPossessingController(1, 10.5)
	assert.False(t, ok, "До possess контроллера нет")
	ctrl, ok := op.FindPossessingController(1, 11.5)
	require.True(t, ok)
	assert.Equal(t, "PlayerController", ctrl.Name)
}

func TestFrameProvider_GetFrameFromTime(t *testing.T) {
	s := NewMemorySession()
	require.NoError(t, s.AddFrame(FrameGame, Frame{Index: 1, StartTime: 0, EndTime: 1}))
	require.NoError(t, s.AddFrame(FrameGame, Frame{Index: 2, StartTime: 1, EndTime: 2}))
	require.NoError(t, s.AddFrame(FrameGame, Frame{Index: 3, StartTime: 3, EndTime: 4}))
	assert.Error(t, s.AddFrame(FrameGame, Frame{Index: 4, StartTime: 2}))

	scope := s.BeginRead()
	defer scope.End()
	fp, _ := GetProvider[FrameProvider](s, FrameProviderName)

	f, ok := fp.GetFrameFromTime(FrameGame, 1.5)
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Index)

	f, ok = fp.GetFrameFromTime(FrameGame, 1.0)
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Index, "Граница принадлежит следующему кадру")

	_, ok = fp.GetFrameFromTime(FrameGame, 2.5)
	assert.False(t, ok, "Промежуток между кадрами")
	_, ok = fp.GetFrameFromTime(FrameGame, -1)
	assert.False(t, ok)
	_, ok = fp.GetFrameFromTime(FrameRendering, 1)
	assert.False(t, ok)
}

func TestPoseTimeline_EnumerateEvents(t *testing.T) {
	s := NewMemorySession()
	for _, pt := range []float64{1, 3, 2, 4} {
		s.AddPose(7, PoseEvent{ProfileTime: pt, ComponentToWorld: vec.Transform{Location: vec.Vec3{X: pt}}})
	}

	scope := s.BeginRead()
	defer scope.End()
	pp, _ := GetProvider[PoseProvider](s, PoseProviderName)
	tl, ok := pp.PoseTimeline(7)
	require.True(t, ok)

	var got []float64
	tl.EnumerateEvents(2, 3, func(ev PoseEvent) { got = append(got, ev.ProfileTime) })
	assert.Equal(t, []float64{2, 3}, got)

	_, ok = pp.PoseTimeline(8)
	assert.False(t, ok)
}

func TestTimeRange_JSON(t *testing.T) {
	data, err := json.Marshal(Open(5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":5,"end":null}`, string(data))

	var r TimeRange
	require.NoError(t, json.Unmarshal(data, &r))
	assert.True(t, r.IsOpen())
	assert.True(t, math.IsInf(r.End, 1))

	require.NoError(t, json.Unmarshal([]byte(`{"start":1,"end":2}`), &r))
	assert.Equal(t, TimeRange{Start: 1, End: 2}, r)
}

func TestExportImport(t *testing.T) {
	src := NewMemorySession()
	src.AddObject(ObjectInfo{ID: 1, Name: "Hero"}, 100)
	src.AddObject(ObjectInfo{ID: 9, Name: "Old"}, 0)
	src.EndObject(9, 50)
	require.NoError(t, src.AddRecordingEvent(3, timeline.Event{ElapsedTime: 0, ProfileTime: 100}))
	require.NoError(t, src.AddRecordingEvent(3, timeline.Event{ElapsedTime: 1, ProfileTime: 101}))
	require.NoError(t, src.AddFrame(FrameGame, Frame{Index: 1, StartTime: 100, EndTime: 101}))
	src.AddPose(1, PoseEvent{ProfileTime: 100.5})
	src.AddDecision(1, MotionMatchDecision{ProfileTime: 100.5, Database: "Locomotion"})

	archive, err := src.Export(3, "session-1")
	require.NoError(t, err)
	assert.Len(t, archive.Events, 2)
	assert.Len(t, archive.Objects, 1, "Объект вне окна записи не экспортируется")
	assert.Len(t, archive.Poses[1], 1)

	_, err = src.Export(4, "")
	assert.True(t, errors.Is(err, ErrRecordingNotFound))

	// Архив переживает JSON
	data, err := json.Marshal(archive)
	require.NoError(t, err)
	var decoded RecordingArchive
	require.NoError(t, json.Unmarshal(data, &decoded))

	dst := NewMemorySession()
	require.NoError(t, dst.Import(&decoded))
	assert.Equal(t, []int{3}, dst.RecordingIndexes())

	scope := dst.BeginRead()
	defer scope.End()
	op, _ := GetProvider[ObjectProvider](dst, ObjectProviderName)
	lifetime, ok := op.GetObjectRecordingLifetime(1)
	require.True(t, ok)
	assert.True(t, lifetime.IsOpen())

	fp, _ := GetProvider[FrameProvider](dst, FrameProviderName)
	_, ok = fp.GetFrameFromTime(FrameGame, 100.5)
	assert.True(t, ok)

	psp, _ := GetProvider[PoseSearchProvider](dst, PoseSearchProviderName)
	dt, ok := psp.DecisionTimeline(1)
	require.True(t, ok)
	var dbs []string
	dt.EnumerateEvents(100, 101, func(d MotionMatchDecision) { dbs = append(dbs, d.Database) })
	assert.Equal(t, []string{"Locomotion"}, dbs)
}

func TestImport_RepeatedLoadDoesNotDuplicate(t *testing.T) {
	src := NewMemorySession()
	src.AddObject(ObjectInfo{ID: 1, Name: "Hero"}, 100)
	src.AddObject(ObjectInfo{ID: 2, Name: "Controller"}, 100)
	src.Possess(1, 2, 100)
	require.NoError(t, src.AddRecordingEvent(1, timeline.Event{ElapsedTime: 0, ProfileTime: 100}))
	require.NoError(t, src.AddRecordingEvent(1, timeline.Event{ElapsedTime: 1, ProfileTime: 101}))
	require.NoError(t, src.AddFrame(FrameGame, Frame{Index: 1, StartTime: 100, EndTime: 101}))
	src.AddPose(1, PoseEvent{ProfileTime: 100.5})
	src.AddDecision(1, MotionMatchDecision{ProfileTime: 100.5, Database: "Locomotion"})

	archive, err := src.Export(1, "session-1")
	require.NoError(t, err)

	dst := NewMemorySession()
	for i := 0; i < 3; i++ {
		require.NoError(t, dst.Import(archive))
	}

	scope := dst.BeginRead()
	defer scope.End()

	pp, _ := GetProvider[PoseProvider](dst, PoseProviderName)
	poses, ok := pp.PoseTimeline(1)
	require.True(t, ok)
	posesSeen := 0
	poses.EnumerateEvents(100, 101, func(PoseEvent) { posesSeen++ })
	assert.Equal(t, 1, posesSeen)

	psp, _ := GetProvider[PoseSearchProvider](dst, PoseSearchProviderName)
	decisions, ok := psp.DecisionTimeline(1)
	require.True(t, ok)
	decisionsSeen := 0
	decisions.EnumerateEvents(100, 101, func(MotionMatchDecision) { decisionsSeen++ })
	assert.Equal(t, 1, decisionsSeen)

	assert.Len(t, dst.frames[FrameGame], 1)
	assert.Len(t, dst.possessions, 1)

	// Архив поверх живой сессии с теми же данными
	require.NoError(t, src.Import(archive))
	assert.Len(t, src.poses[1].events, 1)
	assert.Len(t, src.decisions[1].events, 1)
}
