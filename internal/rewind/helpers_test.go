package rewind

import (
	"errors"
	"testing"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/timeline"
	"github.com/annel0/rewind/internal/vec"
	"github.com/stretchr/testify/require"
)

// fakeHost управляемый вручную хост: симуляция, каналы и сцена
type fakeHost struct {
	simulating     bool
	elapsed        float64
	resets         int
	recordingIndex int
	channels       map[string]bool
	transforms     map[uint64]vec.Transform
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		channels:   make(map[string]bool),
		transforms: make(map[uint64]vec.Transform),
	}
}

func (h *fakeHost) IsSimulating() bool        { return h.simulating }
func (h *fakeHost) WorldElapsedTime() float64 { return h.elapsed }

func (h *fakeHost) ResetWorldElapsedTime() {
	h.elapsed = 0
	h.resets++
}

func (h *fakeHost) SetWorldRecordingIndex(index int) { h.recordingIndex = index }

func (h *fakeHost) SetChannelEnabled(name string, enabled bool) { h.channels[name] = enabled }

func (h *fakeHost) ObjectTransform(id uint64) (vec.Transform, bool) {
	t, ok := h.transforms[id]
	return t, ok
}

func (h *fakeHost) SetObjectTransform(id uint64, t vec.Transform) bool {
	if _, ok := h.transforms[id]; !ok {
		return false
	}
	h.transforms[id] = t
	return true
}

// fakeExtension записывает вызовы в общий журнал
type fakeExtension struct {
	name      string
	journal   *[]string
	updateErr error
	panicMsg  string
	updates   int
}

func (e *fakeExtension) Name() string { return e.name }

func (e *fakeExtension) Update(_ float64, _ Handle) error {
	e.updates++
	*e.journal = append(*e.journal, e.name+".update")
	if e.panicMsg != "" {
		panic(e.panicMsg)
	}
	return e.updateErr
}

func (e *fakeExtension) RecordingStarted(h Handle) {
	*e.journal = append(*e.journal, e.name+".started")
	if e.panicMsg != "" {
		panic(e.panicMsg)
	}
}

func (e *fakeExtension) RecordingStopped(Handle) {
	*e.journal = append(*e.journal, e.name+".stopped")
}

var errExtension = errors.New("extension failed")

type fixture struct {
	d        *Debugger
	host     *fakeHost
	session  *analysis.MemorySession
	registry *ExtensionRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := newFakeHost()
	session := analysis.NewMemorySession()
	registry := NewExtensionRegistry()
	d := New(Options{
		Host:         h,
		Channels:     h,
		Scene:        h,
		Session:      session,
		Registry:     registry,
		ChannelNames: []string{"Object", "Frame"},
	})
	return &fixture{d: d, host: h, session: session, registry: registry}
}

// record проводит запись с событиями в моменты elapsed и останавливает её
// на паузе симуляции. Profile time события = 100 + elapsed.
func (f *fixture) record(t *testing.T, elapsed ...float64) {
	t.Helper()
	f.host.simulating = true
	f.d.StartRecording()
	require.True(t, f.d.IsRecording())

	for _, e := range elapsed {
		require.NoError(t, f.session.AddRecordingEvent(f.d.RecordingIndex(), timeline.Event{ElapsedTime: e, ProfileTime: 100 + e}))
		f.host.elapsed = e
		f.d.Tick(0)
	}

	f.host.simulating = false
	f.d.StopRecording()
	require.False(t, f.d.IsRecording())
}
