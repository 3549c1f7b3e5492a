package rewind

import (
	"testing"

	"github.com/annel0/rewind/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionRegistry_RegisterUnregister(t *testing.T) {
	r := NewExtensionRegistry()
	var journal []string
	a := &fakeExtension{name: "a", journal: &journal}
	b := &fakeExtension{name: "b", journal: &journal}

	r.Register(a)
	r.Register(b)
	r.Register(a)
	assert.Equal(t, 2, r.Len(), "Повторная регистрация игнорируется")
	assert.Equal(t, []Extension{a, b}, r.Extensions())

	assert.True(t, r.Unregister(a))
	assert.False(t, r.Unregister(a))
	assert.Equal(t, []Extension{b}, r.Extensions())

	var nilRegistry *ExtensionRegistry
	assert.Zero(t, nilRegistry.Len())
	assert.Nil(t, nilRegistry.Extensions())
}

func TestExtensions_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	var journal []string
	failing := &fakeExtension{name: "failing", journal: &journal, updateErr: errExtension}
	panicking := &fakeExtension{name: "panicking", journal: &journal, panicMsg: "boom"}
	healthy := &fakeExtension{name: "healthy", journal: &journal}
	f.registry.Register(failing)
	f.registry.Register(panicking)
	f.registry.Register(healthy)

	f.d.Tick(0.016)
	f.d.Tick(0.016)

	assert.Equal(t, 2, healthy.updates, "Сбой соседей не мешает обновлению")
	assert.Equal(t, []string{
		"failing.update", "panicking.update", "healthy.update",
		"failing.update", "panicking.update", "healthy.update",
	}, journal)
	assert.Equal(t, uint64(4), f.d.Snapshot().ExtensionFailures)

	journal = nil
	f.host.simulating = true
	f.d.StartRecording()
	assert.Equal(t, []string{"failing.started", "panicking.started", "healthy.started"}, journal)
	assert.True(t, f.d.IsRecording(), "Паника в расширении не прерывает начало записи")
}

func TestExtensions_UnregisteredNotCalled(t *testing.T) {
	f := newFixture(t)
	var journal []string
	ext := &fakeExtension{name: "a", journal: &journal}
	f.registry.Register(ext)
	f.d.Tick(0)
	f.registry.Unregister(ext)
	f.d.Tick(0)
	assert.Equal(t, 1, ext.updates)
}

func TestPoseResetLog_RemembersFirstOnly(t *testing.T) {
	log := NewPoseResetLog()
	first := vec.Transform{Location: vec.Vec3{X: 1}}
	second := vec.Transform{Location: vec.Vec3{X: 2}}

	log.Remember(5, first)
	log.Remember(5, second)
	log.Remember(6, second)
	require.Equal(t, 2, log.Len())
	assert.True(t, log.Has(5))
	assert.False(t, log.Has(7))

	h := newFakeHost()
	h.transforms[5] = second
	assert.Equal(t, 1, log.Restore(h), "Объекта 6 в сцене нет")
	assert.True(t, h.transforms[5].Equals(first))
	assert.Zero(t, log.Len())

	log.Remember(5, second)
	assert.Zero(t, log.Restore(nil))
	assert.Zero(t, log.Len())
}
