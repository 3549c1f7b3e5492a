// Package host описывает контракт живой симуляции, к которой подключается отладчик.
package host

import "github.com/annel0/rewind/internal/vec"

// Host живая симуляция (игровой цикл)
type Host interface {
	// IsSimulating true, пока цикл симуляции запущен и не на паузе
	IsSimulating() bool
	// WorldElapsedTime секунды с последнего сброса начала записи
	WorldElapsedTime() float64
	ResetWorldElapsedTime()
	// SetWorldRecordingIndex помечает данные продюсера индексом записи
	SetWorldRecordingIndex(index int)
}

// Channels переключатель каналов захвата трассы
type Channels interface {
	SetChannelEnabled(name string, enabled bool)
}

// Scene доступ к трансформам живых объектов сцены
type Scene interface {
	ObjectTransform(objectID uint64) (vec.Transform, bool)
	SetObjectTransform(objectID uint64, t vec.Transform) bool
}

// Listener уведомления о жизненном цикле симуляции
type Listener interface {
	OnSimStarted()
	OnSimPaused()
	OnSimResumed()
	OnSimSingleStepped()
	OnSimStopped()
}

// Notifier источник уведомлений жизненного цикла
type Notifier interface {
	AddListener(l Listener)
	RemoveListener(l Listener)
}

// Control управление жизненным циклом живой симуляции
type Control interface {
	Start()
	Pause()
	Resume()
	SingleStep()
	Stop()
	IsStarted() bool
	IsSimulating() bool
}
