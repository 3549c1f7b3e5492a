package rewind

import (
	"sync"
)

// Extension подсистема, восстанавливающая своё состояние на момент воспроизведения.
// Вызывается на потоке тика отладчика.
type Extension interface {
	Name() string
	Update(deltaTime float64, h Handle) error
	RecordingStarted(h Handle)
	RecordingStopped(h Handle)
}

// ExtensionRegistry список расширений. Владеет им встраивающий код,
// отладчик только обходит его в порядке регистрации.
type ExtensionRegistry struct {
	mu         sync.RWMutex
	extensions []Extension
}

// NewExtensionRegistry создаёт пустой реестр
func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{}
}

// Register добавляет расширение в конец списка. Повторная регистрация игнорируется.
func (r *ExtensionRegistry) Register(ext Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.extensions {
		if existing == ext {
			return
		}
	}
	r.extensions = append(r.extensions, ext)
}

// Unregister удаляет расширение. Возвращает false, если оно не было зарегистрировано.
func (r *ExtensionRegistry) Unregister(ext Extension) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.extensions {
		if existing == ext {
			r.extensions = append(r.extensions[:i], r.extensions[i+1:]...)
			return true
		}
	}
	return false
}

// Extensions копия списка в порядке регистрации
func (r *ExtensionRegistry) Extensions() []Extension {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

// Len количество расширений
func (r *ExtensionRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.extensions)
}

// callExtension изолирует вызов: ошибка или паника одного расширения
// не прерывает обход остальных
func (d *Debugger) callExtension(ext Extension, hook string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			d.extensionFailures++
			d.log.Error("💥 Расширение %s: паника в %s: %v", ext.Name(), hook, r)
		}
	}()

	if err := fn(); err != nil {
		d.extensionFailures++
		d.log.Warn("⚠️ Расширение %s: ошибка в %s: %v", ext.Name(), hook, err)
	}
}

func (d *Debugger) updateExtensions(deltaTime float64) {
	for _, ext := range d.registry.Extensions() {
		d.callExtension(ext, "Update", func() error {
			return ext.Update(deltaTime, d)
		})
	}
}

func (d *Debugger) notifyRecordingStarted() {
	for _, ext := range d.registry.Extensions() {
		d.callExtension(ext, "RecordingStarted", func() error {
			ext.RecordingStarted(d)
			return nil
		})
	}
}

func (d *Debugger) notifyRecordingStopped() {
	for _, ext := range d.registry.Extensions() {
		d.callExtension(ext, "RecordingStopped", func() error {
			ext.RecordingStopped(d)
			return nil
		})
	}
}
