package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Компоненты rewindd, у каждого свой файл лога
const (
	ComponentRewind     = "rewind"
	ComponentAPI        = "api"
	ComponentStorage    = "storage"
	ComponentSim        = "sim"
	ComponentExtensions = "extensions"
	ComponentEventBus   = "eventbus"
	ComponentMetrics    = "metrics"
	ComponentConfig     = "config"
)

// componentRegistry логгеры компонентов. Уровень консоли общий для всех
// и меняется при горячей перезагрузке конфигурации.
type componentRegistry struct {
	mu      sync.Mutex
	loggers map[string]*Logger
}

var components = &componentRegistry{loggers: make(map[string]*Logger)}

// logger отдаёт логгер компонента. До InitDefaultLogger логгер немой,
// файлы логов не создаются. Если файл открыть не удалось, пишет только в консоль.
func (r *componentRegistry) logger(component string) *Logger {
	if defaultLogger == nil {
		return newDiscardLogger(component)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loggers[component]; ok {
		return l
	}
	l, err := NewLogger(component)
	if err != nil {
		defaultLogger.logMessage(WARN, "логгер компонента %s без файла: %v", component, err)
		l = newConsoleLogger(component)
	}
	l.minConsoleLevel = defaultLogger.minConsoleLevel
	r.loggers[component] = l
	return l
}

func (r *componentRegistry) setConsoleLevel(level LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.loggers {
		l.minConsoleLevel = level
	}
}

func (r *componentRegistry) closeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for component, l := range r.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("лог %s: %w", component, err))
		}
	}
	r.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// ActiveComponents компоненты, для которых уже открыт лог
func ActiveComponents() []string {
	components.mu.Lock()
	defer components.mu.Unlock()

	names := make([]string, 0, len(components.loggers))
	for name := range components.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetComponentLogger логгер произвольного компонента
func GetComponentLogger(component string) *Logger {
	return components.logger(component)
}

func GetRewindLogger() *Logger    { return components.logger(ComponentRewind) }
func GetAPILogger() *Logger       { return components.logger(ComponentAPI) }
func GetStorageLogger() *Logger   { return components.logger(ComponentStorage) }
func GetSimLogger() *Logger       { return components.logger(ComponentSim) }
func GetExtensionLogger() *Logger { return components.logger(ComponentExtensions) }
