package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации. Неизвестные значения дают INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "trace", "TRACE":
		return TRACE
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger пишет сообщения в консоль и в файл компонента
type Logger struct {
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// Глобальный логгер по умолчанию
var defaultLogger *Logger

// LogDir директория для файлов логов
var LogDir = "logs"

// NewLogger создаёт логгер компонента с файлом logs/<component>_<timestamp>.log
func NewLogger(component string) (*Logger, error) {
	if err := os.MkdirAll(LogDir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", LogDir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(LogDir, fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:      log.New(file, "", log.LstdFlags),
		file:            file,
		minConsoleLevel: INFO,
		minFileLevel:    TRACE,
	}, nil
}

// newConsoleLogger создаёт логгер без файла
func newConsoleLogger(component string) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		minConsoleLevel: INFO,
		minFileLevel:    ERROR,
	}
}

// newDiscardLogger создаёт логгер, который ничего не пишет
func newDiscardLogger(component string) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(io.Discard, "", 0),
		minConsoleLevel: ERROR + 1,
		minFileLevel:    ERROR + 1,
	}
}

// InitDefaultLogger инициализирует логгер по умолчанию
func InitDefaultLogger(component string) error {
	logger, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultLogger = logger
	return nil
}

// CloseDefaultLogger закрывает логгер по умолчанию и логи компонентов
func CloseDefaultLogger() {
	if err := components.closeAll(); err != nil && defaultLogger != nil {
		defaultLogger.logMessage(ERROR, "Ошибка закрытия логов: %v", err)
	}
	if defaultLogger != nil {
		defaultLogger.Close()
		defaultLogger = nil
	}
}

// SetDefaultConsoleLevel меняет минимальный уровень вывода в консоль
// для логгера по умолчанию и всех компонентов
func SetDefaultConsoleLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.minConsoleLevel = level
	}
	components.setConsoleLevel(level)
}

// Close закрывает файл логгера
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

func (l *Logger) logMessage(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}

	message := fmt.Sprintf("[%s] %s", level.String(), fmt.Sprintf(format, args...))
	if l.component != "" {
		message = fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))
	}

	if l.fileLogger != nil && level >= l.minFileLevel {
		l.fileLogger.Println(message)
	}
	if level >= l.minConsoleLevel {
		l.consoleLogger.Println(message)
	}
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) { l.logMessage(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) { l.logMessage(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) { l.logMessage(INFO, format, args...) }

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) { l.logMessage(WARN, format, args...) }

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) { l.logMessage(ERROR, format, args...) }

// Trace логирует сообщение уровня TRACE в логгер по умолчанию
func Trace(format string, args ...interface{}) {
	defaultLogger.logMessage(TRACE, format, args...)
}

// Debug логирует сообщение уровня DEBUG в логгер по умолчанию
func Debug(format string, args ...interface{}) {
	defaultLogger.logMessage(DEBUG, format, args...)
}

// Info логирует сообщение уровня INFO в логгер по умолчанию
func Info(format string, args ...interface{}) {
	defaultLogger.logMessage(INFO, format, args...)
}

// Warn логирует сообщение уровня WARN в логгер по умолчанию
func Warn(format string, args ...interface{}) {
	defaultLogger.logMessage(WARN, format, args...)
}

// Error логирует сообщение уровня ERROR в логгер по умолчанию
func Error(format string, args ...interface{}) {
	defaultLogger.logMessage(ERROR, format, args...)
}

// LogScrub логирует перемещение курсора воспроизведения
func LogScrub(component string, scrubTime float64, frameIndex int, reverse bool) {
	GetComponentLogger(component).Trace("scrub t=%.4f frame=%d reverse=%v", scrubTime, frameIndex, reverse)
}
