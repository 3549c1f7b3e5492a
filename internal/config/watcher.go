package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/rewind/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher перечитывает файл конфигурации при его изменении.
// Следит за каталогом, так как редакторы заменяют файл переименованием.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	log      *logging.Logger

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// ResolvePath путь к файлу конфигурации с учётом REWIND_CONFIG
func ResolvePath(path string) string {
	if path == "" {
		return os.Getenv("REWIND_CONFIG")
	}
	return path
}

// Watch запускает наблюдение за path. onChange вызывается из горутины
// наблюдателя с уже разобранной конфигурацией; ошибочный файл пропускается.
func Watch(path string, debounce time.Duration, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		watcher:  fw,
		log:      logging.GetComponentLogger(logging.ComponentConfig),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close останавливает наблюдение. Повторный вызов безопасен.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.quit)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.quit:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("⚠️ Ошибка наблюдения за конфигурацией: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("⚠️ Конфигурация %s не применена: %v", w.path, err)
		return
	}
	w.log.Info("🔄 Конфигурация %s перечитана", w.path)
	w.onChange(cfg)
}
