// Package metrics экспортирует состояние отладчика и шины событий в Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/annel0/rewind/internal/eventbus"
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/rewind"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsSource источник снимков отладчика (Runner)
type StatsSource interface {
	Stats() rewind.Stats
}

// BusSource источник статистики шины событий
type BusSource interface {
	Metrics() eventbus.Stats
}

// Exporter периодически переносит снимки отладчика, статистику шины
// и загрузку процесса в метрики Prometheus.
type Exporter struct {
	stats    StatsSource
	bus      BusSource
	process  *ProcessMetrics
	gatherer prometheus.Gatherer
	interval time.Duration
	log      *logging.Logger

	quit   chan struct{}
	done   chan struct{}
	server *http.Server

	prevStats rewind.Stats
	prevBus   eventbus.Stats

	scrubTime         prometheus.Gauge
	recordingDuration prometheus.Gauge
	traceTime         prometheus.Gauge
	frameIndex        prometheus.Gauge
	eventCount        prometheus.Gauge
	recordingIndex    prometheus.Gauge
	recording         prometheus.Gauge
	simulating        prometheus.Gauge
	controlState      *prometheus.GaugeVec
	ticks             prometheus.Counter
	extensionFailures prometheus.Counter

	busPublished prometheus.Counter
	busConsumed  prometheus.Counter
	busDropped   prometheus.Counter
	busInflight  prometheus.Gauge

	cpuPercent prometheus.Gauge
	memoryMB   prometheus.Gauge
}

// Options параметры экспортера. Registerer и Gatherer по умолчанию глобальные.
type Options struct {
	Stats      StatsSource
	Bus        BusSource
	Process    *ProcessMetrics
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Interval   time.Duration
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "rewind", Name: name, Help: help})
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rewind", Subsystem: subsystem, Name: name, Help: help})
}

// NewExporter создаёт экспортер и регистрирует метрики, но не запускает опрос.
func NewExporter(opts Options) *Exporter {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	e := &Exporter{
		stats:    opts.Stats,
		bus:      opts.Bus,
		process:  opts.Process,
		gatherer: gatherer,
		interval: interval,
		log:      logging.GetComponentLogger(logging.ComponentMetrics),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),

		scrubTime:         gauge("scrub_time_seconds", "Текущая позиция воспроизведения."),
		recordingDuration: gauge("recording_duration_seconds", "Длительность текущей записи."),
		traceTime:         gauge("trace_time_seconds", "Profile time текущего кадра трассы."),
		frameIndex:        gauge("frame_index", "Индекс текущего события записи."),
		eventCount:        gauge("recording_events", "Число событий в текущей записи."),
		recordingIndex:    gauge("recording_index", "Индекс последней записи."),
		recording:         gauge("recording_active", "1, пока идёт запись."),
		simulating:        gauge("simulating", "1, пока живая симуляция запущена."),
		controlState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rewind",
			Name:      "control_state",
			Help:      "Режим воспроизведения (1 у активного).",
		}, []string{"state"}),
		ticks:             counter("", "ticks_total", "Число тиков отладчика."),
		extensionFailures: counter("", "extension_failures_total", "Ошибок и паник расширений."),

		busPublished: counter("eventbus", "messages_published_total", "Общее число опубликованных сообщений."),
		busConsumed:  counter("eventbus", "messages_consumed_total", "Общее число доставленных сообщений подписчикам."),
		busDropped:   counter("eventbus", "messages_dropped_total", "Сообщений, отброшенных из-за ограничения back-pressure."),
		busInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rewind",
			Subsystem: "eventbus",
			Name:      "messages_inflight",
			Help:      "Количество сообщений в очереди.",
		}),

		cpuPercent: gauge("process_cpu_percent", "Загрузка CPU процессом."),
		memoryMB:   gauge("process_heap_alloc_mb", "Занятая куча в MB."),
	}

	reg.MustRegister(
		e.scrubTime, e.recordingDuration, e.traceTime, e.frameIndex, e.eventCount,
		e.recordingIndex, e.recording, e.simulating, e.controlState, e.ticks, e.extensionFailures,
		e.busPublished, e.busConsumed, e.busDropped, e.busInflight,
		e.cpuPercent, e.memoryMB,
	)
	return e
}

// Start запускает периодический опрос. Неблокирующий.
func (e *Exporter) Start() {
	go e.loop()
}

// StartHTTP поднимает отдельный /metrics на addr (например ":2112")
func (e *Exporter) StartHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		e.log.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
}

// Handler HTTP-обработчик метрик
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}

// Stop останавливает опрос и HTTP-сервер метрик
func (e *Exporter) Stop(ctx context.Context) error {
	select {
	case <-e.quit:
	default:
		close(e.quit)
	}
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Exporter) loop() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	defer close(e.done)

	for {
		select {
		case <-ticker.C:
			e.Collect()
		case <-e.quit:
			return
		}
	}
}

// Collect один проход опроса источников
func (e *Exporter) Collect() {
	if e.stats != nil {
		s := e.stats.Stats()
		e.scrubTime.Set(s.ScrubTime)
		e.recordingDuration.Set(s.RecordingDuration)
		e.traceTime.Set(s.TraceTime)
		e.frameIndex.Set(float64(s.FrameIndex))
		e.eventCount.Set(float64(s.EventCount))
		e.recordingIndex.Set(float64(s.RecordingIndex))
		e.recording.Set(boolGauge(s.Recording))
		e.simulating.Set(boolGauge(s.Simulating))
		for _, state := range []rewind.ControlState{rewind.ControlPause, rewind.ControlPlay, rewind.ControlPlayReverse} {
			e.controlState.WithLabelValues(state.String()).Set(boolGauge(state == s.ControlState))
		}

		// Counter растёт только на дельту с прошлого опроса
		if s.Ticks > e.prevStats.Ticks {
			e.ticks.Add(float64(s.Ticks - e.prevStats.Ticks))
		}
		if s.ExtensionFailures > e.prevStats.ExtensionFailures {
			e.extensionFailures.Add(float64(s.ExtensionFailures - e.prevStats.ExtensionFailures))
		}
		e.prevStats = s
	}

	if e.bus != nil {
		stats := e.bus.Metrics()
		if stats.Published > e.prevBus.Published {
			e.busPublished.Add(float64(stats.Published - e.prevBus.Published))
		}
		if stats.Consumed > e.prevBus.Consumed {
			e.busConsumed.Add(float64(stats.Consumed - e.prevBus.Consumed))
		}
		if stats.Dropped > e.prevBus.Dropped {
			e.busDropped.Add(float64(stats.Dropped - e.prevBus.Dropped))
		}
		e.busInflight.Set(float64(stats.InFlight))
		e.prevBus = stats
	}

	if e.process != nil {
		if percent, err := e.process.CPUUsage(); err == nil {
			e.cpuPercent.Set(percent)
		} else {
			e.log.Debug("CPU недоступен: %v", err)
		}
		e.memoryMB.Set(e.process.MemoryUsageMB())
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
