// Package api HTTP API управления отладчиком перемотки.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/host"
	"github.com/annel0/rewind/internal/logging"
	"github.com/annel0/rewind/internal/metrics"
	"github.com/annel0/rewind/internal/middleware"
	"github.com/annel0/rewind/internal/rewind"
	"github.com/annel0/rewind/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Archive хранилище сохранённых записей
type Archive interface {
	Save(ctx context.Context, archive *analysis.RecordingArchive) (storage.ArchiveInfo, error)
	Load(ctx context.Context, recordingIndex int) (*analysis.RecordingArchive, error)
	List(ctx context.Context) ([]storage.ArchiveInfo, error)
	Delete(ctx context.Context, recordingIndex int) error
}

// Recordings сессия анализа, из которой записи выгружаются и в которую загружаются
type Recordings interface {
	Export(recordingIndex int, sessionID string) (*analysis.RecordingArchive, error)
	Import(archive *analysis.RecordingArchive) error
}

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	server     *http.Server
	runner     *rewind.Runner
	sim        host.Control
	archive    Archive
	recordings Recordings
	process    *metrics.ProcessMetrics
	auth       *Authenticator
	timeout    time.Duration
	port       string
	log        *logging.Logger

	streamInterval time.Duration
	rateLimit      *middleware.RateLimiter
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port           string                  // порт для запуска сервера
	Runner         *rewind.Runner          // цикл отладчика
	Sim            host.Control            // nil отключает /api/sim
	Archive        Archive                 // nil отключает архив
	Recordings     Recordings              // сессия анализа для архива
	Process        *metrics.ProcessMetrics // метрики процесса для /health
	MetricsHandler http.Handler            // nil отключает /metrics
	Registerer     prometheus.Registerer   // регистр HTTP-метрик
	Auth           *Authenticator          // nil отключает авторизацию
	ServiceName    string
	RequestTimeout time.Duration
	StreamInterval time.Duration           // период опроса для /api/stream
	RateLimit      float64                 // изменяющих запросов в секунду, 0 без лимита
	RateBurst      int
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8080"
	}
	if config.ServiceName == "" {
		config.ServiceName = "rewindd"
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if config.Process == nil {
		config.Process = metrics.NewProcessMetrics()
	}
	if config.StreamInterval <= 0 {
		config.StreamInterval = 100 * time.Millisecond
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.ServiceName))
	router.Use(middleware.NewRequestLogger().Handler())
	router.Use(middleware.NewPrometheusMiddleware("rest_api", config.Registerer).Handler())
	if config.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(config.MetricsHandler))
	}

	rs := &RestServer{
		router:     router,
		runner:     config.Runner,
		sim:        config.Sim,
		archive:    config.Archive,
		recordings: config.Recordings,
		process:    config.Process,
		auth:       config.Auth,
		timeout:    config.RequestTimeout,
		port:       config.Port,
		log:        logging.GetAPILogger(),

		streamInterval: config.StreamInterval,
	}
	if config.RateLimit > 0 {
		rs.rateLimit = middleware.NewRateLimiter(config.RateLimit, config.RateBurst)
	}
	rs.setupRoutes()
	rs.server = &http.Server{Addr: rs.port, Handler: rs.router, ReadHeaderTimeout: 5 * time.Second}
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)
	if rs.auth != nil {
		rs.router.POST("/api/auth/login", rs.handleLogin)
	}

	api := rs.router.Group("/api")
	if rs.auth != nil {
		api.Use(rs.jwtMiddleware(), rs.writeMiddleware())
	}
	if rs.rateLimit != nil {
		api.Use(rs.rateLimit.Handler())
	}

	api.GET("/state", rs.handleState)
	api.GET("/stream", rs.handleStream)

	playback := api.Group("/playback")
	{
		playback.POST("/play", rs.command(func(d *rewind.Debugger) bool {
			ok := d.CanPlay()
			d.Play()
			return ok
		}))
		playback.POST("/reverse", rs.command(func(d *rewind.Debugger) bool {
			ok := d.CanPlayReverse()
			d.PlayReverse()
			return ok
		}))
		playback.POST("/pause", rs.command(func(d *rewind.Debugger) bool {
			ok := d.CanPause()
			d.Pause()
			return ok
		}))
		playback.POST("/rate", rs.handleRate)
	}

	scrub := api.Group("/scrub")
	{
		scrub.POST("", rs.handleScrub)
		scrub.POST("/start", rs.command(func(d *rewind.Debugger) bool {
			ok := d.CanScrub()
			d.ScrubToStart()
			return ok
		}))
		scrub.POST("/end", rs.command(func(d *rewind.Debugger) bool {
			ok := d.CanScrub()
			d.ScrubToEnd()
			return ok
		}))
	}
	api.POST("/step", rs.handleStep)

	// Жизненный цикл живой симуляции: воспроизведение доступно только на паузе
	sim := api.Group("/sim")
	{
		sim.POST("/start", rs.simCommand(func(s host.Control) bool {
			ok := !s.IsStarted()
			s.Start()
			return ok
		}))
		sim.POST("/pause", rs.simCommand(func(s host.Control) bool {
			ok := s.IsSimulating()
			s.Pause()
			return ok
		}))
		sim.POST("/resume", rs.simCommand(func(s host.Control) bool {
			ok := s.IsStarted() && !s.IsSimulating()
			s.Resume()
			return ok
		}))
		sim.POST("/step", rs.simCommand(func(s host.Control) bool {
			ok := s.IsStarted() && !s.IsSimulating()
			s.SingleStep()
			return ok
		}))
		sim.POST("/stop", rs.simCommand(func(s host.Control) bool {
			ok := s.IsStarted()
			s.Stop()
			return ok
		}))
	}

	recording := api.Group("/recording")
	{
		recording.POST("/start", rs.command(func(d *rewind.Debugger) bool {
			ok := d.CanStartRecording()
			d.StartRecording()
			return ok
		}))
		recording.POST("/stop", rs.command(func(d *rewind.Debugger) bool {
			ok := d.CanStopRecording()
			d.StopRecording()
			return ok
		}))
	}

	api.PUT("/target", rs.handleSetTarget)
	api.DELETE("/target", rs.command(func(d *rewind.Debugger) bool {
		_, had := d.TargetActorID()
		d.ClearTarget()
		return had
	}))
	api.GET("/components", rs.handleComponents)
	api.PUT("/selection", rs.handleSelect)
	api.DELETE("/selection", rs.command(func(d *rewind.Debugger) bool {
		return d.ClearSelectedComponent()
	}))

	archive := api.Group("/archive")
	{
		archive.GET("", rs.handleArchiveList)
		archive.POST("/:index", rs.handleArchiveSave)
		archive.PUT("/:index", rs.handleArchiveLoad)
		archive.DELETE("/:index", rs.handleArchiveDelete)
	}
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	Message   string    `json:"message"`
	ReadOnly  bool      `json:"read_only,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// StateResponse ответ на команду: выполнена ли она и состояние после неё
type StateResponse struct {
	Applied bool         `json:"applied"`
	State   rewind.Stats `json:"state"`
}

// RateRequest запрос скорости воспроизведения
type RateRequest struct {
	Rate float64 `json:"rate" binding:"required"`
}

// ScrubRequest запрос перемотки
type ScrubRequest struct {
	Time *float64 `json:"time" binding:"required"`
}

// StepRequest запрос шага по событиям
type StepRequest struct {
	Frames int `json:"frames" binding:"required"`
}

// ObjectRequest запрос с id объекта трассы
type ObjectRequest struct {
	ObjectID uint64 `json:"object_id" binding:"required"`
}

// handleLogin обрабатывает запрос на вход
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	token, claims, err := rs.auth.Login(req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		rs.log.Warn("🔒 Неудачный вход оператора %q", req.Username)
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Ошибка генерации токена",
		})
		return
	}

	rs.log.Info("🔑 Оператор %s вошёл (read_only=%v)", claims.Operator, claims.ReadOnly)
	c.JSON(http.StatusOK, LoginResponse{
		Success:   true,
		Token:     token,
		Message:   "Успешная авторизация",
		ReadOnly:  claims.ReadOnly,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: message})
}

// do выполняет fn на потоке тика с таймаутом запроса
func (rs *RestServer) do(c *gin.Context, fn func(d *rewind.Debugger)) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), rs.timeout)
	defer cancel()

	err := rs.runner.Do(ctx, fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, rewind.ErrRunnerStopped):
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "Отладчик остановлен"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, GenericResponse{Success: false, Message: "Отладчик не ответил вовремя"})
	default:
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
	}
	return false
}

// apply выполняет команду и отвечает состоянием после неё
func (rs *RestServer) apply(c *gin.Context, fn func(d *rewind.Debugger) bool) {
	var applied bool
	if !rs.do(c, func(d *rewind.Debugger) { applied = fn(d) }) {
		return
	}
	c.JSON(http.StatusOK, StateResponse{Applied: applied, State: rs.runner.Stats()})
}

func (rs *RestServer) command(fn func(d *rewind.Debugger) bool) gin.HandlerFunc {
	return func(c *gin.Context) { rs.apply(c, fn) }
}

// simCommand выполняет команду симуляции на потоке тика. Слушатели
// жизненного цикла (отладчик) вызываются там же.
func (rs *RestServer) simCommand(fn func(s host.Control) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rs.sim == nil {
			c.JSON(http.StatusNotImplemented, GenericResponse{Success: false, Message: "Симуляция не подключена"})
			return
		}
		rs.apply(c, func(*rewind.Debugger) bool { return fn(rs.sim) })
	}
}

// handleHealth отдаёт статус процесса и цикла отладчика
func (rs *RestServer) handleHealth(c *gin.Context) {
	stats := rs.runner.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"time":       time.Now().Unix(),
		"ticks":      stats.Ticks,
		"updated_at": stats.UpdatedAt,
		"process":    rs.process.Snapshot(),
	})
}

func (rs *RestServer) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, rs.runner.Stats())
}

func (rs *RestServer) handleRate(c *gin.Context) {
	var req RateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Rate <= 0 {
		badRequest(c, "Скорость должна быть положительной")
		return
	}
	rs.apply(c, func(d *rewind.Debugger) bool {
		d.SetPlaybackRate(req.Rate)
		return true
	})
}

func (rs *RestServer) handleScrub(c *gin.Context) {
	var req ScrubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}
	rs.apply(c, func(d *rewind.Debugger) bool {
		ok := d.CanScrub()
		d.ScrubToTime(*req.Time)
		return ok
	})
}

func (rs *RestServer) handleStep(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}
	rs.apply(c, func(d *rewind.Debugger) bool {
		ok := d.CanScrub()
		d.Step(req.Frames)
		return ok
	})
}

func (rs *RestServer) handleSetTarget(c *gin.Context) {
	var req ObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}
	rs.apply(c, func(d *rewind.Debugger) bool {
		return d.SetTargetActor(req.ObjectID)
	})
}

func (rs *RestServer) handleSelect(c *gin.Context) {
	var req ObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}
	rs.apply(c, func(d *rewind.Debugger) bool {
		return d.SetSelectedComponent(req.ObjectID)
	})
}

// handleComponents дерево компонентов цели. Сериализуется на потоке тика,
// пока дерево не меняется.
func (rs *RestServer) handleComponents(c *gin.Context) {
	var data []byte
	var err error
	if !rs.do(c, func(d *rewind.Debugger) {
		components := d.DebugComponents()
		if components == nil {
			data = []byte("[]")
			return
		}
		data, err = json.Marshal(components)
	}) {
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (rs *RestServer) archiveIndex(c *gin.Context) (int, bool) {
	if rs.archive == nil || rs.recordings == nil {
		c.JSON(http.StatusNotImplemented, GenericResponse{Success: false, Message: "Архив записей отключён"})
		return 0, false
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index <= 0 {
		badRequest(c, "Неверный индекс записи")
		return 0, false
	}
	return index, true
}

func (rs *RestServer) handleArchiveList(c *gin.Context) {
	if rs.archive == nil {
		c.JSON(http.StatusNotImplemented, GenericResponse{Success: false, Message: "Архив записей отключён"})
		return
	}
	list, err := rs.archive.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	if list == nil {
		list = []storage.ArchiveInfo{}
	}
	c.JSON(http.StatusOK, list)
}

// handleArchiveSave сохраняет запись из сессии анализа в архив
func (rs *RestServer) handleArchiveSave(c *gin.Context) {
	index, ok := rs.archiveIndex(c)
	if !ok {
		return
	}

	stats := rs.runner.Stats()
	if stats.Recording && stats.RecordingIndex == index {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: "Запись ещё идёт"})
		return
	}
	sessionID := ""
	if stats.RecordingIndex == index {
		sessionID = stats.SessionID
	}

	archive, err := rs.recordings.Export(index, sessionID)
	if errors.Is(err, analysis.ErrRecordingNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	info, err := rs.archive.Save(c.Request.Context(), archive)
	if err != nil {
		rs.log.Error("Сохранение записи %d: %v", index, err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Запись сохранена", Data: info})
}

// handleArchiveLoad загружает запись из архива и делает её текущей
func (rs *RestServer) handleArchiveLoad(c *gin.Context) {
	index, ok := rs.archiveIndex(c)
	if !ok {
		return
	}

	archive, err := rs.archive.Load(c.Request.Context(), index)
	if errors.Is(err, storage.ErrArchiveNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	var applied bool
	if !rs.do(c, func(d *rewind.Debugger) {
		if d.IsRecording() || d.IsSimulating() {
			return
		}
		if err = rs.recordings.Import(archive); err != nil {
			return
		}
		applied = d.OpenRecording(archive.RecordingIndex, archive.SessionID)
	}) {
		return
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	if !applied {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: "Запись нельзя открыть во время симуляции", Data: rs.runner.Stats()})
		return
	}
	c.JSON(http.StatusOK, StateResponse{Applied: true, State: rs.runner.Stats()})
}

func (rs *RestServer) handleArchiveDelete(c *gin.Context) {
	index, ok := rs.archiveIndex(c)
	if !ok {
		return
	}
	err := rs.archive.Delete(c.Request.Context(), index)
	if errors.Is(err, storage.ErrArchiveNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Запись удалена"})
}

// Handler HTTP-обработчик сервера
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает сервер и блокируется до остановки
func (rs *RestServer) Start() error {
	rs.log.Info("🌐 REST API слушает %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}
