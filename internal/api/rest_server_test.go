package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/extensions/poses"
	"github.com/annel0/rewind/internal/rewind"
	"github.com/annel0/rewind/internal/sim"
	"github.com/annel0/rewind/internal/storage"
	"github.com/annel0/rewind/internal/vec"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *RestServer
	runner *rewind.Runner
	world  *sim.World
	scene  *sceneLog
}

// sceneLog сцена мира, которая запоминает записи трансформов отладчиком
type sceneLog struct {
	*sim.World

	mu   sync.Mutex
	sets map[uint64][]vec.Transform
}

func (s *sceneLog) SetObjectTransform(id uint64, t vec.Transform) bool {
	s.mu.Lock()
	s.sets[id] = append(s.sets[id], t)
	s.mu.Unlock()
	return s.World.SetObjectTransform(id, t)
}

func (s *sceneLog) last(id uint64) (vec.Transform, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sets := s.sets[id]
	if len(sets) == 0 {
		return vec.Transform{}, 0
	}
	return sets[len(sets)-1], len(sets)
}

func newTestEnv(t *testing.T, auth *Authenticator, opts ...func(*Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	session := analysis.NewMemorySession()
	world := sim.NewWorld(session, sim.Config{Seed: 1, Actors: 2})
	scene := &sceneLog{World: world, sets: make(map[uint64][]vec.Transform)}
	registry := rewind.NewExtensionRegistry()
	registry.Register(poses.New())
	d := rewind.New(rewind.Options{
		Host:         world,
		Channels:     world,
		Scene:        scene,
		Session:      session,
		Registry:     registry,
		ChannelNames: []string{sim.ChannelObject, sim.ChannelFrame, sim.ChannelAnimation, sim.ChannelPoseSearch},
	})
	world.AddListener(d)

	runner := rewind.NewRunner(d, world, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go runner.Run(ctx)

	archive, err := storage.NewTraceArchive(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	cfg := Config{
		Runner:     runner,
		Sim:        world,
		Archive:    archive,
		Recordings: session,
		Registerer: prometheus.NewRegistry(),
		Auth:       auth,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	server := NewRestServer(cfg)
	return &testEnv{server: server, runner: runner, world: world, scene: scene}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// onTick выполняет fn на потоке тика
func (e *testEnv) onTick(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, e.runner.Do(context.Background(), func(*rewind.Debugger) { fn() }))
}

type stateResponse struct {
	Applied bool                   `json:"applied"`
	State   map[string]interface{} `json:"state"`
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) stateResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRestServer_Health(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "process")
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
}

func TestRestServer_RecordScrubAndArchive(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := decodeState(t, env.request(t, http.MethodPost, "/api/recording/start", nil, ""))
	assert.False(t, resp.Applied, "Без симуляции запись не начинается")

	env.onTick(t, env.world.Start)
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/recording/start", nil, ""))
	require.True(t, resp.Applied)
	assert.Equal(t, 1.0, resp.State["recording_index"])

	require.Eventually(t, func() bool {
		return env.runner.Stats().RecordingDuration > 0.2
	}, 5*time.Second, 10*time.Millisecond)

	heroID := env.world.Actors()[0]
	resp = decodeState(t, env.request(t, http.MethodPut, "/api/target", ObjectRequest{ObjectID: heroID}, ""))
	assert.True(t, resp.Applied)

	rec := env.request(t, http.MethodGet, "/api/components", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var components []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &components))
	require.Len(t, components, 1)
	assert.Equal(t, "Hero", components[0]["object_name"])

	env.onTick(t, env.world.Pause)
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/recording/stop", nil, ""))
	require.True(t, resp.Applied)
	duration := resp.State["recording_duration"].(float64)
	assert.Greater(t, duration, 0.2)

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/scrub", map[string]float64{"time": 0.1}, ""))
	assert.True(t, resp.Applied)
	assert.Equal(t, 0.1, resp.State["scrub_time"])

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/scrub/end", nil, ""))
	assert.Equal(t, duration, resp.State["scrub_time"])

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/step", StepRequest{Frames: -2}, ""))
	assert.True(t, resp.Applied)
	assert.Less(t, resp.State["scrub_time"].(float64), duration)

	rec = env.request(t, http.MethodPost, "/api/playback/rate", RateRequest{Rate: -1}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/playback/rate", RateRequest{Rate: 2}, ""))
	assert.Equal(t, 2.0, resp.State["playback_rate"])

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/playback/reverse", nil, ""))
	assert.True(t, resp.Applied)
	assert.Equal(t, "play_reverse", resp.State["control_state"])
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/playback/pause", nil, ""))
	assert.Equal(t, "pause", resp.State["control_state"])

	// Архив
	rec = env.request(t, http.MethodPost, "/api/archive/1", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.request(t, http.MethodGet, "/api/archive", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []storage.ArchiveInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].RecordingIndex)
	assert.NotEmpty(t, list[0].SessionID)

	resp = decodeState(t, env.request(t, http.MethodPut, "/api/archive/1", nil, ""))
	assert.True(t, resp.Applied)
	assert.Equal(t, 0.0, resp.State["scrub_time"], "Открытая запись начинается с нуля")
	assert.InDelta(t, duration, resp.State["recording_duration"].(float64), 1e-9)

	assert.Equal(t, http.StatusNotFound, env.request(t, http.MethodPut, "/api/archive/9", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.request(t, http.MethodPost, "/api/archive/9", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.request(t, http.MethodPost, "/api/archive/x", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodDelete, "/api/archive/1", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.request(t, http.MethodDelete, "/api/archive/1", nil, "").Code)
}

func TestRestServer_SelectionAndTarget(t *testing.T) {
	env := newTestEnv(t, nil)
	env.onTick(t, env.world.Start)

	heroID := env.world.Actors()[0]
	meshID, ok := env.world.MeshComponent(heroID)
	require.True(t, ok)

	assert.Equal(t, http.StatusBadRequest, env.request(t, http.MethodPut, "/api/target", map[string]string{}, "").Code)
	resp := decodeState(t, env.request(t, http.MethodPut, "/api/target", ObjectRequest{ObjectID: 424242}, ""))
	assert.False(t, resp.Applied, "Неизвестный объект")

	decodeState(t, env.request(t, http.MethodPut, "/api/target", ObjectRequest{ObjectID: heroID}, ""))
	resp = decodeState(t, env.request(t, http.MethodPut, "/api/selection", ObjectRequest{ObjectID: meshID}, ""))
	assert.True(t, resp.Applied)
	assert.Equal(t, float64(meshID), resp.State["selected_id"])

	resp = decodeState(t, env.request(t, http.MethodDelete, "/api/selection", nil, ""))
	assert.True(t, resp.Applied)
	assert.NotContains(t, resp.State, "selected_id")

	resp = decodeState(t, env.request(t, http.MethodDelete, "/api/target", nil, ""))
	assert.True(t, resp.Applied)
	assert.Equal(t, false, resp.State["has_target"])

	rec := env.request(t, http.MethodGet, "/api/components", nil, "")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRestServer_StoppedRunner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := rewind.New(rewind.Options{})
	runner := rewind.NewRunner(d, nil, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner.Run(ctx)

	server := NewRestServer(Config{Runner: runner, Registerer: prometheus.NewRegistry()})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/playback/play", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRestServer_JWT(t *testing.T) {
	secret, err := GenerateSecureSecret()
	require.NoError(t, err)
	auth, err := NewAuthenticator(secret)
	require.NoError(t, err)
	env := newTestEnv(t, auth)

	assert.Equal(t, http.StatusUnauthorized, env.request(t, http.MethodGet, "/api/state", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.request(t, http.MethodGet, "/api/state", nil, "garbage").Code)
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/health", nil, "").Code, "Health без авторизации")

	viewer, err := auth.Issue("viewer", true, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/api/state", nil, viewer).Code)
	assert.Equal(t, http.StatusForbidden, env.request(t, http.MethodPost, "/api/playback/pause", nil, viewer).Code)

	operator, err := auth.Issue("operator", false, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodPost, "/api/playback/pause", nil, operator).Code)

	expired, err := auth.Issue("operator", false, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, env.request(t, http.MethodGet, "/api/state", nil, expired).Code)

	other, err := GenerateSecureSecret()
	require.NoError(t, err)
	foreign, err := NewAuthenticator(other)
	require.NoError(t, err)
	token, err := foreign.Issue("operator", false, time.Hour)
	require.NoError(t, err)
	_, err = auth.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewAuthenticator("c2hvcnQ=")
	assert.Error(t, err, "Короткий секрет отклоняется")
}

func TestRestServer_Login(t *testing.T) {
	secret, err := GenerateSecureSecret()
	require.NoError(t, err)
	auth, err := NewAuthenticator(secret)
	require.NoError(t, err)

	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	auth.AddOperator("alice", hash, false)
	viewerHash, err := HashPassword("look-only")
	require.NoError(t, err)
	auth.AddOperator("bob", viewerHash, true)

	env := newTestEnv(t, auth)

	login := func(user, pass string) (*httptest.ResponseRecorder, LoginResponse) {
		rec := env.request(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: user, Password: pass}, "")
		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec, resp
	}

	rec, resp := login("alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = login("mallory", "s3cret-pass")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp = login("alice", "s3cret-pass")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	assert.False(t, resp.ReadOnly)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodPost, "/api/playback/pause", nil, resp.Token).Code)

	rec, resp = login("bob", "look-only")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.ReadOnly)
	assert.Equal(t, http.StatusForbidden, env.request(t, http.MethodPost, "/api/playback/pause", nil, resp.Token).Code)

	bad := env.request(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice"}, "")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("pass")
	require.NoError(t, err)
	assert.NotEqual(t, "pass", hash)
	assert.True(t, CheckPassword(hash, "pass"))
	assert.False(t, CheckPassword(hash, "other"))
	assert.False(t, CheckPassword("not-a-hash", "pass"))
}

func TestRestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 2
	})

	assert.Equal(t, http.StatusOK, env.request(t, http.MethodPost, "/api/playback/pause", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodPost, "/api/playback/pause", nil, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.request(t, http.MethodPost, "/api/playback/pause", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/api/state", nil, "").Code, "GET не ограничивается")
}

func TestRestServer_Stream(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *Config) {
		cfg.StreamInterval = 5 * time.Millisecond
	})
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var first StreamMessage
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, "state", first.Type)
	assert.False(t, first.State.Simulating)

	env.onTick(t, func() { env.world.Start() })

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg StreamMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.State != nil && msg.State.Simulating {
			break
		}
	}
}

func TestRestServer_StreamRequiresToken(t *testing.T) {
	secret, err := GenerateSecureSecret()
	require.NoError(t, err)
	auth, err := NewAuthenticator(secret)
	require.NoError(t, err)
	env := newTestEnv(t, auth)
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := auth.Issue("viewer", true, time.Hour)
	require.NoError(t, err)
	ws, _, err := websocket.DefaultDialer.Dial(url+"?access_token="+token, nil)
	require.NoError(t, err)
	defer ws.Close()

	var msg StreamMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)
}

func TestRestServer_SimControlEnablesPlayback(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := decodeState(t, env.request(t, http.MethodPost, "/api/sim/pause", nil, ""))
	assert.False(t, resp.Applied, "Симуляция ещё не запущена")

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/sim/start", nil, ""))
	require.True(t, resp.Applied)
	assert.Equal(t, true, resp.State["simulating"])
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/sim/start", nil, ""))
	assert.False(t, resp.Applied, "Повторный старт ничего не делает")

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/recording/start", nil, ""))
	require.True(t, resp.Applied)
	heroID := env.world.Actors()[0]
	resp = decodeState(t, env.request(t, http.MethodPut, "/api/target", ObjectRequest{ObjectID: heroID}, ""))
	require.True(t, resp.Applied)

	require.Eventually(t, func() bool {
		return env.runner.Stats().RecordingDuration > 0.3
	}, 5*time.Second, 10*time.Millisecond)

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/sim/pause", nil, ""))
	require.True(t, resp.Applied)
	assert.Equal(t, false, resp.State["simulating"])
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/recording/stop", nil, ""))
	require.True(t, resp.Applied)

	meshID, ok := env.world.MeshComponent(heroID)
	require.True(t, ok)
	var live vec.Transform
	env.onTick(t, func() { live, _ = env.world.ObjectTransform(meshID) })

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/scrub", map[string]float64{"time": 0.05}, ""))
	require.True(t, resp.Applied, "На паузе симуляции перемотка доступна")
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/playback/play", nil, ""))
	require.True(t, resp.Applied)
	assert.Equal(t, "play", resp.State["control_state"])

	require.Eventually(t, func() bool {
		pose, n := env.scene.last(meshID)
		return n > 0 && pose != live
	}, 5*time.Second, 10*time.Millisecond, "Воспроизведение ставит записанную позу")

	var resets int
	require.NoError(t, env.runner.Do(context.Background(), func(d *rewind.Debugger) { resets = d.PoseResets().Len() }))
	assert.Greater(t, resets, 0)

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/sim/resume", nil, ""))
	require.True(t, resp.Applied)
	assert.Equal(t, true, resp.State["simulating"])

	restored, _ := env.scene.last(meshID)
	assert.Equal(t, live, restored, "Возобновление возвращает живой трансформ")
	require.NoError(t, env.runner.Do(context.Background(), func(d *rewind.Debugger) { resets = d.PoseResets().Len() }))
	assert.Equal(t, 0, resets)

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/playback/play", nil, ""))
	assert.False(t, resp.Applied, "Во время симуляции воспроизведение недоступно")

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/sim/step", nil, ""))
	assert.False(t, resp.Applied, "Шаг только на паузе")
	decodeState(t, env.request(t, http.MethodPost, "/api/sim/pause", nil, ""))
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/sim/step", nil, ""))
	assert.True(t, resp.Applied)
	assert.Equal(t, false, resp.State["simulating"])

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/sim/stop", nil, ""))
	assert.True(t, resp.Applied)
	resp = decodeState(t, env.request(t, http.MethodPost, "/api/sim/stop", nil, ""))
	assert.False(t, resp.Applied)
}

func TestRestServer_SimControlDisabled(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *Config) { cfg.Sim = nil })
	assert.Equal(t, http.StatusNotImplemented, env.request(t, http.MethodPost, "/api/sim/start", nil, "").Code)
}

func TestRestServer_StreamNotifications(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *Config) {
		cfg.StreamInterval = time.Hour
	})
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var first StreamMessage
	require.NoError(t, ws.ReadJSON(&first))
	require.Equal(t, "state", first.Type)

	readUntil := func(match func(StreamMessage) bool) StreamMessage {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var msg StreamMessage
			require.NoError(t, ws.ReadJSON(&msg))
			if match(msg) {
				return msg
			}
		}
	}
	isCursor := func(reverse bool) func(StreamMessage) bool {
		return func(msg StreamMessage) bool {
			return msg.Type == rewind.NotificationTrackCursor && msg.Reverse != nil && *msg.Reverse == reverse
		}
	}

	decodeState(t, env.request(t, http.MethodPost, "/api/sim/start", nil, ""))
	decodeState(t, env.request(t, http.MethodPost, "/api/recording/start", nil, ""))

	// Во время записи позиция следует за длительностью
	readUntil(isCursor(false))

	resp := decodeState(t, env.request(t, http.MethodPut, "/api/target", ObjectRequest{ObjectID: env.world.Actors()[0]}, ""))
	require.True(t, resp.Applied)
	msg := readUntil(func(msg StreamMessage) bool { return msg.Type == rewind.NotificationComponentsChanged })
	assert.Nil(t, msg.Reverse)
	assert.Nil(t, msg.State)

	require.Eventually(t, func() bool {
		return env.runner.Stats().RecordingDuration > 0.1
	}, 5*time.Second, 10*time.Millisecond)
	decodeState(t, env.request(t, http.MethodPost, "/api/sim/pause", nil, ""))
	decodeState(t, env.request(t, http.MethodPost, "/api/recording/stop", nil, ""))

	resp = decodeState(t, env.request(t, http.MethodPost, "/api/scrub/start", nil, ""))
	require.True(t, resp.Applied)
	readUntil(isCursor(true))
}
