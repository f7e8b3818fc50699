package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/database"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/offline"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/players"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	now atomic.Int64
}

func newFakeClock() *fakeClock {
	clock := &fakeClock{}
	clock.now.Store(fixedNow.UnixNano())
	return clock
}

func (c *fakeClock) Now() time.Time {
	return time.Unix(0, c.now.Load()).UTC()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

type unreachableClient struct {
	offline atomic.Bool
	client  *http.Client
}

func (c *unreachableClient) Do(request *http.Request) (*http.Response, error) {
	if c.offline.Load() {
		return nil, io.ErrUnexpectedEOF
	}
	return c.client.Do(request)
}

type testApp struct {
	handler  http.Handler
	cache    *offline.Manager
	storage  *offline.SQLiteStorage
	realtime *RealtimeDispatcher
	client   *unreachableClient
	clock    *fakeClock
	origin   *httptest.Server
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.Copy(w, r.Body)
			return
		}
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "shell "+r.URL.Path)
		}
	}))
	t.Cleanup(origin.Close)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "app.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := newFakeClock()
	store, err := players.NewSQLiteStore(players.SQLiteStoreConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to create player store: %v", err)
	}
	realtime := NewRealtimeDispatcher()
	playerService, err := players.NewService(players.ServiceConfig{
		Store:    store,
		Notifier: progression.Notifiers{realtime},
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create player service: %v", err)
	}

	storage, err := offline.NewSQLiteStorage(db, clock.Now)
	if err != nil {
		t.Fatalf("failed to create cache storage: %v", err)
	}
	client := &unreachableClient{client: origin.Client()}
	cache, err := offline.NewManager(offline.ManagerConfig{
		Version:   offline.DefaultVersion,
		Origin:    origin.URL,
		Storage:   storage,
		Client:    client,
		Presenter: realtime,
	})
	if err != nil {
		t.Fatalf("failed to create cache manager: %v", err)
	}
	t.Cleanup(func() { _ = cache.Shutdown(context.Background()) })

	handler, err := NewHTTPHandler(Dependencies{
		PlayerService:     playerService,
		CacheManager:      cache,
		Realtime:          realtime,
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testApp{
		handler:  handler,
		cache:    cache,
		storage:  storage,
		realtime: realtime,
		client:   client,
		clock:    clock,
		origin:   origin,
	}
}

func (a *testApp) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}
