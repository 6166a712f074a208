package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/evalcore/internal/testutil"
	"github.com/evalforge/evalcore/pkg/api"
	"github.com/evalforge/evalcore/pkg/database"
	"github.com/evalforge/evalcore/pkg/notify"
	"github.com/evalforge/evalcore/pkg/provider"
	"github.com/evalforge/evalcore/pkg/queue"
	"github.com/evalforge/evalcore/pkg/run"
	"github.com/evalforge/evalcore/pkg/store"
)

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	pool := testutil.SetupTestDatabase(t)
	dbClient := &database.Client{Pool: pool}

	runs := store.NewRunStore(pool)
	definitions := store.NewDefinitionStore(pool)
	scenarios := store.NewScenarioStore(pool)
	transcripts := store.NewTranscriptStore(pool)
	probeResults := store.NewProbeResultStore(pool)

	queueStore := queue.NewStore(pool)
	registry := provider.New(nil, time.Minute)
	router := queue.NewRouter(registry)
	enqueuer := queue.NewRoutedEnqueuer(queueStore, router)

	controller := run.NewController(runs, definitions, scenarios, transcripts, probeResults, queueStore, router, enqueuer, registry, notify.NewNoop())
	return api.NewServer(dbClient, runs, controller)
}

func TestServer_Health_ReportsHealthyWhenDatabaseReachable(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_GetRun_ReturnsNotFoundForUnknownRun(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Metrics_ExposesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}
