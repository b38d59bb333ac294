package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/achievements/internal/achievement"
	"github.com/FairForge/achievements/internal/config"
	"github.com/FairForge/achievements/internal/gateway"
	"github.com/FairForge/achievements/internal/metadata"
	"github.com/FairForge/achievements/internal/metrics"
	"github.com/FairForge/achievements/internal/objstore"
	"github.com/FairForge/achievements/internal/objstore/objstoretest"
)

const testBucket = "achievements"

type testEnv struct {
	server *Server
	fake   *objstoretest.Fake
	index  *metadata.Index
	health *HealthChecker
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}

	fake := objstoretest.New(t, testBucket)
	client := objstore.New(fake, fake, testBucket, zap.NewNop())
	index := metadata.NewIndex()
	m := metrics.New()

	gw, err := gateway.New(client, index, zap.NewNop(), gateway.WithMetrics(m))
	require.NoError(t, err)

	health := NewHealthChecker(zap.NewNop())
	health.RegisterCheck("object_store", client.HealthCheck)

	return &testEnv{
		server: NewServer(cfg, zap.NewNop(), gw, health, m),
		fake:   fake,
		index:  index,
		health: health,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func achievementPath(owner, name string) string {
	return fmt.Sprintf("/api/v1/owners/%s/achievements/%s", owner, name)
}

func TestListArtifacts(t *testing.T) {
	t.Run("unknown owner yields an empty list", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodGet, "/api/v1/owners/u1/achievements", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"owner_id":"u1","count":0,"achievements":[]}`, rec.Body.String())
	})

	t.Run("returns registered records sorted by name", func(t *testing.T) {
		env := newTestEnv(t)
		for _, name := range []string{"b", "a"} {
			_, err := env.index.Put(achievement.Meta{OwnerID: "u1", Name: name, FileName: name + ".png", FileType: "image/png"})
			require.NoError(t, err)
		}

		rec := env.do(t, http.MethodGet, "/api/v1/owners/u1/achievements", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp ListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		require.Len(t, resp.Achievements, 2)
		assert.Equal(t, "a", resp.Achievements[0].Name)
		assert.Equal(t, "b", resp.Achievements[1].Name)
	})

	t.Run("blank owner is rejected", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodGet, "/api/v1/owners/%20/achievements", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidArgument, decodeError(t, rec).Code)
	})
}

func TestRegisterAndLookup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, achievementPath("u1", "trophy"), map[string]any{
		"file_name":  "trophy.png",
		"file_type":  "image/png",
		"file_size":  2048,
		"created_at": "2024-05-01T10:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stored achievement.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, achievement.Meta{
		Name:      "trophy",
		OwnerID:   "u1",
		FileName:  "trophy.png",
		FileType:  "image/png",
		FileSize:  2048,
		CreatedAt: "2024-05-01T10:00:00Z",
	}, stored)

	rec = env.do(t, http.MethodGet, achievementPath("u1", "trophy"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got achievement.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, stored, got)
}

func TestRegisterMetaOptionalFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, achievementPath("u1", "cert"), map[string]any{"file_size": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stored achievement.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "cert", stored.Name)
	assert.Equal(t, "u1", stored.OwnerID)
	assert.Equal(t, int64(5), stored.FileSize)
	assert.Empty(t, stored.FileName)
	assert.Empty(t, stored.FileType)
	assert.NotEmpty(t, stored.CreatedAt)

	got, ok := env.index.Get("u1", "cert")
	require.True(t, ok)
	assert.Equal(t, stored, got)
}

func TestRegisterMetaRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"negative size", map[string]any{"file_name": "a", "file_type": "t", "file_size": -1}},
		{"size is not an integer", map[string]any{"file_name": "a", "file_type": "t", "file_size": "big"}},
		{"unknown field", map[string]any{"file_name": "a", "file_type": "t", "file_size": 1, "extra": true}},
		{"name mismatch", map[string]any{"name": "other", "file_name": "a", "file_type": "t", "file_size": 1}},
		{"owner mismatch", map[string]any{"owner_id": "u2", "file_name": "a", "file_type": "t", "file_size": 1}},
		{"malformed JSON", `{"file_name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPut, achievementPath("u1", "trophy"), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, CodeInvalidArgument, decodeError(t, rec).Code)
			assert.Equal(t, 0, env.index.Len())
		})
	}
}

func TestLookupMissingArtifact(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, achievementPath("u1", "nope"), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Code)
}

func TestUploadGrantRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, achievementPath("u1", "trophy")+"/upload-grant", map[string]string{
		"file_name": "trophy.png",
		"file_type": "image/png",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var grant objstore.AccessGrant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	assert.Equal(t, objstore.MethodPut, grant.Method)
	assert.Equal(t, "image/png", grant.RequiredHeaders["Content-Type"])
	assert.Positive(t, grant.ExpiresIn)

	req, err := http.NewRequest(http.MethodPut, grant.URL, strings.NewReader("png-bytes"))
	require.NoError(t, err)
	for k, v := range grant.RequiredHeaders {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, ok := env.fake.Object(testBucket, objstore.ArtifactKey("u1", "trophy"))
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(data))

	// No metadata until the caller registers it.
	assert.Equal(t, 0, env.index.Len())
}

func TestUploadGrantEmptyBodyUsesDefaultType(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, achievementPath("u1", "trophy")+"/upload-grant", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var grant objstore.AccessGrant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	assert.Equal(t, gateway.DefaultContentType, grant.RequiredHeaders["Content-Type"])
}

func TestDownloadGrant(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Put(testBucket, objstore.ArtifactKey("u1", "trophy"), []byte("stored"))

	rec := env.do(t, http.MethodGet, achievementPath("u1", "trophy")+"/download-grant", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var grant objstore.AccessGrant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	assert.Equal(t, objstore.MethodGet, grant.Method)
	assert.Empty(t, grant.RequiredHeaders)

	resp, err := http.Get(grant.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stored", string(body))
}

func TestDeleteArtifact(t *testing.T) {
	t.Run("removes object and record", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.Put(testBucket, objstore.ArtifactKey("u1", "trophy"), []byte("x"))
		_, err := env.index.Put(achievement.Meta{OwnerID: "u1", Name: "trophy"})
		require.NoError(t, err)

		rec := env.do(t, http.MethodDelete, achievementPath("u1", "trophy"), nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		_, ok := env.fake.Object(testBucket, objstore.ArtifactKey("u1", "trophy"))
		assert.False(t, ok)
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, achievementPath("u1", "trophy"), nil).Code)
	})

	t.Run("missing artifact succeeds", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodDelete, achievementPath("u1", "ghost"), nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("storage failure keeps the record and hides details", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.index.Put(achievement.Meta{OwnerID: "u1", Name: "trophy"})
		require.NoError(t, err)
		env.fake.FailWith(objstoretest.OpDeleteObject, errors.New("disk on fire"))

		rec := env.do(t, http.MethodDelete, achievementPath("u1", "trophy"), nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, CodeInternal, resp.Code)
		assert.NotContains(t, resp.Message, "disk on fire")
		_, ok := env.index.Get("u1", "trophy")
		assert.True(t, ok)
	})
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	t.Run("propagates caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, achievementPath("u1", "nope"), nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()

		env.server.Handler().ServeHTTP(rec, req)

		assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
		assert.Equal(t, "req-123", decodeError(t, rec).RequestID)
	})

	t.Run("generates one when absent", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/owners/u1/achievements", nil)

		assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	})
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.RateLimit = 1
		c.Server.RateBurst = 2
	})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/api/v1/owners/u1/achievements", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/owners/u1/achievements", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeResourceExhausted, decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Probes are not limited.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/version", nil).Code)
}

func TestGzipResponses(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 40; i++ {
		_, err := env.index.Put(achievement.Meta{
			OwnerID:  "u1",
			Name:     fmt.Sprintf("achievement-%02d", i),
			FileName: "badge.png",
			FileType: "image/png",
			FileSize: 1024,
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/owners/u1/achievements", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var resp ListResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&resp))
	assert.Equal(t, 40, resp.Count)
}

func TestRouting(t *testing.T) {
	env := newTestEnv(t)

	t.Run("unknown route", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v2/nothing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, CodeNotFound, resp.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		assert.Equal(t, rec.Header().Get("X-Request-ID"), resp.RequestID)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, achievementPath("u1", "trophy"), nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, CodeMethodNotAllowed, resp.Code)
		assert.NotEmpty(t, resp.RequestID)
	})

	t.Run("unrouted requests are counted without raw paths", func(t *testing.T) {
		env := newTestEnv(t)
		env.do(t, http.MethodGet, "/api/v2/nothing", nil)
		env.do(t, http.MethodGet, "/api/v2/other", nil)

		body := env.do(t, http.MethodGet, "/metrics", nil).Body.String()

		assert.Contains(t, body, `achievements_http_requests_total{method="GET",route="unmatched",status="404"} 2`)
		assert.NotContains(t, body, "/api/v2/nothing")
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("healthy store", func(t *testing.T) {
		env := newTestEnv(t)

		for _, path := range []string{"/health", "/ready"} {
			rec := env.do(t, http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, rec.Code, path)

			var report HealthReport
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, HealthStatusHealthy, report.Status)
			assert.Equal(t, HealthStatusHealthy, report.Checks["object_store"].Status)
			assert.Equal(t, Version, report.Version)
		}
	})

	t.Run("unreachable store fails readiness only", func(t *testing.T) {
		env := newTestEnv(t)
		env.fake.FailWith(objstoretest.OpHeadBucket, errors.New("connection refused"))

		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)

		rec := env.do(t, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var report HealthReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, HealthStatusUnhealthy, report.Status)
		assert.Equal(t, HealthStatusUnhealthy, report.Checks["object_store"].Status)
		assert.Contains(t, report.Checks["object_store"].Error, "connection refused")
	})

	t.Run("version", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodGet, "/version", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), Version)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/owners/u1/achievements", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `achievements_http_requests_total{method="GET",route="/api/v1/owners/{owner}/achievements",status="200"} 1`)
	assert.Contains(t, body, `achievements_gateway_operations_total{op="list_artifacts",result="ok"} 1`)
}

func TestRequestTimeoutReachesGateway(t *testing.T) {
	gw := &deadlineGateway{}
	cfg := config.Default()
	srv := NewServer(cfg, zap.NewNop(), gw, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, achievementPath("u1", "trophy"), nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, gw.sawDeadline)
}

// deadlineGateway records whether the request context carried a deadline.
type deadlineGateway struct {
	Gateway
	sawDeadline bool
}

func (d *deadlineGateway) DeleteArtifact(ctx context.Context, _, _ string) error {
	_, d.sawDeadline = ctx.Deadline()
	return nil
}
