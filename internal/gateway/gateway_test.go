package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retina/internal/config"
	"retina/internal/mirror"
	"retina/internal/modelcache"
	"retina/internal/registry"
	"retina/internal/store"
	"retina/internal/vision"
)

func testImageB64(t *testing.T, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestGateway(t *testing.T, workers int) (*Gateway, *registry.Registry) {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cache := modelcache.New(5, 6, time.Hour)
	reg := registry.New(s, cache, vision.NewHistogram(48), nil)

	cfg := config.Default()
	cfg.Workers = workers
	return New(cfg, reg, nil, nil), reg
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPredictUnknownModelReturns404(t *testing.T) {
	g, _ := newTestGateway(t, 1)

	rec := doJSON(t, g.Handler(), http.MethodPost, "/api/predict", map[string]interface{}{
		"description": "never trained",
		"images":      []string{testImageB64(t, color.RGBA{R: 255, A: 255})},
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictValidation(t *testing.T) {
	g, _ := newTestGateway(t, 1)
	h := g.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/predict", map[string]interface{}{
		"images": []string{testImageB64(t, color.RGBA{A: 255})},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/predict", map[string]interface{}{
		"description": "d",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/predict", map[string]interface{}{
		"description": "d",
		"images":      []string{"%%% not base64 %%%"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/predict", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTrainThenPredictRoundTrip(t *testing.T) {
	g, reg := newTestGateway(t, 1)
	h := g.Handler()
	red := testImageB64(t, color.RGBA{R: 255, A: 255})

	rec := doJSON(t, h, http.MethodPost, "/api/train", map[string]interface{}{
		"description": "red things",
		"images":      []string{red},
		"answers":     []string{"Y"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "accepted", body["status"])
	assert.NotEmpty(t, body["job_id"])

	// Training is asynchronous; wait for the model to land in the store.
	require.Eventually(t, func() bool {
		_, err := reg.ResolveDataset(context.Background(), "red things")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	rec = doJSON(t, h, http.MethodPost, "/api/predict", map[string]interface{}{
		"description": "red things",
		"images":      []string{red},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Predictions []struct {
			Label       string             `json:"label"`
			Confidences map[string]float64 `json:"confidences"`
		} `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Predictions, 1)
	assert.Equal(t, "Y", out.Predictions[0].Label)
	assert.InDelta(t, 1.0, out.Predictions[0].Confidences["Y"], 1e-9)
}

func TestTrainValidation(t *testing.T) {
	g, _ := newTestGateway(t, 1)
	h := g.Handler()
	img := testImageB64(t, color.RGBA{A: 255})

	rec := doJSON(t, h, http.MethodPost, "/api/train", map[string]interface{}{
		"description": "d",
		"images":      []string{img, img},
		"answers":     []string{"Y"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/train", map[string]interface{}{
		"description": "d",
		"images":      []string{img},
		"answers":     []string{""},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/train", map[string]interface{}{
		"description": "d",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrainCapacityExhausted(t *testing.T) {
	g, _ := newTestGateway(t, 1)

	// Occupy the single training slot so the next request is rejected.
	g.trainSlots <- struct{}{}
	defer func() { <-g.trainSlots }()

	rec := doJSON(t, g.Handler(), http.MethodPost, "/api/train", map[string]interface{}{
		"description": "d",
		"images":      []string{testImageB64(t, color.RGBA{A: 255})},
		"answers":     []string{"Y"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCategoryListAndDelete(t *testing.T) {
	g, reg := newTestGateway(t, 1)
	h := g.Handler()

	_, err := reg.Train(context.Background(), "dogs", [][]byte{mustDecode(t, testImageB64(t, color.RGBA{R: 255, A: 255}))}, []string{"Y"})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/api/category", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []interface{}{"dogs"}, body["descriptions"])

	rec = doJSON(t, h, http.MethodDelete, "/api/category", map[string]string{"description": "dogs"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/category", map[string]string{"description": "dogs"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func mustDecode(t *testing.T, b64 string) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	return raw
}

func TestSyncEndpointsWithoutMirror(t *testing.T) {
	g, _ := newTestGateway(t, 1)
	h := g.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/sync/pull", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/sync/push", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSyncPushWithoutToken(t *testing.T) {
	g, reg := newTestGateway(t, 1)
	g.config.Mirror.RemoteRoot = "http://remote.invalid/contents"
	g.syncer = mirror.NewSyncer(mirror.NewClient(""), reg.Store(), g.config.Mirror.RemoteRoot, nil)

	rec := doJSON(t, g.Handler(), http.MethodPost, "/api/sync/push", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	g, _ := newTestGateway(t, 1)
	h := g.Handler()

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["version"])

	rec = doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Contains(t, body, "service")
	assert.Contains(t, body, "cache")
}
