package mirror

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retina/internal/store"
)

// fakeRemote simulates the contents endpoint: raw blob downloads under
// /raw/, a directory listing at /contents, and blob writes via PUT.
type fakeRemote struct {
	mu    sync.Mutex
	blobs map[string]string // name -> body
	shas  map[string]string // name -> content id
	puts  []string          // names written, in order
	srv   *httptest.Server

	failPuts map[string]bool // names whose PUT returns 500
}

func newFakeRemote() *fakeRemote {
	f := &fakeRemote{
		blobs:    make(map[string]string),
		shas:     make(map[string]string),
		failPuts: make(map[string]bool),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/raw/"):
		name := strings.TrimPrefix(r.URL.Path, "/raw/")
		body, ok := f.blobs[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)

	case r.Method == http.MethodGet && r.URL.Path == "/contents":
		type item struct {
			Name        string `json:"name"`
			SHA         string `json:"sha"`
			DownloadURL string `json:"download_url"`
		}
		var listing []item
		for name := range f.blobs {
			listing = append(listing, item{
				Name:        name,
				SHA:         f.shas[name],
				DownloadURL: f.srv.URL + "/raw/" + name,
			})
		}
		json.NewEncoder(w).Encode(listing)

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/contents/"):
		name := strings.TrimPrefix(r.URL.Path, "/contents/")
		if f.failPuts[name] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var payload struct {
			Content string `json:"content"`
			SHA     string `json:"sha"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Updates must carry the current content id.
		if existing, ok := f.shas[name]; ok && payload.SHA != existing {
			w.WriteHeader(http.StatusConflict)
			return
		}

		decoded, _ := base64.StdEncoding.DecodeString(payload.Content)
		f.blobs[name] = string(decoded)
		f.shas[name] = fmt.Sprintf("sha-%s-%d", name, len(f.puts))
		f.puts = append(f.puts, name)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": map[string]string{
				"sha":          f.shas[name],
				"download_url": f.srv.URL + "/raw/" + name,
			},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// setManifest installs a manifest document mapping descriptions to
// their raw blob URLs.
func (f *fakeRemote) setManifest(t *testing.T, entries map[string]string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	manifest := make(map[string]string, len(entries))
	for description, body := range entries {
		name := BlobName(description)
		f.blobs[name] = body
		f.shas[name] = "sha-" + name
		manifest[description] = f.srv.URL + "/raw/" + name
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	f.blobs[ManifestName] = string(data)
	f.shas[ManifestName] = "sha-manifest"
}

func (f *fakeRemote) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func newSyncTestStore(t *testing.T) store.CategoryStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPull_InsertsMissingCategories(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()
	remote.setManifest(t, map[string]string{"D2": "  model body  "})

	s := newSyncTestStore(t)
	syncer := NewSyncer(NewClient(""), s, remote.srv.URL+"/contents", nil)

	result, err := syncer.Pull(ctx, remote.srv.URL+"/raw/"+ManifestName)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)

	model, err := s.LoadCategory(ctx, "D2")
	require.NoError(t, err)
	assert.Equal(t, "model body", model, "blob content should be stored trimmed")
}

func TestPull_LocalDataWins(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()
	remote.setManifest(t, map[string]string{"D1": "remote version"})

	s := newSyncTestStore(t)
	require.NoError(t, s.SaveCategory(ctx, "D1", "local version"))

	syncer := NewSyncer(NewClient(""), s, remote.srv.URL+"/contents", nil)

	result, err := syncer.Pull(ctx, remote.srv.URL+"/raw/"+ManifestName)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pulled)
	assert.Equal(t, 1, result.Skipped)

	model, _ := s.LoadCategory(ctx, "D1")
	assert.Equal(t, "local version", model)
}

// racingStore lands a local write after the pull's description snapshot
// is taken, simulating a category trained while the pull is running.
type racingStore struct {
	store.CategoryStore
	description string
	model       string
	once        sync.Once
}

func (r *racingStore) ListDescriptions(ctx context.Context) ([]string, error) {
	descriptions, err := r.CategoryStore.ListDescriptions(ctx)
	r.once.Do(func() {
		_ = r.CategoryStore.SaveCategory(ctx, r.description, r.model)
	})
	return descriptions, err
}

func TestPull_ConcurrentLocalTrainingWins(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()
	remote.setManifest(t, map[string]string{"D1": "remote mirror model"})

	s := &racingStore{
		CategoryStore: newSyncTestStore(t),
		description:   "D1",
		model:         "local trained model",
	}
	syncer := NewSyncer(NewClient(""), s, remote.srv.URL+"/contents", nil)

	result, err := syncer.Pull(ctx, remote.srv.URL+"/raw/"+ManifestName)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pulled)
	assert.Equal(t, 1, result.Skipped)

	model, err := s.LoadCategory(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "local trained model", model)
}

func TestPull_Idempotent(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()
	remote.setManifest(t, map[string]string{"D1": "body", "D2": "body"})

	s := newSyncTestStore(t)
	syncer := NewSyncer(NewClient(""), s, remote.srv.URL+"/contents", nil)
	manifestURL := remote.srv.URL + "/raw/" + ManifestName

	first, err := syncer.Pull(ctx, manifestURL)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Pulled)

	second, err := syncer.Pull(ctx, manifestURL)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Pulled, "second pull should write nothing")
	assert.Equal(t, 2, second.Skipped)
}

func TestPull_SkipsEmptyBlobs(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()
	remote.setManifest(t, map[string]string{"D1": "   \n  "})

	s := newSyncTestStore(t)
	syncer := NewSyncer(NewClient(""), s, remote.srv.URL+"/contents", nil)

	result, err := syncer.Pull(ctx, remote.srv.URL+"/raw/"+ManifestName)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pulled)
	assert.Equal(t, 0, result.Failed, "empty blob is a skip, not an error")

	_, err = s.LoadCategory(ctx, "D1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPull_ItemFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()
	remote.setManifest(t, map[string]string{"good": "body"})

	// Add a manifest entry whose blob does not exist.
	remote.mu.Lock()
	var manifest map[string]string
	json.Unmarshal([]byte(remote.blobs[ManifestName]), &manifest)
	manifest["broken"] = remote.srv.URL + "/raw/missing"
	data, _ := json.Marshal(manifest)
	remote.blobs[ManifestName] = string(data)
	remote.mu.Unlock()

	s := newSyncTestStore(t)
	syncer := NewSyncer(NewClient(""), s, remote.srv.URL+"/contents", nil)

	result, err := syncer.Pull(ctx, remote.srv.URL+"/raw/"+ManifestName)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)
	assert.Equal(t, 1, result.Failed)

	_, err = s.LoadCategory(ctx, "good")
	assert.NoError(t, err)
}

func TestPush_RequiresToken(t *testing.T) {
	s := newSyncTestStore(t)
	syncer := NewSyncer(NewClient(""), s, "http://unused", nil)

	_, err := syncer.Push(context.Background())
	assert.ErrorIs(t, err, ErrNoAuthToken)
}

func TestPush_UploadsBlobsAndManifest(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()

	s := newSyncTestStore(t)
	require.NoError(t, s.SaveCategory(ctx, "D1", "model one"))
	require.NoError(t, s.SaveCategory(ctx, "D2", "model two"))

	syncer := NewSyncer(NewClient("secret"), s, remote.srv.URL+"/contents", nil)

	result, err := syncer.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pushed)
	assert.Equal(t, 0, result.Failed)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.Equal(t, "model one", remote.blobs[BlobName("D1")])
	assert.Equal(t, "model two", remote.blobs[BlobName("D2")])

	var manifest map[string]string
	require.NoError(t, json.Unmarshal([]byte(remote.blobs[ManifestName]), &manifest))
	assert.Len(t, manifest, 2)
	assert.Contains(t, manifest["D1"], "/raw/"+BlobName("D1"))
}

func TestPush_UpdatesExistingBlobsInPlace(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()
	remote.setManifest(t, map[string]string{"D1": "old body"})

	s := newSyncTestStore(t)
	require.NoError(t, s.SaveCategory(ctx, "D1", "new body"))

	syncer := NewSyncer(NewClient("secret"), s, remote.srv.URL+"/contents", nil)

	// The fake remote rejects updates without the current content id,
	// so a successful push proves the prior id was carried.
	result, err := syncer.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.Equal(t, "new body", remote.blobs[BlobName("D1")])
}

func TestPush_ItemFailureContinues(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()

	s := newSyncTestStore(t)
	require.NoError(t, s.SaveCategory(ctx, "bad", "model"))
	require.NoError(t, s.SaveCategory(ctx, "good", "model"))

	remote.mu.Lock()
	remote.failPuts[BlobName("bad")] = true
	remote.mu.Unlock()

	syncer := NewSyncer(NewClient("secret"), s, remote.srv.URL+"/contents", nil)

	result, err := syncer.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 1, result.Failed)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.Equal(t, "model", remote.blobs[BlobName("good")])

	var manifest map[string]string
	require.NoError(t, json.Unmarshal([]byte(remote.blobs[ManifestName]), &manifest))
	assert.Contains(t, manifest, "good")
}

func TestPush_CountsPuts(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	defer remote.srv.Close()

	s := newSyncTestStore(t)
	require.NoError(t, s.SaveCategory(ctx, "D1", "model"))

	syncer := NewSyncer(NewClient("secret"), s, remote.srv.URL+"/contents", nil)
	_, err := syncer.Push(ctx)
	require.NoError(t, err)

	// One blob plus the manifest.
	assert.Equal(t, 2, remote.putCount())
}
