package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"retina/internal/monitoring"
	"retina/internal/store"
)

// Common errors
var (
	// ErrNoAuthToken signals that push is disabled because no remote
	// auth token is configured.
	ErrNoAuthToken = errors.New("mirror: no auth token configured")
)

// itemTimeout bounds each per-category remote or store call. A timed
// out item is skipped, not retried.
const itemTimeout = 20 * time.Second

// Result summarizes one sync run.
type Result struct {
	Pulled  int `json:"pulled"`
	Pushed  int `json:"pushed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Syncer moves categories between the durable store and the remote
// mirror. Both directions are idempotent and safe to run repeatedly
// and concurrently with normal traffic.
type Syncer struct {
	client     *Client
	store      store.CategoryStore
	metrics    *monitoring.Metrics
	remoteRoot string
}

// NewSyncer creates a syncer. remoteRoot is the contents-API URL of the
// directory holding the blobs and the manifest. metrics may be nil.
func NewSyncer(client *Client, s store.CategoryStore, remoteRoot string, metrics *monitoring.Metrics) *Syncer {
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Syncer{
		client:     client,
		store:      s,
		metrics:    metrics,
		remoteRoot: strings.TrimRight(remoteRoot, "/"),
	}
}

// CanPush reports whether push is enabled, i.e. an auth token is
// configured on the client.
func (s *Syncer) CanPush() bool {
	return s.client.HasToken()
}

// Pull fetches the remote manifest and inserts every category the local
// store does not already have. Local data always wins: the save is
// insert-only, so a description present locally (even one trained while
// the pull is running) is never overwritten. Empty remote blobs are
// skipped without error.
func (s *Syncer) Pull(ctx context.Context, manifestURL string) (Result, error) {
	var result Result

	manifest, err := s.client.FetchManifest(ctx, manifestURL)
	if err != nil {
		return result, err
	}

	local, err := s.localDescriptions(ctx)
	if err != nil {
		return result, err
	}

	for description, blobURL := range manifest {
		if local[description] {
			result.Skipped++
			continue
		}

		if err := s.pullOne(ctx, description, blobURL, &result); err != nil {
			log.Printf("[Mirror] WARNING: pull %q failed: %v", description, err)
			result.Failed++
		}
	}

	s.metrics.RecordSync(result.Pulled, 0, result.Skipped, result.Failed)
	log.Printf("[Mirror] Pull complete: %d pulled, %d skipped, %d failed", result.Pulled, result.Skipped, result.Failed)
	return result, nil
}

func (s *Syncer) pullOne(ctx context.Context, description, blobURL string, result *Result) error {
	itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	body, err := s.client.FetchBlob(itemCtx, blobURL)
	if err != nil {
		return err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		result.Skipped++
		return nil
	}

	err = s.store.InsertCategory(itemCtx, description, body)
	if errors.Is(err, store.ErrDuplicate) {
		// A local model landed after the manifest snapshot; local wins.
		result.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	result.Pulled++
	return nil
}

// Push uploads every local category as a remote blob, then rebuilds the
// manifest document from the resulting description-to-URL map. Each
// item is best effort: an individual failure is logged and the rest of
// the push continues. Fails fast when no auth token is configured.
func (s *Syncer) Push(ctx context.Context) (Result, error) {
	var result Result

	if !s.client.HasToken() {
		return result, ErrNoAuthToken
	}

	remote, err := s.client.ListBlobs(ctx, s.remoteRoot)
	if err != nil {
		return result, err
	}

	descriptions, err := s.store.ListDescriptions(ctx)
	if err != nil {
		return result, err
	}

	manifest := make(map[string]string, len(descriptions))
	for _, description := range descriptions {
		info, err := s.pushOne(ctx, description, remote)
		if err != nil {
			log.Printf("[Mirror] WARNING: push %q failed: %v", description, err)
			result.Failed++
			// Keep the previously known URL so the manifest stays
			// complete for categories that failed this round.
			if prior, ok := remote[BlobName(description)]; ok && prior.URL != "" {
				manifest[description] = prior.URL
			}
			continue
		}
		manifest[description] = info.URL
		result.Pushed++
	}

	if err := s.writeManifest(ctx, manifest, remote); err != nil {
		return result, fmt.Errorf("write manifest: %w", err)
	}

	s.metrics.RecordSync(0, result.Pushed, result.Skipped, result.Failed)
	log.Printf("[Mirror] Push complete: %d pushed, %d failed", result.Pushed, result.Failed)
	return result, nil
}

func (s *Syncer) pushOne(ctx context.Context, description string, remote map[string]BlobInfo) (BlobInfo, error) {
	itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	model, err := s.store.LoadCategory(itemCtx, description)
	if err != nil {
		return BlobInfo{}, err
	}

	name := BlobName(description)
	priorID := remote[name].ID
	return s.client.PutBlob(itemCtx, s.remoteRoot+"/"+name, model, priorID)
}

func (s *Syncer) writeManifest(ctx context.Context, manifest map[string]string, remote map[string]BlobInfo) error {
	body, err := marshalManifest(manifest)
	if err != nil {
		return err
	}

	itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	priorID := remote[ManifestName].ID
	_, err = s.client.PutBlob(itemCtx, s.remoteRoot+"/"+ManifestName, body, priorID)
	return err
}

// localDescriptions returns the set of descriptions already stored.
func (s *Syncer) localDescriptions(ctx context.Context) (map[string]bool, error) {
	listCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	descriptions, err := s.store.ListDescriptions(listCtx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(descriptions))
	for _, d := range descriptions {
		set[d] = true
	}
	return set, nil
}
