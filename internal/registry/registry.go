// Package registry wires the model cache, the durable category store,
// the classifier engine and the embedding provider into one service
// object. It owns the read-through and write-through paths:
//
//	predict: cache -> store -> decode -> classify
//	train:   resolve (or empty seed) -> mistake-driven update ->
//	         encode -> store upsert -> cache write-through
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"retina/internal/classifier"
	"retina/internal/modelcache"
	"retina/internal/monitoring"
	"retina/internal/store"
	"retina/internal/vision"
)

// Common errors
var (
	// ErrModelNotFound signals that no classifier has been trained for
	// a description.
	ErrModelNotFound = errors.New("registry: model does not exist")
)

// storeTimeout bounds every durable-store call made on a request path.
const storeTimeout = 10 * time.Second

// Prediction is the classification outcome for one image.
type Prediction struct {
	Label       string             `json:"label"`
	Confidences map[string]float64 `json:"confidences"`
}

// TrainReport summarizes one training call.
type TrainReport struct {
	Stored    int `json:"stored"`
	Discarded int `json:"discarded"`
}

// Registry is the classifier service. Construct it once at process
// start and pass it to every request handler.
type Registry struct {
	store    store.CategoryStore
	cache    *modelcache.Cache
	embedder vision.Embedder
	metrics  *monitoring.Metrics
}

// New creates a registry around an opened store, cache and embedder.
// metrics may be nil.
func New(s store.CategoryStore, cache *modelcache.Cache, embedder vision.Embedder, metrics *monitoring.Metrics) *Registry {
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Registry{
		store:    s,
		cache:    cache,
		embedder: embedder,
		metrics:  metrics,
	}
}

// Embedder exposes the embedding provider.
func (r *Registry) Embedder() vision.Embedder {
	return r.embedder
}

// Store exposes the durable category store.
func (r *Registry) Store() store.CategoryStore {
	return r.store
}

// ResolveDataset returns the dataset for a description, consulting the
// cache before the durable store. Misses populate the cache.
// Returns ErrModelNotFound when the description has never been trained.
func (r *Registry) ResolveDataset(ctx context.Context, description string) (classifier.Dataset, error) {
	if serialized, ok := r.cache.Get(description); ok {
		r.metrics.RecordCacheHit()
		return classifier.Decode(serialized)
	}
	r.metrics.RecordCacheMiss()

	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	serialized, err := r.store.LoadCategory(loadCtx, description)
	if errors.Is(err, store.ErrNotFound) {
		return classifier.Dataset{}, fmt.Errorf("%w: %s", ErrModelNotFound, description)
	}
	if err != nil {
		return classifier.Dataset{}, err
	}

	dataset, err := classifier.Decode(serialized)
	if err != nil {
		// Corrupt model text: report it, leave the row for retraining.
		return classifier.Dataset{}, fmt.Errorf("category %q: %w", description, err)
	}

	r.cache.Put(description, serialized)
	return dataset, nil
}

// Predict embeds each image and classifies it against the description's
// trained dataset.
func (r *Registry) Predict(ctx context.Context, description string, images [][]byte) ([]Prediction, error) {
	dataset, err := r.ResolveDataset(ctx, description)
	if err != nil {
		return nil, err
	}

	predictions := make([]Prediction, 0, len(images))
	for _, img := range images {
		vec, err := r.embedder.Embed(ctx, img)
		if err != nil {
			return nil, err
		}
		label, confidences, err := dataset.Predict(vec)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, Prediction{Label: label, Confidences: confidences})
	}

	r.metrics.RecordPrediction()
	return predictions, nil
}

// Train runs one mistake-driven training pass over the image/answer
// pairs, persists the updated dataset and writes it through the cache.
// A description seen for the first time starts from an empty dataset.
func (r *Registry) Train(ctx context.Context, description string, images [][]byte, answers []string) (TrainReport, error) {
	var report TrainReport

	if len(images) != len(answers) {
		return report, fmt.Errorf("registry: %d images but %d answers", len(images), len(answers))
	}
	if len(images) == 0 {
		return report, fmt.Errorf("registry: no training examples")
	}

	dataset, err := r.ResolveDataset(ctx, description)
	if err != nil && !errors.Is(err, ErrModelNotFound) {
		if !errors.Is(err, classifier.ErrMalformedDataset) {
			return report, err
		}
		// A corrupt stored model is unusable until retrained: seed from
		// empty so the upsert below replaces the bad row.
		log.Printf("[Registry] WARNING: replacing corrupt model for %q: %v", description, err)
		dataset = classifier.Dataset{}
	}

	for i, img := range images {
		vec, err := r.embedder.Embed(ctx, img)
		if err != nil {
			return report, err
		}
		next, added, err := classifier.Train(dataset, answers[i], vec)
		if err != nil {
			return report, err
		}
		dataset = next
		if added {
			report.Stored++
		} else {
			report.Discarded++
		}
	}

	serialized, err := classifier.Encode(dataset)
	if err != nil {
		return report, err
	}

	saveCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := r.store.SaveCategory(saveCtx, description, serialized); err != nil {
		return report, err
	}
	r.cache.Put(description, serialized)

	r.metrics.RecordTraining(report.Stored, report.Discarded)
	return report, nil
}

// TrainAsync runs Train in a supervised goroutine and logs the outcome
// under jobID. Used by handlers that acknowledge the request before
// training runs. done, if non-nil, is called when the run finishes.
func (r *Registry) TrainAsync(jobID, description string, images [][]byte, answers []string, done func()) {
	go func() {
		if done != nil {
			defer done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		report, err := r.Train(ctx, description, images, answers)
		if err != nil {
			log.Printf("[Registry] WARNING: training job %s for %q failed: %v", jobID, description, err)
			r.metrics.RecordFailure()
			return
		}
		log.Printf("[Registry] Job %s trained %q: %d stored, %d discarded", jobID, description, report.Stored, report.Discarded)
	}()
}

// Delete removes a category from the durable store and the cache.
func (r *Registry) Delete(ctx context.Context, description string) error {
	deleteCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	err := r.store.DeleteCategory(deleteCtx, description)
	if errors.Is(err, store.ErrNotFound) {
		r.cache.Delete(description)
		return fmt.Errorf("%w: %s", ErrModelNotFound, description)
	}
	if err != nil {
		return err
	}

	r.cache.Delete(description)
	return nil
}

// CacheStats exposes model cache statistics for the metrics endpoint.
func (r *Registry) CacheStats() map[string]interface{} {
	return r.cache.Stats()
}
