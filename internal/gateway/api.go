package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"retina/internal/mirror"
	"retina/internal/registry"
	"retina/internal/vision"
)

// syncTimeout bounds one background sync run triggered over HTTP.
const syncTimeout = 5 * time.Minute

// handlePredict handles POST /api/predict
// Request: {"description": "dogs vs cats", "images": ["<base64>", ...]}
// Response: {"predictions": [{"label": ..., "confidences": {...}}, ...]}
func (g *Gateway) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Description string   `json:"description"`
		Images      []string `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Description == "" {
		writeJSONError(w, http.StatusBadRequest, "description is required")
		return
	}
	if len(req.Images) == 0 {
		writeJSONError(w, http.StatusBadRequest, "images are required")
		return
	}

	images, err := decodeImages(req.Images)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	predictions, err := g.registry.Predict(r.Context(), req.Description, images)
	if err != nil {
		g.writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": predictions,
	})
}

// handleTrain handles POST /api/train
// Request: {"description": ..., "images": [...], "answers": ["Y", "N", ...]}
// Response: 202 {"job_id": ..., "status": "accepted"}
// Training runs in the background; the job outcome is logged under job_id.
func (g *Gateway) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Description string   `json:"description"`
		Images      []string `json:"images"`
		Answers     []string `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Description == "" {
		writeJSONError(w, http.StatusBadRequest, "description is required")
		return
	}
	if len(req.Images) == 0 {
		writeJSONError(w, http.StatusBadRequest, "images are required")
		return
	}
	if len(req.Images) != len(req.Answers) {
		writeJSONError(w, http.StatusBadRequest, "images and answers must have the same length")
		return
	}
	for _, a := range req.Answers {
		if a == "" {
			writeJSONError(w, http.StatusBadRequest, "answers must be non-empty")
			return
		}
	}

	images, err := decodeImages(req.Images)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case g.trainSlots <- struct{}{}:
	default:
		writeJSONError(w, http.StatusServiceUnavailable, "training capacity exhausted, try again later")
		return
	}

	jobID := uuid.New().String()
	g.registry.TrainAsync(jobID, req.Description, images, req.Answers, func() {
		<-g.trainSlots
	})

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"status": "accepted",
	})
}

// handleCategory handles GET and DELETE /api/category
// GET response: {"descriptions": [...]}
// DELETE request: {"description": ...}; response: {"status": "deleted"}
func (g *Gateway) handleCategory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		descriptions, err := g.registry.Store().ListDescriptions(r.Context())
		if err != nil {
			g.writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"descriptions": descriptions,
		})

	case http.MethodDelete:
		var req struct {
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if req.Description == "" {
			writeJSONError(w, http.StatusBadRequest, "description is required")
			return
		}
		if err := g.registry.Delete(r.Context(), req.Description); err != nil {
			g.writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSyncPull handles POST /api/sync/pull. The pull runs in the
// background; progress is logged by the syncer.
func (g *Gateway) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if g.syncer == nil || g.config.Mirror.ManifestURL == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "mirror not configured")
		return
	}

	jobID := uuid.New().String()
	manifestURL := g.config.Mirror.ManifestURL
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if _, err := g.syncer.Pull(ctx, manifestURL); err != nil {
			log.Printf("[Gateway] WARNING: pull job %s failed: %v", jobID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "accepted",
	})
}

// handleSyncPush handles POST /api/sync/push. Rejected up front when no
// auth token is configured; otherwise the push runs in the background.
func (g *Gateway) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if g.syncer == nil || g.config.Mirror.RemoteRoot == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "mirror not configured")
		return
	}
	if !g.syncer.CanPush() {
		writeJSONError(w, http.StatusUnauthorized, mirror.ErrNoAuthToken.Error())
		return
	}

	jobID := uuid.New().String()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if _, err := g.syncer.Push(ctx); err != nil {
			log.Printf("[Gateway] WARNING: push job %s failed: %v", jobID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "accepted",
	})
}

// writeRegistryError maps service errors onto HTTP statuses. Anything
// unexpected becomes a 500 with a generic body.
func (g *Gateway) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrModelNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, vision.ErrInvalidImage):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("[Gateway] ERROR: %v", err)
		g.metrics.RecordFailure()
		writeJSONError(w, http.StatusInternalServerError, genericErrorBody)
	}
}

// decodeImages decodes a slice of base64 image payloads. Standard and
// raw encodings are both accepted.
func decodeImages(encoded []string) ([][]byte, error) {
	images := make([][]byte, 0, len(encoded))
	for i, s := range encoded {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			raw, err = base64.RawStdEncoding.DecodeString(s)
		}
		if err != nil {
			return nil, fmt.Errorf("image %d is not valid base64", i)
		}
		images = append(images, raw)
	}
	return images, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
