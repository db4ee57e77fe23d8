package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/internal/embedding"
	"github.com/hyperjump/embedder/internal/models"
	"github.com/hyperjump/embedder/internal/worker"
	"github.com/hyperjump/embedder/pkg/utils"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const msgpackContentType = "application/msgpack"

// Metric label values for request fields that did not resolve to a known model or format.
const (
	unknownModelLabel  = "unknown"
	invalidOutputLabel = "invalid"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	resp := models.RootResponse{
		Name:        Name,
		Authors:     Authors,
		Description: Description,
		Version:     Version,
	}
	if s.config.Server.StatusOrDefault() {
		snap := s.status.Snapshot(s.registry.States())
		resp.Status = &snap
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	states := s.registry.States()
	out := make([]models.ModelInfo, 0, len(s.descriptors))
	for _, entry := range embedding.Catalog() {
		d, ok := s.descriptors[entry.Name]
		if !ok {
			continue
		}
		info := models.ModelInfo{
			Name:         d.Name,
			Dimensions:   d.Dimensions,
			Pooling:      d.Pooling.String(),
			Quantization: d.Quantization.String(),
			MaxTokens:    d.MaxTokens,
			State:        states[d.Name],
		}
		if m, ok := s.registry.Loaded(d.Name); ok {
			if st, ok := m.CacheStats(); ok {
				info.Cache = &st
			}
		}
		out = append(out, info)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"models": out})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	s.status.IncrementRequests()
	output := r.URL.Query().Get("output")
	format, err := models.ParseOutputFormat(output)
	if err != nil {
		s.fail(w, r, "", invalidOutputLabel, err)
		return
	}

	var req models.EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, "", string(format), apierror.Wrap(apierror.KindInvalidRequest, err, "Invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, s.modelLabel(req.Model), string(format), err)
		return
	}
	desc, ok := s.descriptors[req.Model]
	if !ok {
		s.fail(w, r, unknownModelLabel, string(format), apierror.New(apierror.KindUnknownModel, "Unknown model %q", req.Model))
		return
	}

	ctx := r.Context()
	model, err := s.registry.Acquire(ctx, desc)
	if err != nil {
		s.fail(w, r, req.Model, string(format), err)
		return
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.config.Workers.DefaultBatchSize
	}
	s.logger.Debug("embedding documents",
		zap.String("model", req.Model),
		zap.String("output", string(format)),
		zap.Int("documents", len(req.Documents)),
		zap.Int("batch_size", desc.BatchSize(batchSize, len(req.Documents))),
		zap.String("preview", utils.Preview(req.Documents, 64)),
	)

	var elapsed time.Duration
	mat, err := worker.Do(ctx, s.pool, func() (*embedding.Matrix, error) {
		start := time.Now()
		defer func() { elapsed = time.Since(start) }()
		return model.EmbedToMatrix(ctx, req.Documents, batchSize)
	})
	if err != nil {
		s.fail(w, r, req.Model, string(format), err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveTransform(req.Model, elapsed)
	}

	resp := models.EmbedResponse{Model: req.Model, Duration: elapsed.Seconds()}
	switch format {
	case models.OutputArray:
		resp.Embeddings = mat
	default:
		resp.Embeddings = mat.Vectors()
	}
	s.respondEmbed(w, r, req.Model, format, resp)
}

// modelLabel bounds the model metric label to the served models.
func (s *Server) modelLabel(name string) string {
	if name == "" {
		return ""
	}
	if _, ok := s.descriptors[name]; !ok {
		return unknownModelLabel
	}
	return name
}

// fail logs err, counts it and writes its payload. model and output are metric
// labels and must already be bounded.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, model, output string, err error) {
	e := apierror.From(err)
	s.logger.Error("embed request failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("model", model),
		zap.String("kind", string(e.Kind)),
		zap.Error(e),
	)
	if s.metrics != nil {
		s.metrics.IncrementRequests(model, output, string(e.Kind))
	}
	s.respondError(w, e)
}

// respondEmbed encodes data in format and counts the request as a success only
// once the body is encoded.
func (s *Server) respondEmbed(w http.ResponseWriter, r *http.Request, model string, format models.OutputFormat, data any) {
	contentType := "application/json"
	var (
		b   []byte
		err error
	)
	if format == models.OutputMsgpack {
		contentType = msgpackContentType
		b, err = msgpack.Marshal(data)
	} else {
		b, err = json.Marshal(data)
	}
	if err != nil {
		s.fail(w, r, model, string(format), apierror.Wrap(apierror.KindSerialization, err, "Failed to encode response"))
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementRequests(model, string(format), "success")
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	b, err := json.Marshal(data)
	if err != nil {
		e := apierror.Wrap(apierror.KindSerialization, err, "Failed to encode response")
		s.logger.Error("response encoding failed", zap.Error(err))
		b, _ = json.Marshal(e.Payload())
		status = e.StatusCode()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func (s *Server) respondError(w http.ResponseWriter, e *apierror.Error) {
	s.respondJSON(w, e.StatusCode(), e.Payload())
}
