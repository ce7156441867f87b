// Package api serves the read-only job status endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/middleware"
	"github.com/segmentmapper/segmentmapper/pkg/middleware/logging"
	"github.com/segmentmapper/segmentmapper/pkg/middleware/recovery"
	"github.com/segmentmapper/segmentmapper/pkg/middleware/requestid"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
)

// SegmentRelations is one segment of a completed job as returned by the relations endpoint.
type SegmentRelations struct {
	SegmentID    string          `json:"segment_id"`
	Status       string          `json:"status"`
	Mappings     json.RawMessage `json:"mappings"`
	ErrorMessage *string         `json:"error_message"`
}

// RelationsResponse is the body of GET /jobs/:job_id/relations and of
// GET /manifestations/:text_id/relations.
type RelationsResponse struct {
	JobID    string             `json:"job_id"`
	TextID   string             `json:"text_id"`
	Segments []SegmentRelations `json:"segments"`
}

// Server exposes job progress and mapping results from the mapping store.
type Server struct {
	store          storage.MappingStore
	logger         logger.Logger
	requestTimeout time.Duration
	corsOrigins    []string
	tracing        bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request and error logs.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRequestTimeout bounds each request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithCORSAllowedOrigins sets the origins allowed by the CORS handler.
func WithCORSAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithTracing wraps the handler with otelhttp so every request starts a span.
func WithTracing(enabled bool) Option {
	return func(s *Server) {
		s.tracing = enabled
	}
}

// New returns a Server reading from store.
func New(store storage.MappingStore, opts ...Option) *Server {
	s := &Server{
		store:          store,
		logger:         logger.NewNoopLogger(),
		requestTimeout: 10 * time.Second,
		corsOrigins:    []string{"*"},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the full HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(
		requestid.Middleware(),
		logging.Middleware(s.logger),
		middleware.NewTimeoutHandler(s.requestTimeout, s.logger).Middleware(),
	)
	s.RegisterRoutes(&router.RouterGroup)

	var handler http.Handler = cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowCredentials: true,
		AllowedHeaders:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}).Handler(router)

	if s.tracing {
		handler = otelhttp.NewHandler(handler, "segmentmapper-api")
	}

	return recovery.HTTPPanicRecoveryHandler(handler, s.logger)
}

// RegisterRoutes adds the status routes to rg.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/healthz", s.health)
	rg.GET("/jobs/:job_id", s.getJob)
	rg.GET("/jobs/:job_id/relations", s.getRelations)
	rg.GET("/manifestations/:text_id/relations", s.getManifestationRelations)
}

func (s *Server) health(c *gin.Context) {
	status, err := s.store.IsReady(c.Request.Context())
	if err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "datastore readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_SERVING", "message": err.Error()})
		return
	}

	if !status.IsReady {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_SERVING", "message": status.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "SERVING"})
}

func (s *Server) getJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) getRelations(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}

	s.writeRelations(c, job)
}

// getManifestationRelations answers with the relations of the latest job of the document.
func (s *Server) getManifestationRelations(c *gin.Context) {
	textID := c.Param("text_id")

	job, err := s.store.GetLatestRootJobByTextID(c.Request.Context(), textID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no job found for manifestation"})
			return
		}
		s.internalError(c, "failed to get latest root job", err)
		return
	}

	s.writeRelations(c, job)
}

func (s *Server) writeRelations(c *gin.Context, job *storage.RootJob) {
	if job.Status != storage.JobStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error":              "job is not completed",
			"job_id":             job.JobID,
			"status":             job.Status,
			"completed_segments": job.CompletedSegments,
			"total_segments":     job.TotalSegments,
		})
		return
	}

	mappings, err := s.store.ListSegmentMappings(c.Request.Context(), job.JobID)
	if err != nil {
		s.internalError(c, "failed to list segment mappings", err)
		return
	}

	resp := RelationsResponse{
		JobID:    job.JobID,
		TextID:   job.TextID,
		Segments: make([]SegmentRelations, 0, len(mappings)),
	}
	for _, m := range mappings {
		seg := SegmentRelations{
			SegmentID: m.SegmentID,
			Status:    string(m.Status),
			Mappings:  json.RawMessage("[]"),
		}
		if len(m.Result) > 0 {
			seg.Mappings = json.RawMessage(m.Result)
		}
		if m.ErrorMessage != "" {
			msg := m.ErrorMessage
			seg.ErrorMessage = &msg
		}
		resp.Segments = append(resp.Segments, seg)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) loadJob(c *gin.Context) (*storage.RootJob, bool) {
	jobID := c.Param("job_id")
	if !id.IsValidJobID(jobID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a UUID"})
		return nil, false
	}

	job, err := s.store.GetRootJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return nil, false
		}
		s.internalError(c, "failed to get root job", err)
		return nil, false
	}

	return job, true
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	s.logger.ErrorWithContext(c.Request.Context(), msg,
		zap.String("job_id", c.Param("job_id")),
		zap.String("text_id", c.Param("text_id")),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
