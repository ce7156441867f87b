package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/segmentmapper/segmentmapper/internal/mocks"
	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/middleware/requestid"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp
}

func seedJob(t *testing.T, store storage.MappingStore, total int) string {
	t.Helper()
	jobID := id.NewJobID()
	require.NoError(t, store.CreateRootJob(context.Background(), storage.RootJob{
		JobID:         jobID,
		TextID:        "text-1",
		TotalSegments: total,
	}))
	return jobID
}

func TestHealthz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		resp := serve(t, New(memory.New()).Handler(), "/healthz")
		require.Equal(t, http.StatusOK, resp.Code)
		require.JSONEq(t, `{"status":"SERVING"}`, resp.Body.String())
		require.NotEmpty(t, resp.Header().Get(requestid.RequestIDHeader))
	})

	t.Run("not_ready", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockMappingStore(ctrl)
		store.EXPECT().IsReady(gomock.Any()).Return(storage.ReadinessStatus{Message: "requires migrations"}, nil)

		resp := serve(t, New(store).Handler(), "/healthz")
		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
		require.JSONEq(t, `{"status":"NOT_SERVING","message":"requires migrations"}`, resp.Body.String())
	})

	t.Run("error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockMappingStore(ctrl)
		store.EXPECT().IsReady(gomock.Any()).Return(storage.ReadinessStatus{}, errors.New("connection refused"))

		resp := serve(t, New(store).Handler(), "/healthz")
		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})
}

func TestGetJob(t *testing.T) {
	store := memory.New()
	jobID := seedJob(t, store, 4)
	require.NoError(t, store.AdvanceJobProgress(context.Background(), jobID, 1))
	handler := New(store).Handler()

	tests := map[string]struct {
		path       string
		wantStatus int
	}{
		`existing_job`: {
			path:       "/jobs/" + jobID,
			wantStatus: http.StatusOK,
		},
		`unknown_job`: {
			path:       "/jobs/" + id.NewJobID(),
			wantStatus: http.StatusNotFound,
		},
		`malformed_id`: {
			path:       "/jobs/not-a-uuid",
			wantStatus: http.StatusBadRequest,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			resp := serve(t, handler, test.path)
			require.Equal(t, test.wantStatus, resp.Code)
		})
	}

	resp := serve(t, handler, "/jobs/"+jobID)
	require.Contains(t, resp.Body.String(), `"status":"IN_PROGRESS"`)
	require.Contains(t, resp.Body.String(), `"completed_segments":1`)
	require.Contains(t, resp.Body.String(), `"total_segments":4`)
}

func TestGetJobStoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMappingStore(ctrl)
	store.EXPECT().GetRootJob(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	resp := serve(t, New(store).Handler(), "/jobs/"+id.NewJobID())
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, resp.Body.String())
}

func TestGetRelations(t *testing.T) {
	ctx := context.Background()

	t.Run("job_not_completed", func(t *testing.T) {
		store := memory.New()
		jobID := seedJob(t, store, 2)
		require.NoError(t, store.UpsertSegmentMapping(ctx, jobID, "seg-1", []byte(`[]`)))
		require.NoError(t, store.AdvanceJobProgress(ctx, jobID, 1))

		resp := serve(t, New(store).Handler(), "/jobs/"+jobID+"/relations")
		require.Equal(t, http.StatusConflict, resp.Code)
		require.JSONEq(t, `{"error":"job is not completed","job_id":"`+jobID+`","status":"IN_PROGRESS","completed_segments":1,"total_segments":2}`, resp.Body.String())
	})

	t.Run("unknown_job", func(t *testing.T) {
		resp := serve(t, New(memory.New()).Handler(), "/jobs/"+id.NewJobID()+"/relations")
		require.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("completed_job", func(t *testing.T) {
		store := memory.New()
		jobID := seedJob(t, store, 3)
		result := `[{"manifestation_id":"m2","segments":[{"segment_id":"s9","span":{"start":0,"end":5}}]}]`
		require.NoError(t, store.UpsertSegmentMapping(ctx, jobID, "seg-b", []byte(result)))
		require.NoError(t, store.UpsertSegmentMapping(ctx, jobID, "seg-a", []byte(`[]`)))
		require.NoError(t, store.MarkSegmentFailed(ctx, jobID, "seg-c", "traversal failed"))
		require.NoError(t, store.AdvanceJobProgress(ctx, jobID, 3))

		resp := serve(t, New(store).Handler(), "/jobs/"+jobID+"/relations")
		require.Equal(t, http.StatusOK, resp.Code)
		require.JSONEq(t, `{
			"job_id": "`+jobID+`",
			"text_id": "text-1",
			"segments": [
				{"segment_id": "seg-a", "status": "COMPLETED", "mappings": [], "error_message": null},
				{"segment_id": "seg-b", "status": "COMPLETED", "mappings": `+result+`, "error_message": null},
				{"segment_id": "seg-c", "status": "FAILED", "mappings": [], "error_message": "traversal failed"}
			]
		}`, resp.Body.String())
	})

	t.Run("list_error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockMappingStore(ctrl)
		jobID := id.NewJobID()
		store.EXPECT().GetRootJob(gomock.Any(), jobID).Return(&storage.RootJob{
			JobID:             jobID,
			TextID:            "text-1",
			TotalSegments:     1,
			CompletedSegments: 1,
			Status:            storage.JobStatusCompleted,
		}, nil)
		store.EXPECT().ListSegmentMappings(gomock.Any(), jobID).Return(nil, errors.New("boom"))

		resp := serve(t, New(store).Handler(), "/jobs/"+jobID+"/relations")
		require.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

func TestGetManifestationRelations(t *testing.T) {
	ctx := context.Background()

	t.Run("latest_job_is_used", func(t *testing.T) {
		store := memory.New()
		older := seedJob(t, store, 1)
		require.NoError(t, store.UpsertSegmentMapping(ctx, older, "seg-a", []byte(`[]`)))
		require.NoError(t, store.AdvanceJobProgress(ctx, older, 1))

		time.Sleep(time.Millisecond)
		newer := seedJob(t, store, 2)
		require.NoError(t, store.AdvanceJobProgress(ctx, newer, 1))

		resp := serve(t, New(store).Handler(), "/manifestations/text-1/relations")
		require.Equal(t, http.StatusConflict, resp.Code)
		require.JSONEq(t, `{"error":"job is not completed","job_id":"`+newer+`","status":"IN_PROGRESS","completed_segments":1,"total_segments":2}`, resp.Body.String())
	})

	t.Run("completed_job", func(t *testing.T) {
		store := memory.New()
		jobID := seedJob(t, store, 1)
		require.NoError(t, store.UpsertSegmentMapping(ctx, jobID, "seg-a", []byte(`[]`)))
		require.NoError(t, store.AdvanceJobProgress(ctx, jobID, 1))

		resp := serve(t, New(store).Handler(), "/manifestations/text-1/relations")
		require.Equal(t, http.StatusOK, resp.Code)
		require.JSONEq(t, `{
			"job_id": "`+jobID+`",
			"text_id": "text-1",
			"segments": [
				{"segment_id": "seg-a", "status": "COMPLETED", "mappings": [], "error_message": null}
			]
		}`, resp.Body.String())
	})

	t.Run("unknown_manifestation", func(t *testing.T) {
		resp := serve(t, New(memory.New()).Handler(), "/manifestations/text-9/relations")
		require.Equal(t, http.StatusNotFound, resp.Code)
		require.JSONEq(t, `{"error":"no job found for manifestation"}`, resp.Body.String())
	})

	t.Run("store_error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockMappingStore(ctrl)
		store.EXPECT().GetLatestRootJobByTextID(gomock.Any(), "text-1").Return(nil, errors.New("boom"))

		resp := serve(t, New(store).Handler(), "/manifestations/text-1/relations")
		require.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	handler := New(memory.New(), WithCORSAllowedOrigins([]string{"https://example.org"})).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, "https://example.org", resp.Header().Get("Access-Control-Allow-Origin"))
}
