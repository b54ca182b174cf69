package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/manuscript-cli/internal/model"
	"github.com/draftforge/manuscript-cli/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	// A nil engine exercises the handler surface without model calls.
	return buildRouter(context.Background(), &serverEnv{eng: nil, st: st}), st
}

func seedCheckpoint(t *testing.T, st store.Store, threadID string, mutate func(*model.PipelineRun)) {
	t.Helper()
	run := &model.PipelineRun{
		JobID:     "job-" + threadID,
		ThreadID:  threadID,
		ProjectID: "proj-1",
		Phase:     model.PhaseVetting,
		Stage:     model.StageCritic,
		Rigor:     model.RigorExploratory,
	}
	if mutate != nil {
		mutate(run)
	}
	require.NoError(t, st.SaveCheckpoint(context.Background(), run))
}

func TestServe_Health(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServe_SubmitAccepted(t *testing.T) {
	router, _ := newTestRouter(t)

	payload, _ := json.Marshal(map[string]any{
		"project_id":  "proj-1",
		"source_text": "Revenue grew in 2025.",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "proj-1", resp["project_id"])

	// Give the goroutine time to hit the nil-engine check.
	time.Sleep(10 * time.Millisecond)
}

func TestServe_SubmitMissingSourceText(t *testing.T) {
	router, _ := newTestRouter(t)

	payload, _ := json.Marshal(map[string]any{"project_id": "proj-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "source_text is required")
}

func TestServe_SubmitInvalidJSON(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestServe_ListAndShow(t *testing.T) {
	router, st := newTestRouter(t)
	seedCheckpoint(t, st, "t-1", nil)
	seedCheckpoint(t, st, "t-2", func(r *model.PipelineRun) {
		r.ProjectID = "proj-other"
	})

	req := httptest.NewRequest(http.MethodGet, "/api/runs?project=proj-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Runs []runSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "t-1", list.Runs[0].ThreadID)

	req = httptest.NewRequest(http.MethodGet, "/api/runs/t-2", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var run model.PipelineRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, "proj-other", run.ProjectID)
}

func TestServe_ShowNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServe_ResumeRequiresPendingProposal(t *testing.T) {
	router, st := newTestRouter(t)
	seedCheckpoint(t, st, "t-active", nil)

	payload, _ := json.Marshal(map[string]any{"approved": true})
	req := httptest.NewRequest(http.MethodPost, "/api/runs/t-active/resume", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "not awaiting review")
}

func TestServe_ResumeSuspendedRunAccepted(t *testing.T) {
	router, st := newTestRouter(t)
	seedCheckpoint(t, st, "t-suspended", func(r *model.PipelineRun) {
		r.Stage = model.StageReframing
		r.NeedsSignoff = true
		r.PendingProposal = &model.ReframeProposal{
			ProposalID: "prop-1",
			Summary:    "reframed around the surviving claims",
			Draft:      "A reframed draft.",
		}
	})

	payload, _ := json.Marshal(map[string]any{"approved": true})
	req := httptest.NewRequest(http.MethodPost, "/api/runs/t-suspended/resume", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "t-suspended", resp["thread_id"])

	time.Sleep(10 * time.Millisecond)
}

func TestServe_ResumeNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	payload, _ := json.Marshal(map[string]any{"approved": true})
	req := httptest.NewRequest(http.MethodPost, "/api/runs/missing/resume", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServe_Cancel(t *testing.T) {
	router, st := newTestRouter(t)
	seedCheckpoint(t, st, "t-cancel", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/runs/t-cancel/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	cancelled, err := st.IsCancelled(context.Background(), "t-cancel")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestServe_CancelNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/runs/missing/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
