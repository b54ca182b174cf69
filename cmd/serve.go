package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draftforge/manuscript-cli/internal/engine"
	"github.com/draftforge/manuscript-cli/internal/model"
	"github.com/draftforge/manuscript-cli/internal/store"
)

var servePort int

// serverEnv carries the dependencies the HTTP handlers need.
type serverEnv struct {
	eng *engine.Engine
	st  store.Store
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for run submission and review",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		eng, err := initEngine(st)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildRouter(ctx, &serverEnv{eng: eng, st: st}),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background()) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the API routes. runCtx outlives individual requests
// and bounds the asynchronous pipeline executions.
func buildRouter(runCtx context.Context, env *serverEnv) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/runs", func(api chi.Router) {
		api.Post("/", env.handleSubmit(runCtx))
		api.Get("/", env.handleList)
		api.Get("/{thread_id}", env.handleShow)
		api.Post("/{thread_id}/resume", env.handleResume(runCtx))
		api.Post("/{thread_id}/cancel", env.handleCancel)
	})

	return r
}

func (env *serverEnv) handleSubmit(runCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProjectID   string        `json:"project_id"`
			IngestionID string        `json:"ingestion_id"`
			DocID       string        `json:"doc_id"`
			SourceText  string        `json:"source_text"`
			Tables      []model.Table `json:"tables"`
			Rigor       string        `json:"rigor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SourceText == "" {
			writeError(w, http.StatusBadRequest, "source_text is required")
			return
		}

		// The pipeline runs asynchronously; clients poll GET /api/runs
		// for the resulting checkpoint.
		go func() {
			if env.eng == nil {
				return
			}
			run, err := env.eng.Run(runCtx, engine.NewRunParams{
				ProjectID:   req.ProjectID,
				IngestionID: req.IngestionID,
				DocID:       req.DocID,
				SourceText:  req.SourceText,
				Tables:      req.Tables,
				Rigor:       model.Rigor(req.Rigor),
			})
			if err != nil {
				zap.L().Error("submitted run failed",
					zap.String("project_id", req.ProjectID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("submitted run finished",
				zap.String("thread_id", run.ThreadID),
				zap.String("phase", string(run.Phase)),
				zap.String("stage", string(run.Stage)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"project_id": req.ProjectID,
		})
	}
}

func (env *serverEnv) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}

	runs, err := env.st.ListCheckpoints(r.Context(), store.CheckpointFilter{
		ProjectID: r.URL.Query().Get("project"),
		Phase:     model.Phase(r.URL.Query().Get("phase")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}

	summaries := make([]runSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, summarize("", &runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

func (env *serverEnv) handleShow(w http.ResponseWriter, r *http.Request) {
	run, err := env.st.LoadCheckpoint(r.Context(), chi.URLParam(r, "thread_id"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (env *serverEnv) handleResume(runCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "thread_id")

		var req struct {
			Approved      bool   `json:"approved"`
			EditedContent string `json:"edited_content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// Reject resumes for unknown or non-suspended runs up front so
		// the client gets a meaningful status.
		run, err := env.st.LoadCheckpoint(r.Context(), threadID)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load run failed")
			return
		}
		if run.PendingProposal == nil {
			writeError(w, http.StatusConflict, "run is not awaiting review")
			return
		}

		go func() {
			if env.eng == nil {
				return
			}
			decision := model.HumanDecision{
				Approved:      req.Approved,
				EditedContent: req.EditedContent,
			}
			resumed, err := env.eng.Resume(runCtx, threadID, decision)
			if err != nil {
				zap.L().Error("resume failed",
					zap.String("thread_id", threadID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("resume finished",
				zap.String("thread_id", threadID),
				zap.String("phase", string(resumed.Phase)),
				zap.String("stage", string(resumed.Stage)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":    "accepted",
			"thread_id": threadID,
		})
	}
}

func (env *serverEnv) handleCancel(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	if err := env.st.MarkCancelled(r.Context(), threadID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "cancelling",
		"thread_id": threadID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
