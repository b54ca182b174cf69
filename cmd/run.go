package main

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/draftforge/manuscript-cli/internal/engine"
	"github.com/draftforge/manuscript-cli/internal/model"
)

var (
	runProject     string
	runIngestion   string
	runSources     []string
	runTablesPath  string
	runRigor       string
	runConcurrency int
)

// runSummary is the compact result printed per submitted document. The
// full run state lives in the checkpoint store.
type runSummary struct {
	Source        string             `json:"source"`
	ThreadID      string             `json:"thread_id"`
	JobID         string             `json:"job_id"`
	DocID         string             `json:"doc_id"`
	Phase         model.Phase        `json:"phase"`
	Stage         model.Stage        `json:"stage"`
	CriticStatus  model.CriticStatus `json:"critic_status"`
	RevisionCount int                `json:"revision_count"`
	NeedsSignoff  bool               `json:"needs_signoff"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Blocks        int                `json:"blocks"`
}

func summarize(source string, run *model.PipelineRun) runSummary {
	return runSummary{
		Source:        source,
		ThreadID:      run.ThreadID,
		JobID:         run.JobID,
		DocID:         run.DocID,
		Phase:         run.Phase,
		Stage:         run.Stage,
		CriticStatus:  run.CriticStatus,
		RevisionCount: run.RevisionCount,
		NeedsSignoff:  run.NeedsSignoff,
		FailureReason: run.FailureReason,
		Blocks:        len(run.ManuscriptBlocks),
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for one or more source documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		tables, err := loadTables(runTablesPath)
		if err != nil {
			return err
		}
		if len(tables) > 0 && len(runSources) > 1 {
			return eris.New("--tables applies to a single --source document")
		}

		rigor := cfg.Rigor()
		if runRigor != "" {
			rigor = model.Rigor(runRigor)
		}

		// Documents run concurrently; stages within a run stay
		// sequential.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runConcurrency)

		var mu sync.Mutex
		summaries := make([]runSummary, 0, len(runSources))

		for _, src := range runSources {
			g.Go(func() error {
				text, err := os.ReadFile(src)
				if err != nil {
					return eris.Wrapf(err, "read source %s", src)
				}

				run, err := eng.Run(gctx, engine.NewRunParams{
					ProjectID:   runProject,
					IngestionID: runIngestion,
					SourceText:  string(text),
					Tables:      tables,
					Rigor:       rigor,
				})
				if err != nil {
					return eris.Wrapf(err, "run %s", src)
				}

				zap.L().Info("run finished",
					zap.String("source", src),
					zap.String("thread_id", run.ThreadID),
					zap.String("phase", string(run.Phase)),
					zap.String("stage", string(run.Stage)),
				)

				mu.Lock()
				summaries = append(summaries, summarize(src, run))
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if len(summaries) == 1 {
			return enc.Encode(summaries[0])
		}
		return enc.Encode(summaries)
	},
}

// loadTables reads a JSON array of tables submitted alongside the
// source text.
func loadTables(path string) ([]model.Table, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read tables %s", path)
	}
	var tables []model.Table
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, eris.Wrap(err, "parse tables")
	}
	return tables, nil
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", "", "project ID (required)")
	runCmd.Flags().StringVar(&runIngestion, "ingestion", "", "ingestion batch ID")
	runCmd.Flags().StringSliceVar(&runSources, "source", nil, "source document path (repeatable)")
	runCmd.Flags().StringVar(&runTablesPath, "tables", "", "path to a JSON array of tables for the document")
	runCmd.Flags().StringVar(&runRigor, "rigor", "", "rigor level: conservative or exploratory (default from config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 2, "max documents processed in parallel")
	_ = runCmd.MarkFlagRequired("project")
	_ = runCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(runCmd)
}
