package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/draftforge/manuscript-cli/internal/conflict"
	"github.com/draftforge/manuscript-cli/internal/engine"
	"github.com/draftforge/manuscript-cli/internal/store"
	"github.com/draftforge/manuscript-cli/internal/tone"
	"github.com/draftforge/manuscript-cli/pkg/expert"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "manuscript.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine assembles the pipeline engine over an open store. The
// caller owns the store's lifetime.
func initEngine(st store.Store) (*engine.Engine, error) {
	ex := expert.New(expert.Options{
		APIKey:            cfg.Expert.Key,
		Model:             cfg.Expert.Model,
		MaxTokens:         cfg.Expert.MaxTokens,
		Temperature:       cfg.Expert.Temperature,
		RequestsPerSecond: cfg.Expert.RequestsPerSecond,
		CacheTTL:          time.Duration(cfg.Expert.CacheTTLMinutes) * time.Minute,
	})

	detector := conflict.NewDetector(st, conflict.Config{
		ConservativeReviewThreshold: cfg.Conflict.ConservativeReviewThreshold,
		AmbiguityFloor:              cfg.Conflict.AmbiguityFloor,
	})

	policy, err := loadTonePolicy()
	if err != nil {
		return nil, err
	}
	governor := tone.NewGovernor(policy, ex)

	return engine.New(st, ex, detector, governor, cfg.Precision, nil), nil
}

// loadTonePolicy reads the configured banned-term list. A missing file
// yields an empty policy so lint-free deployments need no YAML on disk.
func loadTonePolicy() (tone.Policy, error) {
	policy, err := tone.LoadPolicy(cfg.Tone.PolicyPath)
	if err != nil {
		if os.IsNotExist(eris.Cause(err)) {
			zap.L().Warn("tone policy not found, running without banned terms",
				zap.String("path", cfg.Tone.PolicyPath),
			)
			return tone.Policy{}, nil
		}
		return tone.Policy{}, err
	}
	return policy, nil
}
