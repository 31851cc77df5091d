package main

import (
	"go.uber.org/zap"

	"pagescope/internal/engine"
)

// newRunner binds the external audit engine.
func newRunner(logger *zap.Logger) engine.Runner {
	return &engine.CLIRunner{Logger: logger.Named("engine")}
}
