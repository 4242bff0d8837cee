// Package logging provides the single structured logger injected into
// the storage engine (which also logs its TTL sweep over every table)
// and the cluster aggregator. It is never used on the hot scan/execute
// path, which must stay allocation-light.
package logging

import "go.uber.org/zap"

// New builds a production zap.Logger. Callers that need a silent logger
// for tests should use NewNop instead.
func New() (*zap.Logger, error) {
	return zap.NewProduction()
}

// NewNop returns a logger that discards everything, for tests and
// embedders that don't want engine log output.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// Component returns a child logger tagged with a "component" field, used
// to distinguish engine/cluster log lines without threading a
// prefix string through every call site.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}
