// Package ops defines the operation contract binding everything together:
// an operation turns its configuration into a cancellable process that
// computes change data over the selected units, persists it, and appends a
// history entry on success.
package ops

import (
	"log/slog"

	"github.com/gridwell/gridwell/pkg/changes"
	"github.com/gridwell/gridwell/pkg/grid"
	"github.com/gridwell/gridwell/pkg/history"
	"github.com/gridwell/gridwell/pkg/process"
)

// Env carries the collaborators an operation needs to create a process.
type Env struct {
	// Source enumerates the selected units in a stable order, under the
	// schema snapshot the operation will see. Provided by the grid's
	// filter engine.
	Source grid.UnitSource

	// History is the log the process appends to on success; its change
	// data store receives the computed sequence.
	History *history.History

	// Manager owns the launched process.
	Manager *process.Manager

	// Codec serializes computed cells. Defaults to changes.CellCodec.
	Codec changes.Serializer[*grid.Cell]

	Logger *slog.Logger
}

func (e Env) withDefaults() Env {
	if e.Codec == nil {
		e.Codec = changes.CellCodec{}
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	return e
}

// Operation is one user-requested transformation of the dataset.
type Operation interface {
	// Description returns a human-readable summary used for the process
	// and the resulting history entry.
	Description() string

	// CreateProcess validates the operation against the environment and
	// launches the computation as a background process.
	CreateProcess(env Env) (*process.Process, error)
}
