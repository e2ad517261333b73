// Package catalog defines the external catalog-commit collaborator: the
// post-hoc registration step a table format performs after the
// orchestrator's own Rewriter.Commit has already made a group's output
// durable. Only the interface is modeled here; a real catalog (Iceberg,
// DuckLake, Hive metastore) lives outside this repo and plugs in by
// implementing Committer.
package catalog

import "context"

// Committer registers committed group IDs with an external table catalog.
type Committer interface {
	Commit(ctx context.Context, groupIDs []string) error
}

// NewNoopCommitter returns a Committer that accepts every commit without
// side effects, for callers with no catalog to notify.
func NewNoopCommitter() Committer {
	return noopCommitter{}
}

type noopCommitter struct{}

func (noopCommitter) Commit(_ context.Context, _ []string) error { return nil }
