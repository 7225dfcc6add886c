// Package store persists experiment runs in a SQLite database.
package store

import (
	"errors"
	"time"

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
)

// DBName is the database file created inside the store directory.
const DBName = "rulesim.db"

var (
	// ErrNotFound reports an unknown run ID.
	ErrNotFound = errors.New("run not found")

	// ErrAmbiguous reports an ID prefix matching more than one run.
	ErrAmbiguous = errors.New("ambiguous run id")
)

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID         string                 `json:"id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Topology   dagtree.Topology       `json:"topology"`
	Items      int                    `json:"items"`
	Nodes      int                    `json:"nodes"`
	TrueRules  int                    `json:"true_rules"`
	Degenerate int                    `json:"degenerate"`
	Loss       experiment.LossSummary `json:"loss"`
}
