// Package status persists the outcome of the latest reconciliation cycle so
// that it can be inspected without talking to the running process.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/plexsphere/uplinkd/internal/fsutil"
	"github.com/plexsphere/uplinkd/internal/reconcile"
	"github.com/plexsphere/uplinkd/internal/route"
)

// FileName is the snapshot file written into the data directory.
const FileName = "status.json"

// refreshAfter bounds how stale UpdatedAt may get while nothing changes.
const refreshAfter = time.Minute

// ErrNoSnapshot is returned by Read when no cycle has been recorded yet.
var ErrNoSnapshot = errors.New("status: no snapshot recorded")

// Snapshot is the persisted view of one cycle.
type Snapshot struct {
	UpdatedAt  time.Time         `json:"updated_at"`
	Backend    string            `json:"backend"`
	Interfaces []InterfaceStatus `json:"interfaces"`
}

// InterfaceStatus is the persisted view of one interface.
type InterfaceStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Gateway string `json:"gateway,omitempty"`
	Phase   string `json:"phase"`
	Action  string `json:"action"`
	Error   string `json:"error,omitempty"`
	// Route is the default route this process holds for the interface.
	Route *route.Installed `json:"route,omitempty"`
}

func (s InterfaceStatus) equal(o InterfaceStatus) bool {
	if (s.Route == nil) != (o.Route == nil) || (s.Route != nil && *s.Route != *o.Route) {
		return false
	}
	a, b := s, o
	a.Route, b.Route = nil, nil
	return a == b
}

// sameState reports whether two snapshots differ at most in UpdatedAt.
func sameState(a, b Snapshot) bool {
	return a.Backend == b.Backend && slices.EqualFunc(a.Interfaces, b.Interfaces, InterfaceStatus.equal)
}

// RouteLister reports the routes held by a backend. route.Backend satisfies it.
type RouteLister interface {
	Name() string
	Installed() map[string]route.Installed
}

// Writer records cycle results to dataDir/status.json.
type Writer struct {
	dataDir string
	routes  RouteLister
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	last *Snapshot // last snapshot persisted by Observe
}

// NewWriter returns a Writer that pairs each cycle with the routes held by
// routes.
func NewWriter(dataDir string, routes RouteLister, logger *slog.Logger) *Writer {
	return &Writer{
		dataDir: dataDir,
		routes:  routes,
		logger:  logger,
		now:     time.Now,
	}
}

// Observe builds a snapshot from results and persists it. Its signature
// matches reconcile.Observer. A snapshot equal to the last one except for
// UpdatedAt is written only once refreshAfter has passed. Write failures
// are logged, never returned.
func (w *Writer) Observe(_ context.Context, results []reconcile.Result) {
	snap := w.Build(results)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last != nil && sameState(*w.last, snap) && snap.UpdatedAt.Sub(w.last.UpdatedAt) < refreshAfter {
		return
	}
	if err := w.Write(snap); err != nil {
		w.logger.Warn("status write failed", "component", "status", "error", err)
		return
	}
	w.last = &snap
}

// Build converts cycle results into a Snapshot.
func (w *Writer) Build(results []reconcile.Result) Snapshot {
	installed := w.routes.Installed()
	snap := Snapshot{
		UpdatedAt:  w.now().UTC(),
		Backend:    w.routes.Name(),
		Interfaces: make([]InterfaceStatus, 0, len(results)),
	}
	for _, res := range results {
		st := InterfaceStatus{
			Name:    res.Interface,
			Healthy: res.Verdict.Healthy,
			Phase:   string(res.Verdict.Phase),
			Action:  string(res.Action),
		}
		if res.Verdict.Healthy {
			st.Gateway = res.Verdict.Gateway.String()
		}
		if res.Err != nil {
			st.Error = res.Err.Error()
		}
		if r, ok := installed[res.Interface]; ok {
			st.Route = &r
		}
		snap.Interfaces = append(snap.Interfaces, st)
	}
	return snap
}

// Write persists snap atomically.
func (w *Writer) Write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("status: marshal snapshot: %w", err)
	}
	if err := fsutil.WriteFileAtomic(w.dataDir, FileName, data, 0o644); err != nil {
		return fmt.Errorf("status: write snapshot: %w", err)
	}
	return nil
}

// Read loads the snapshot stored in dataDir.
func Read(dataDir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("status: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("status: parse snapshot: %w", err)
	}
	return &snap, nil
}
