package release

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/boostorg/boost-archives/internal/storage"
	"github.com/boostorg/boost-archives/pkg/logger"
)

// ReconcileReport lists storage inconsistencies left by interrupted or
// partially failed imports.
type ReconcileReport struct {
	Artifacts int
	// MissingSidecar holds artifact keys stored without a .json sidecar.
	MissingSidecar []string
	// OrphanSidecars holds sidecar keys whose artifact is absent.
	OrphanSidecars []string
	// Mismatched holds artifact keys whose content no longer matches the
	// sha256 recorded in their sidecar (verify mode only).
	Mismatched []string
	Verified   int
}

// Clean reports whether no inconsistency was found.
func (r *ReconcileReport) Clean() bool {
	return len(r.MissingSidecar) == 0 && len(r.OrphanSidecars) == 0 && len(r.Mismatched) == 0
}

// Reconciler checks that every stored artifact has a sidecar, and the
// reverse.
type Reconciler struct {
	store  storage.BlobStore
	prefix string
	logger *logger.Logger
}

// NewReconciler creates a reconciler for keys under prefix.
func NewReconciler(store storage.BlobStore, prefix string, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{store: store, prefix: prefix, logger: log}
}

// scope is the listing prefix for release. An empty prefix and release
// list the whole store.
func (r *Reconciler) scope(release string) string {
	s := path.Join(r.prefix, release)
	if s == "" {
		return ""
	}
	return s + "/"
}

// Run scans one release, or every release when release is empty. With
// verify, each artifact is re-hashed and compared with its sidecar.
func (r *Reconciler) Run(ctx context.Context, release string, verify bool) (*ReconcileReport, error) {
	scope := r.scope(release)
	keys, err := r.store.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", scope, err)
	}

	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}

	report := &ReconcileReport{MissingSidecar: []string{}, OrphanSidecars: []string{}, Mismatched: []string{}}
	for _, k := range keys {
		if !strings.Contains(k, "/source/") {
			continue
		}

		if strings.HasSuffix(k, ".json") {
			if !present[strings.TrimSuffix(k, ".json")] {
				report.OrphanSidecars = append(report.OrphanSidecars, k)
			}
			continue
		}

		report.Artifacts++
		if !present[SidecarKey(k)] {
			report.MissingSidecar = append(report.MissingSidecar, k)
			continue
		}

		if verify {
			ok, err := r.verify(ctx, k)
			if err != nil {
				return report, err
			}
			report.Verified++
			if !ok {
				report.Mismatched = append(report.Mismatched, k)
			}
		}
	}

	r.logger.WithFields(logger.Fields{
		"scope":           scope,
		"artifacts":       report.Artifacts,
		"missing_sidecar": len(report.MissingSidecar),
		"orphan_sidecars": len(report.OrphanSidecars),
		"mismatched":      len(report.Mismatched),
	}).Info("Reconciliation finished")

	return report, nil
}

func (r *Reconciler) verify(ctx context.Context, key string) (bool, error) {
	sc, err := r.store.Open(ctx, SidecarKey(key))
	if err != nil {
		return false, err
	}
	var meta Metadata
	err = json.NewDecoder(sc).Decode(&meta)
	sc.Close()
	if err != nil {
		r.logger.WithFields(logger.Fields{"key": key, "error": err}).Warn("Unreadable sidecar")
		return false, nil
	}

	body, err := r.store.Open(ctx, key)
	if err != nil {
		return false, err
	}
	defer body.Close()

	got, err := Digest(ctx, body, nil)
	if err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", key, err)
	}
	return strings.EqualFold(got.SHA256, meta.SHA256), nil
}
