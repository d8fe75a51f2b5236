// Extended retention: an object-lock protected side-area holding copies of
// individual files past their computed retention date. The real S3
// object-lock call lives outside the core, abstracted behind the
// ExtendedRetention interface; a filesystem-backed implementation covers
// tests and local use.
package retriever

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/router"
	"github.com/datavisioneasystore/des/sidecar"
)

// ExtendedRetention is the minimal object-lock-backed store the core needs:
// HEAD/GET/PUT by key, plus the retention date a PUT should apply. A real
// deployment backs this with S3 Object Lock; DES only depends on this
// interface.
type ExtendedRetention interface {
	Head(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, retentionUntil time.Time) error
	// RetentionUntil returns the retention date previously recorded for
	// key, if any.
	RetentionUntil(ctx context.Context, key string) (time.Time, bool, error)
}

// BuildExtRetentionKey renders the canonical extended-retention object key
// for (uid, createdAt): "{extPrefix}/{YYYYMMDD}/{uid}_{iso_utc_Z}.dat".
func BuildExtRetentionKey(extPrefix, uid string, createdAt time.Time) string {
	dateDir := router.FormatDateDir(createdAt)
	return fmt.Sprintf("%s/%s/%s_%s.dat", extPrefix, dateDir, uid, sidecar.FormatTimestamp(createdAt))
}

// RetentionActionResult is SetRetentionPolicy's return value, backing the
// PUT /files/{uid}/retention-policy response:
// {action: moved|updated, key, retention_until}.
type RetentionActionResult struct {
	UID            string
	Key            string
	RetentionUntil time.Time
	// Action is "moved" when the file was copied into extended retention
	// for the first time, or "updated" when only its retention date
	// changed.
	Action string
}

const (
	RetentionActionMoved   = "moved"
	RetentionActionUpdated = "updated"
)

// ExtendedRetentionManager implements the PUT retention-policy operation:
// moving a file into the extended-retention area on first call, or simply
// updating its retention date on subsequent calls.
type ExtendedRetentionManager struct {
	retention ExtendedRetention
	retriever *Retriever
	extPrefix string
}

// NewExtendedRetentionManager wires a retention store and the Retriever
// used to fetch a file's bytes the first time it is moved into retention.
func NewExtendedRetentionManager(retention ExtendedRetention, retriever *Retriever, extPrefix string) *ExtendedRetentionManager {
	return &ExtendedRetentionManager{retention: retention, retriever: retriever, extPrefix: extPrefix}
}

// SetRetentionPolicy ensures (uid, createdAt) has a copy under extended
// retention, retained until dueDate. If a copy already exists, only its
// retention date is refreshed ("updated"); otherwise the file's current
// bytes are fetched through the ordinary read path and copied in
// ("moved").
func (m *ExtendedRetentionManager) SetRetentionPolicy(ctx context.Context, uid string, createdAt, dueDate time.Time) (RetentionActionResult, error) {
	normalized, err := router.NormalizeUID(uid)
	if err != nil {
		return RetentionActionResult{}, err
	}
	key := BuildExtRetentionKey(m.extPrefix, normalized, createdAt)

	exists, err := m.retention.Head(ctx, key)
	if err != nil {
		return RetentionActionResult{}, fmt.Errorf("%w: checking extended retention for %s: %v", errs.ErrTransient, key, err)
	}

	if exists {
		if err := m.retention.Put(ctx, key, nil, dueDate); err != nil {
			return RetentionActionResult{}, fmt.Errorf("%w: updating retention date for %s: %v", errs.ErrTransient, key, err)
		}
		return RetentionActionResult{UID: normalized, Key: key, RetentionUntil: dueDate, Action: RetentionActionUpdated}, nil
	}

	data, err := m.retriever.Get(ctx, normalized, createdAt)
	if err != nil {
		return RetentionActionResult{}, err
	}
	if err := m.retention.Put(ctx, key, data, dueDate); err != nil {
		return RetentionActionResult{}, fmt.Errorf("%w: moving %s into extended retention: %v", errs.ErrTransient, key, err)
	}
	return RetentionActionResult{UID: normalized, Key: key, RetentionUntil: dueDate, Action: RetentionActionMoved}, nil
}

// FSExtendedRetention is a filesystem-backed ExtendedRetention, standing in
// for the real S3 Object Lock integration in tests and local deployments.
// Safe for concurrent use.
type FSExtendedRetention struct {
	dir string

	mu        sync.Mutex
	retention map[string]time.Time
}

// NewFSExtendedRetention returns an ExtendedRetention rooted at dir.
func NewFSExtendedRetention(dir string) *FSExtendedRetention {
	return &FSExtendedRetention{dir: dir, retention: make(map[string]time.Time)}
}
