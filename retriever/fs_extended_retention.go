package retriever

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/datavisioneasystore/des/errs"
)

func (r *FSExtendedRetention) path(key string) string {
	return filepath.Join(r.dir, filepath.FromSlash(key))
}

func (r *FSExtendedRetention) Head(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(r.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *FSExtendedRetention) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(r.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: extended retention object %s", errs.ErrNotFound, key)
	}
	return data, err
}

func (r *FSExtendedRetention) Put(_ context.Context, key string, body []byte, retentionUntil time.Time) error {
	target := r.path(key)
	if body != nil {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, body, 0o644); err != nil {
			return err
		}
	} else if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("%w: extended retention object %s has no body to preserve on update", errs.ErrNotFound, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retention == nil {
		r.retention = make(map[string]time.Time)
	}
	r.retention[key] = retentionUntil.UTC()
	return nil
}

func (r *FSExtendedRetention) RetentionUntil(_ context.Context, key string) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.retention[key]
	return t, ok, nil
}
