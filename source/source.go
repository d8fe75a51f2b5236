// Package source provides keyset-paginated, read-only iteration over the
// external relational table DES archives from.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/watermark"
)

// Config describes the external table and columns to read, plus optional
// horizontal sharding across cooperating packer processes.
type Config struct {
	TableName       string
	UIDColumn       string
	CreatedAtColumn string
	LocationColumn  string
	ShardsTotal     int
	ShardID         int
	PageSize        int
}

// DefaultConfig returns a Config with the conventional column names.
func DefaultConfig(tableName string) Config {
	return Config{
		TableName:       tableName,
		UIDColumn:       "uid",
		CreatedAtColumn: "created_at",
		LocationColumn:  "file_location",
		ShardsTotal:     1,
		ShardID:         0,
		PageSize:        1000,
	}
}

// Record is a single row pulled from the source table.
type Record struct {
	UID          string
	CreatedAt    time.Time
	FileLocation string
}

// Provider iterates Records in a watermark.Window using keyset pagination
// on (created_at, uid), the same ordering the archive window invariant
// requires for deterministic resumption.
type Provider struct {
	db  *sql.DB
	cfg Config
}

// NewProvider returns a Provider reading from db per cfg.
func NewProvider(db *sql.DB, cfg Config) *Provider {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.ShardsTotal <= 0 {
		cfg.ShardsTotal = 1
	}
	return &Provider{db: db, cfg: cfg}
}

// ForEachInWindow calls fn once per record in (window.Start, window.End],
// ordered by (created_at, uid), applying this provider's shard filter.
// It stops and returns fn's error the first time fn returns one.
func (p *Provider) ForEachInWindow(ctx context.Context, window watermark.Window, fn func(Record) error) error {
	var lastCreatedAt *time.Time
	var lastUID *string

	for {
		rows, err := p.fetchPage(ctx, window, lastCreatedAt, lastUID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		last := rows[len(rows)-1]
		lastCreatedAt = &last.CreatedAt
		lastUID = &last.UID

		for _, rec := range rows {
			if p.cfg.ShardsTotal > 1 && shardOf(rec.UID, p.cfg.ShardsTotal) != p.cfg.ShardID {
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
}

// shardOf assigns uid to one of shardsTotal cooperating packer processes.
// The filter runs in-process after SQL retrieval: no portable hash
// expression exists across SQL engines. FNV-1a is deliberately a different
// hash family from the router's CRC32 so source sharding and shard routing
// stay independent.
func shardOf(uid string, shardsTotal int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uid))
	return int(h.Sum32() % uint32(shardsTotal))
}

func (p *Provider) fetchPage(ctx context.Context, window watermark.Window, lastCreatedAt *time.Time, lastUID *string) ([]Record, error) {
	query := fmt.Sprintf(
		`SELECT %s, %s, %s FROM %s WHERE %s > ? AND %s <= ?`,
		p.cfg.UIDColumn, p.cfg.CreatedAtColumn, p.cfg.LocationColumn,
		p.cfg.TableName, p.cfg.CreatedAtColumn, p.cfg.CreatedAtColumn,
	)
	args := []any{window.Start.UTC().Format(time.RFC3339Nano), window.End.UTC().Format(time.RFC3339Nano)}

	if lastCreatedAt != nil && lastUID != nil {
		query += fmt.Sprintf(
			` AND (%s > ? OR (%s = ? AND %s > ?))`,
			p.cfg.CreatedAtColumn, p.cfg.CreatedAtColumn, p.cfg.UIDColumn,
		)
		args = append(args, lastCreatedAt.UTC().Format(time.RFC3339Nano), lastCreatedAt.UTC().Format(time.RFC3339Nano), *lastUID)
	}

	query += fmt.Sprintf(` ORDER BY %s, %s LIMIT ?`, p.cfg.CreatedAtColumn, p.cfg.UIDColumn)
	args = append(args, p.cfg.PageSize)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying source table %s: %v", errs.ErrTransient, p.cfg.TableName, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var uid, location, createdAtStr string
		if err := rows.Scan(&uid, &createdAtStr, &location); err != nil {
			return nil, fmt.Errorf("%w: scanning source row: %v", errs.ErrTransient, err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			createdAt, err = time.Parse(time.RFC3339, createdAtStr)
			if err != nil {
				return nil, fmt.Errorf("%w: parsing created_at %q: %v", errs.ErrInvalidArgument, createdAtStr, err)
			}
		}
		out = append(out, Record{UID: uid, CreatedAt: createdAt.UTC(), FileLocation: location})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating source rows: %v", errs.ErrTransient, err)
	}
	return out, nil
}
