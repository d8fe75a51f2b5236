// Package sidecar implements the JSON metadata document that accompanies
// every shard, recording its index (by uid:created_at key), tombstones,
// and summary stats. A lost sidecar is rebuildable from the shard itself.
package sidecar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/datavisioneasystore/des/errs"
)

// Metadata is the decoded form of a shard's ".meta" sidecar.
type Metadata struct {
	Version     int                       `json:"version"`
	ShardFile   string                    `json:"shard_file"`
	ShardSize   int64                     `json:"shard_size"`
	CreatedAt   time.Time                 `json:"-"`
	LastUpdated time.Time                 `json:"-"`
	Index       map[string]map[string]any `json:"index"`
	Tombstones  map[string]map[string]any `json:"tombstones"`
	Stats       map[string]any            `json:"stats"`
}

// jsonDoc mirrors the wire representation; CreatedAt/LastUpdated are
// re-formatted through FormatTimestamp into the Z-suffixed UTC style.
type jsonDoc struct {
	Version     int                       `json:"version"`
	ShardFile   string                    `json:"shard_file"`
	ShardSize   int64                     `json:"shard_size"`
	CreatedAt   string                    `json:"created_at"`
	LastUpdated string                    `json:"last_updated"`
	Index       map[string]map[string]any `json:"index"`
	Tombstones  map[string]map[string]any `json:"tombstones"`
	Stats       map[string]any            `json:"stats"`
}

// FormatTimestamp renders t as a UTC ISO-8601 string with a literal "Z"
// suffix (the "Z07:00" reference layout prints "Z" at zero UTC offset).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999Z07:00")
}

func parseTimestamp(value, fieldName string) (time.Time, error) {
	raw := strings.TrimSpace(value)
	raw = strings.TrimSuffix(raw, "Z")
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999Z07:00",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid %s datetime format %q", errs.ErrCorruptMetadata, fieldName, value)
}

// BuildKey renders the canonical index/tombstone key for (uid, createdAt).
func BuildKey(uid string, createdAt time.Time) string {
	return uid + ":" + FormatTimestamp(createdAt)
}

// New builds an empty Metadata document for a freshly written shard.
func New(shardFile string, shardSize int64, createdAt time.Time) *Metadata {
	now := createdAt.UTC()
	return &Metadata{
		Version:     1,
		ShardFile:   shardFile,
		ShardSize:   shardSize,
		CreatedAt:   now,
		LastUpdated: now,
		Index:       map[string]map[string]any{},
		Tombstones:  map[string]map[string]any{},
		Stats:       map[string]any{"entries": 0, "deleted_files": 0, "deletion_ratio": 0.0},
	}
}

// ToJSON serializes m to its sidecar wire form.
func (m *Metadata) ToJSON() ([]byte, error) {
	doc := jsonDoc{
		Version:     m.Version,
		ShardFile:   m.ShardFile,
		ShardSize:   m.ShardSize,
		CreatedAt:   FormatTimestamp(m.CreatedAt),
		LastUpdated: FormatTimestamp(m.LastUpdated),
		Index:       m.Index,
		Tombstones:  m.Tombstones,
		Stats:       m.Stats,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: serializing sidecar metadata: %v", errs.ErrCorruptMetadata, err)
	}
	return b, nil
}

// FromJSON parses a sidecar document, validating required fields.
func FromJSON(data []byte) (*Metadata, error) {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON payload: %v", errs.ErrCorruptMetadata, err)
	}
	if doc.ShardFile == "" || doc.CreatedAt == "" || doc.LastUpdated == "" {
		return nil, fmt.Errorf("%w: missing required metadata fields", errs.ErrCorruptMetadata)
	}
	if doc.ShardSize < 0 {
		return nil, fmt.Errorf("%w: shard_size must be non-negative", errs.ErrCorruptMetadata)
	}

	createdAt, err := parseTimestamp(doc.CreatedAt, "created_at")
	if err != nil {
		return nil, err
	}
	lastUpdated, err := parseTimestamp(doc.LastUpdated, "last_updated")
	if err != nil {
		return nil, err
	}

	if doc.Index == nil {
		doc.Index = map[string]map[string]any{}
	}
	if doc.Tombstones == nil {
		doc.Tombstones = map[string]map[string]any{}
	}
	if doc.Stats == nil {
		doc.Stats = map[string]any{}
	}

	return &Metadata{
		Version:     doc.Version,
		ShardFile:   doc.ShardFile,
		ShardSize:   doc.ShardSize,
		CreatedAt:   createdAt,
		LastUpdated: lastUpdated,
		Index:       doc.Index,
		Tombstones:  doc.Tombstones,
		Stats:       doc.Stats,
	}, nil
}

// IsTombstoned reports whether (uid, createdAt) has a tombstone entry.
func (m *Metadata) IsTombstoned(uid string, createdAt time.Time) bool {
	_, ok := m.Tombstones[BuildKey(uid, createdAt)]
	return ok
}

// GetEntry resolves uid's index entry: first by the exact
// "uid:created_at" key, then by a bare-uid legacy key, then — only if
// unambiguous — by a unique "uid:" prefix match.
func (m *Metadata) GetEntry(uid string, createdAt time.Time) (map[string]any, bool) {
	if entry, ok := m.Index[BuildKey(uid, createdAt)]; ok {
		return entry, true
	}
	if entry, ok := m.Index[uid]; ok {
		return entry, true
	}

	prefix := uid + ":"
	var match map[string]any
	matches := 0
	for key, entry := range m.Index {
		if strings.HasPrefix(key, prefix) {
			matches++
			match = entry
		}
	}
	if matches == 1 {
		return match, true
	}
	return nil, false
}

// AddTombstone records a deletion for (uid, createdAt) and refreshes stats.
// ticketID is optional and omitted from the record when empty. It returns
// errs.ErrAlreadyDeleted if the key is already tombstoned.
func (m *Metadata) AddTombstone(uid string, createdAt, deletedAt time.Time, deletedBy, reason, ticketID string) error {
	key := BuildKey(uid, createdAt)
	if _, exists := m.Tombstones[key]; exists {
		return fmt.Errorf("%w: %s", errs.ErrAlreadyDeleted, key)
	}

	record := map[string]any{
		"uid":        uid,
		"created_at": FormatTimestamp(createdAt),
		"deleted_at": FormatTimestamp(deletedAt),
		"deleted_by": deletedBy,
		"reason":     reason,
	}
	if ticketID != "" {
		record["ticket_id"] = ticketID
	}
	m.Tombstones[key] = record
	m.LastUpdated = deletedAt.UTC()
	m.RecomputeStats()
	return nil
}

// RecomputeStats refreshes the entries/deleted_files/deletion_ratio
// summary from the current index and tombstone maps.
func (m *Metadata) RecomputeStats() {
	total := len(m.Index)
	deleted := len(m.Tombstones)
	ratio := 0.0
	if total > 0 {
		ratio = float64(deleted) / float64(total)
	}
	m.Stats["entries"] = total
	m.Stats["deleted_files"] = deleted
	m.Stats["deletion_ratio"] = ratio
}
