package source

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/datavisioneasystore/des/watermark"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE files (uid TEXT, created_at TEXT, file_location TEXT)`)
	require.NoError(t, err)

	rows := []struct {
		uid, createdAt, loc string
	}{
		{"1", "2026-01-02T00:00:00Z", "/src/1"},
		{"2", "2026-01-03T00:00:00Z", "/src/2"},
		{"3", "2026-01-04T00:00:00Z", "/src/3"},
		{"4", "2026-02-01T00:00:00Z", "/src/4"}, // outside window
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO files (uid, created_at, file_location) VALUES (?, ?, ?)`, r.uid, r.createdAt, r.loc)
		require.NoError(t, err)
	}
	return db
}

func TestProvider_ForEachInWindow(t *testing.T) {
	db := setupDB(t)
	cfg := DefaultConfig("files")
	cfg.PageSize = 2 // force multiple pages
	p := NewProvider(db, cfg)

	win := watermark.Window{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}

	var got []Record
	err := p.ForEachInWindow(context.Background(), win, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].UID)
	assert.Equal(t, "2", got[1].UID)
	assert.Equal(t, "3", got[2].UID)
}

func TestProvider_ShardFilter(t *testing.T) {
	db := setupDB(t)
	cfg := DefaultConfig("files")
	cfg.ShardsTotal = 2
	cfg.ShardID = 0
	p := NewProvider(db, cfg)

	win := watermark.Window{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}

	var got []Record
	err := p.ForEachInWindow(context.Background(), win, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	for _, r := range got {
		assert.Equal(t, 0, shardOf(r.UID, 2))
	}
}

func TestProvider_StopsOnCallbackError(t *testing.T) {
	db := setupDB(t)
	p := NewProvider(db, DefaultConfig("files"))
	win := watermark.Window{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}

	boom := assert.AnError
	count := 0
	err := p.ForEachInWindow(context.Background(), win, func(r Record) error {
		count++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count)
}
