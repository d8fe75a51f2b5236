package migrate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/shard"
	"github.com/datavisioneasystore/des/sidecar"
	"github.com/datavisioneasystore/des/source"
	"github.com/datavisioneasystore/des/watermark"
	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// maxConcurrentUploads bounds how many planned shards a single cycle packs
// and uploads at once.
const maxConcurrentUploads = 4

// CycleResult reports what a single migration cycle did.
type CycleResult struct {
	RunID          string
	FilesProcessed int
	FilesMigrated  int
	FilesFailed    int
	ShardsCreated  int
	TotalSizeBytes int64
	Duration       time.Duration
	Window         watermark.Window
	Errors         []string
}

// Config bundles everything a migration cycle needs beyond the stores it's
// handed directly.
type Config struct {
	Source            source.Config
	Planner           PlannerConfig
	Compression       config.CompressionConfig
	DES               config.DESConfig
	DeleteSourceFiles bool
	// DefaultArchivedUntil seeds the watermark on first run, if the
	// des_archive_config row doesn't exist yet.
	DefaultArchivedUntil time.Time
	DefaultLagDays       int
}

// Orchestrator drives one migration cycle: compute the archive window,
// stream matching source records, plan and pack shards, upload them plus
// their sidecars, and advance the watermark in a single update.
type Orchestrator struct {
	watermarkRepo *watermark.Repository
	sourceDB      *source.Provider
	store         blobstore.Store
	sidecars      *sidecar.Manager
	fileReader    FileReader
	cfg           Config
}

// NewOrchestrator wires the pieces of one migration pipeline together.
// fileReader may be nil, in which case locations are read from the local
// filesystem unless they carry an "s3://" prefix, in which case they're
// read from store.
func NewOrchestrator(repo *watermark.Repository, sourceDB *source.Provider, store blobstore.Store, sidecars *sidecar.Manager, fileReader FileReader, cfg Config) *Orchestrator {
	if fileReader == nil {
		fileReader = defaultFileReader{local: LocalFileReader{}, remote: StoreFileReader{Store: store}}
	}
	return &Orchestrator{
		watermarkRepo: repo,
		sourceDB:      sourceDB,
		store:         store,
		sidecars:      sidecars,
		fileReader:    fileReader,
		cfg:           cfg,
	}
}

type defaultFileReader struct {
	local  FileReader
	remote FileReader
}

func (r defaultFileReader) Read(ctx context.Context, location string) ([]byte, error) {
	if isRemoteLocation(location) {
		return r.remote.Read(ctx, location)
	}
	return r.local.Read(ctx, location)
}

// Initialize ensures the des_archive_config singleton row exists.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	defaultArchivedUntil := o.cfg.DefaultArchivedUntil
	if defaultArchivedUntil.IsZero() {
		defaultArchivedUntil = time.Now().UTC().AddDate(0, 0, -30)
	}
	lagDays := o.cfg.DefaultLagDays
	if lagDays <= 0 {
		lagDays = 7
	}
	if err := o.watermarkRepo.EnsureInitialized(ctx, defaultArchivedUntil, lagDays); err != nil {
		return err
	}
	klog.InfoS("migration watermark initialized", "archived_until", defaultArchivedUntil, "lag_days", lagDays)
	return nil
}

// RunCycle executes exactly one migration cycle: compute the window,
// collect and pack matching files, upload shards and sidecars, then
// advance the watermark once if anything migrated.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleResult, error) {
	runID := uuid.NewString()
	start := time.Now()
	now := time.Now().UTC()

	window, err := o.watermarkRepo.ComputeWindow(ctx, now)
	if err != nil {
		return CycleResult{}, err
	}
	if !window.End.After(window.Start) {
		klog.InfoS("no new files to archive", "run_id", runID)
		return CycleResult{RunID: runID, Window: window, Duration: time.Since(start)}, nil
	}
	klog.InfoS("archive window computed", "run_id", runID, "start", window.Start, "end", window.End)

	files, locationByUID, errs0 := o.collectFiles(ctx, window)
	result := CycleResult{RunID: runID, FilesProcessed: len(files) + len(errs0), Window: window, Errors: errs0}

	plan, err := Plan(files, o.cfg.Planner)
	if err != nil {
		return CycleResult{}, fmt.Errorf("run_id=%s: %w", runID, err)
	}

	migratedLocations, shardErrs, totalSize, err := o.packAndUpload(ctx, runID, plan, locationByUID)
	result.Errors = append(result.Errors, shardErrs...)
	result.ShardsCreated = len(plan.Shards)
	result.TotalSizeBytes = totalSize
	result.FilesMigrated = len(migratedLocations)
	result.FilesFailed = result.FilesProcessed - result.FilesMigrated
	if err != nil {
		return result, err
	}

	if result.FilesMigrated > 0 {
		if _, err := o.watermarkRepo.AdvanceCutoff(ctx, now); err != nil {
			return result, err
		}
		klog.InfoS("watermark advanced", "run_id", runID, "archived_until", window.End)

		if o.cfg.DeleteSourceFiles {
			o.cleanupSources(migratedLocations, &result.Errors)
		}
	}

	result.Duration = time.Since(start)
	klog.InfoS("migration cycle complete",
		"run_id", runID,
		"files_migrated", result.FilesMigrated,
		"files_failed", result.FilesFailed,
		"shards_created", result.ShardsCreated,
		"total_size", humanize.Bytes(uint64(result.TotalSizeBytes)),
		"duration", result.Duration,
	)
	return result, nil
}

// collectFiles streams every record in window through the source provider,
// validating each one is readable, and returns the FileToPack descriptors
// alongside their original locations (keyed by uid, for post-upload
// cleanup) and any validation error strings.
func (o *Orchestrator) collectFiles(ctx context.Context, window watermark.Window) ([]FileToPack, map[string]string, []string) {
	var files []FileToPack
	var errorsOut []string
	locationByUID := make(map[string]string)

	err := o.sourceDB.ForEachInWindow(ctx, window, func(rec source.Record) error {
		size, err := o.statSource(ctx, rec.FileLocation)
		if err != nil {
			errorsOut = append(errorsOut, fmt.Sprintf("validation failed for %s: %v", rec.UID, err))
			return nil
		}
		files = append(files, FileToPack{
			UID:        rec.UID,
			CreatedAt:  rec.CreatedAt,
			SizeBytes:  size,
			SourcePath: rec.FileLocation,
		})
		locationByUID[rec.UID] = rec.FileLocation
		return nil
	})
	if err != nil {
		errorsOut = append(errorsOut, fmt.Sprintf("fetching source window: %v", err))
	}
	return files, locationByUID, errorsOut
}

func (o *Orchestrator) statSource(ctx context.Context, location string) (int64, error) {
	if isRemoteLocation(location) {
		info, err := o.store.Head(ctx, storeKeyForLocation(location))
		if err != nil {
			return 0, err
		}
		return info.Size, nil
	}
	fi, err := os.Stat(location)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrNotFound, err)
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", errs.ErrInvalidArgument, location)
	}
	return fi.Size(), nil
}

// packAndUpload packs each planned shard, uploads its bytes and sidecar to
// the store, and returns every successfully migrated file's original
// location (for optional cleanup) plus any per-shard error strings.
func (o *Orchestrator) packAndUpload(ctx context.Context, runID string, plan PackPlan, locationByUID map[string]string) ([]string, []string, int64, error) {
	type shardOutcome struct {
		locations []string
		size      int64
		errMsgs   []string
	}
	outcomes := make([]shardOutcome, len(plan.Shards))
	shardKeys, err := o.shardObjectKeys(ctx, plan)
	if err != nil {
		return nil, nil, 0, err
	}

	// bigFiles tracks BigFile object keys already PUT to the store this
	// cycle so two shards that happen to carry the same BigFile don't
	// upload it twice. Keyed by the full object key, not the bare hash:
	// shards in different date directories produce distinct BigFile
	// objects even for identical content.
	bigFiles := &bigFileTracker{uploaded: make(map[string]bool)}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentUploads)

	for i, planned := range plan.Shards {
		i, planned, shardKey := i, planned, shardKeys[i]
		group.Go(func() error {
			locs, size, skipped, err := o.packShard(gctx, shardKey, planned, locationByUID, bigFiles)
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("run_id=%s: shard %s: %v", runID, shardKey, err))
				outcomes[i] = shardOutcome{errMsgs: skipped}
				return nil
			}
			outcomes[i] = shardOutcome{locations: locs, size: size, errMsgs: skipped}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, 0, err
	}

	var locations []string
	var errMsgs []string
	var totalSize int64
	for _, oc := range outcomes {
		locations = append(locations, oc.locations...)
		totalSize += oc.size
		errMsgs = append(errMsgs, oc.errMsgs...)
	}
	return locations, errMsgs, totalSize, nil
}

// shardObjectKeys renders one object key per plan.Shards entry. Physical
// shards sharing a routing key are suffixed "_NNNN" in creation order; the
// numbering continues after any shard already present in the store, so a
// re-run of the same window never overwrites a previously uploaded shard.
func (o *Orchestrator) shardObjectKeys(ctx context.Context, plan PackPlan) ([]string, error) {
	next := make(map[ShardKey]int, len(plan.Shards))
	keys := make([]string, len(plan.Shards))
	for i, p := range plan.Shards {
		if _, ok := next[p.Key]; !ok {
			n, err := o.nextShardSuffix(ctx, p.Key)
			if err != nil {
				return nil, err
			}
			next[p.Key] = n
		}
		keys[i] = fmt.Sprintf("%s_%04d.des", p.Key.String(), next[p.Key])
		next[p.Key]++
	}
	return keys, nil
}

// nextShardSuffix returns one past the highest "_NNNN" suffix already in
// the store for key's routing prefix.
func (o *Orchestrator) nextShardSuffix(ctx context.Context, key ShardKey) (int, error) {
	existing, err := o.store.List(ctx, key.String())
	if err != nil {
		return 0, fmt.Errorf("%w: listing existing shards for %s: %v", errs.ErrTransient, key, err)
	}
	next := 0
	for _, k := range existing {
		if !strings.HasSuffix(k, ".des") {
			continue
		}
		base := strings.TrimSuffix(k, ".des")
		if idx := strings.LastIndexByte(base, '_'); idx >= 0 {
			if n, err := strconv.Atoi(base[idx+1:]); err == nil && n >= next {
				next = n + 1
			}
		}
	}
	return next, nil
}

// bigFileTracker records which BigFile object keys have already been
// uploaded during the current cycle, shared across the concurrent
// packShard calls packAndUpload fans out.
type bigFileTracker struct {
	mu       sync.Mutex
	uploaded map[string]bool
}

// claim reports whether key needs uploading, marking it claimed either way.
func (t *bigFileTracker) claim(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.uploaded[key] {
		return false
	}
	t.uploaded[key] = true
	return true
}

// packShard reads every file in planned into a shard.Writer, uploads the
// finished shard body, its staged BigFiles, and a sidecar built from the
// packed entries, and
// returns the source locations that made it in plus per-file skip
// messages for anything that didn't.
func (o *Orchestrator) packShard(ctx context.Context, shardKey string, planned PlannedShard, locationByUID map[string]string, bigFiles *bigFileTracker) ([]string, int64, []string, error) {
	var buf bytes.Buffer
	bigFilesDir, err := os.MkdirTemp("", "des-bigfiles-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: creating bigfiles staging dir: %v", errs.ErrTransient, err)
	}
	defer os.RemoveAll(bigFilesDir)

	w := shard.NewWriter(&buf, o.cfg.Compression, o.cfg.DES, bigFilesDir)
	var migrated []string
	var skipped []string

	type packedFile struct {
		entry     *shard.Entry
		createdAt time.Time
		checksum  string
	}
	var packed []packedFile

	for _, f := range planned.Files {
		data, err := o.fileReader.Read(ctx, f.SourcePath)
		if err != nil {
			klog.ErrorS(err, "skipping unreadable source file", "uid", f.UID, "location", f.SourcePath)
			skipped = append(skipped, fmt.Sprintf("reading %s (%s): %v", f.UID, f.SourcePath, err))
			continue
		}
		meta := map[string]any{"created_at": f.CreatedAt.UTC().Format(time.RFC3339Nano)}
		entry, err := w.AddFile(f.UID, data, meta)
		if err != nil {
			klog.ErrorS(err, "skipping file that failed to pack", "uid", f.UID)
			skipped = append(skipped, fmt.Sprintf("packing %s into %s: %v", f.UID, shardKey, err))
			continue
		}
		sum := sha256.Sum256(data)
		packed = append(packed, packedFile{entry: entry, createdAt: f.CreatedAt, checksum: hex.EncodeToString(sum[:])})
		migrated = append(migrated, locationByUID[f.UID])
	}
	if err := w.Finalize(); err != nil {
		return nil, 0, skipped, err
	}

	shardBytes := buf.Bytes()
	if err := o.store.Put(ctx, shardKey, bytes.NewReader(shardBytes), "application/octet-stream"); err != nil {
		return nil, 0, skipped, fmt.Errorf("%w: uploading shard %s: %v", errs.ErrTransient, shardKey, err)
	}

	if err := o.uploadBigFiles(ctx, shardKey, bigFilesDir, bigFiles); err != nil {
		return nil, 0, skipped, err
	}

	// The sidecar is built from the entries and checksums already in hand
	// rather than re-fetching the shard just uploaded.
	meta := sidecar.New(path.Base(shardKey), int64(len(shardBytes)), time.Now().UTC())
	for _, p := range packed {
		meta.Index[sidecar.BuildKey(p.entry.UID, p.createdAt)] = sidecar.IndexEntry(p.entry, p.checksum)
	}
	meta.RecomputeStats()
	if err := o.sidecars.SaveMetadata(ctx, shardKey, meta); err != nil {
		return nil, 0, skipped, err
	}

	return migrated, int64(len(shardBytes)), skipped, nil
}

// uploadBigFiles walks w's staging directory and PUTs every file Writer
// placed there to dirname(shardKey)/{bigfiles_prefix}/{hash}, skipping any
// BigFile object key already uploaded earlier in this cycle by another
// shard.
func (o *Orchestrator) uploadBigFiles(ctx context.Context, shardKey, bigFilesDir string, bigFiles *bigFileTracker) error {
	entries, err := os.ReadDir(bigFilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: reading bigfiles staging dir for %s: %v", errs.ErrTransient, shardKey, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		hash := entry.Name()
		bigfileKey := shard.BuildBigFileKey(shardKey, o.cfg.DES.BigfilesPrefix, hash)
		if !bigFiles.claim(bigfileKey) {
			continue
		}
		staged := filepath.Join(bigFilesDir, hash)
		body, err := os.Open(staged)
		if err != nil {
			return fmt.Errorf("%w: reading staged bigfile %s: %v", errs.ErrTransient, staged, err)
		}
		putErr := o.store.Put(ctx, bigfileKey, body, "application/octet-stream")
		body.Close()
		if putErr != nil {
			return fmt.Errorf("%w: uploading bigfile %s: %v", errs.ErrTransient, bigfileKey, putErr)
		}
	}
	return nil
}

// cleanupSources deletes local source files after a successful migration.
// Remote ("s3://") locations are left alone: blobstore.Store has no delete
// operation.
func (o *Orchestrator) cleanupSources(locations []string, errorsOut *[]string) {
	for _, loc := range locations {
		if loc == "" || isRemoteLocation(loc) {
			continue
		}
		if err := os.Remove(loc); err != nil && !os.IsNotExist(err) {
			*errorsOut = append(*errorsOut, fmt.Sprintf("failed to delete %s: %v", loc, err))
		}
	}
}

// PendingStats reports how many files are waiting in the current archive
// window, without packing anything.
func (o *Orchestrator) PendingStats(ctx context.Context) (count int, window watermark.Window, err error) {
	window, err = o.watermarkRepo.ComputeWindow(ctx, time.Now().UTC())
	if err != nil {
		return 0, watermark.Window{}, err
	}
	err = o.sourceDB.ForEachInWindow(ctx, window, func(source.Record) error {
		count++
		return nil
	})
	return count, window, err
}
