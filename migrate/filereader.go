package migrate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/errs"
)

// FileReader reads a source record's payload by its file_location string.
type FileReader interface {
	Read(ctx context.Context, location string) ([]byte, error)
}

// LocalFileReader reads plain filesystem paths.
type LocalFileReader struct{}

func (LocalFileReader) Read(_ context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("%w: reading source file %s: %v", errs.ErrTransient, location, err)
	}
	return data, nil
}

// storeFileReaderPrefix marks locations handled by a blobstore-backed
// reader instead of the local filesystem.
const storeFileReaderPrefix = "s3://"

// StoreFileReader reads "s3://bucket/key"-shaped locations through a
// blobstore.Store, stripping the scheme and any bucket segment the store
// itself doesn't need.
type StoreFileReader struct {
	Store blobstore.Store
}

func (r StoreFileReader) Read(ctx context.Context, location string) ([]byte, error) {
	data, err := r.Store.Get(ctx, storeKeyForLocation(location))
	if err != nil {
		return nil, fmt.Errorf("%w: reading source object %s: %v", errs.ErrTransient, location, err)
	}
	return data, nil
}

// storeKeyForLocation strips the scheme and bucket segment from an
// "s3://bucket/key" location, leaving the store-relative key.
func storeKeyForLocation(location string) string {
	key := strings.TrimPrefix(location, storeFileReaderPrefix)
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		key = key[idx+1:]
	}
	return key
}

func isRemoteLocation(location string) bool {
	return strings.HasPrefix(location, storeFileReaderPrefix)
}
