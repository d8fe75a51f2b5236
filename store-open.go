package main

import (
	"strings"

	"github.com/datavisioneasystore/des/blobstore"
)

// openStore resolves a --store flag value to a blobstore.Store: an
// "http://" or "https://" URL opens a Remote client wrapped in the
// per-object range cache (so the retriever's cold header/index reads and
// its payload range-GETs of the same shard share cached byte ranges; the
// footer's suffix read and whole-object GETs are not cached), anything
// else is treated as a local filesystem root.
func openStore(location string) (blobstore.Store, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return blobstore.NewCached(blobstore.NewRemote(location), blobstore.DefaultCachedMaxMemoryPerObject), nil
	}
	return blobstore.NewLocal(location)
}
