package shard

import (
	"path"
	"path/filepath"
	"strings"
)

// ResolveBigFilesDir returns the local directory BigFiles belonging to a
// shard at shardDir are stored under.
func ResolveBigFilesDir(shardDir, bigfilesPrefix string) string {
	return filepath.Join(shardDir, bigfilesPrefix)
}

// BuildBigFileKey returns the object key for a BigFile stored alongside
// shardKey in a remote blob store: the shard's parent "directory" plus the
// BigFiles prefix plus the content hash.
func BuildBigFileKey(shardKey, bigfilesPrefix, bigfileHash string) string {
	prefixClean := strings.Trim(bigfilesPrefix, "/")
	parent := path.Dir(shardKey)
	if parent == "." {
		parent = ""
	}

	var parts []string
	for _, p := range []string{parent, prefixClean, bigfileHash} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}
