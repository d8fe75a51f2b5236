// Multi-zone routing: a shard-index range to blob-store map, validated for
// full coverage and no overlap.
package retriever

import (
	"fmt"
	"sort"

	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
)

// ZoneRouter maps a shard index in [0, 2^n_bits) to the blob-store owning
// that range. Constructing one validates that the configured ranges cover
// [0, 2^n_bits) with every index claimed exactly once.
type ZoneRouter struct {
	nBits int
	zones []zoneBinding
}

type zoneBinding struct {
	cfg   config.ZoneConfig
	store blobstore.Store
}

// NewZoneRouter builds a ZoneRouter from zones (each paired with the
// blobstore.Store it resolves to, supplied by the caller since DES's
// blobstore has no notion of "open this bucket by name"). nBits bounds the
// valid shard-index domain.
func NewZoneRouter(nBits int, zones []config.ZoneConfig, stores map[string]blobstore.Store) (*ZoneRouter, error) {
	if nBits < 4 || nBits > 16 {
		return nil, fmt.Errorf("%w: n_bits %d outside valid range 4..16", errs.ErrInvalidArgument, nBits)
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("%w: zone router requires at least one zone", errs.ErrInvalidArgument)
	}

	bindings := make([]zoneBinding, 0, len(zones))
	for _, z := range zones {
		store, ok := stores[z.Name]
		if !ok {
			return nil, fmt.Errorf("%w: no store supplied for zone %q", errs.ErrInvalidArgument, z.Name)
		}
		bindings = append(bindings, zoneBinding{cfg: z, store: store})
	}

	domain := 1 << uint(nBits)
	if err := validateCoverage(bindings, domain); err != nil {
		return nil, err
	}

	sort.Slice(bindings, func(i, j int) bool { return bindings[i].cfg.Range.Start < bindings[j].cfg.Range.Start })
	return &ZoneRouter{nBits: nBits, zones: bindings}, nil
}

// validateCoverage walks an ownership table over [0, domain) verifying
// every index is claimed by exactly one zone.
func validateCoverage(bindings []zoneBinding, domain int) error {
	owner := make([]string, domain)
	for _, b := range bindings {
		r := b.cfg.Range
		if r.Start < 0 || r.End > domain || r.Start >= r.End {
			return fmt.Errorf("%w: zone %q has invalid range [%d,%d) for domain [0,%d)", errs.ErrInvalidArgument, b.cfg.Name, r.Start, r.End, domain)
		}
		for i := r.Start; i < r.End; i++ {
			if owner[i] != "" {
				return fmt.Errorf("%w: shard index %d claimed by both zone %q and zone %q", errs.ErrInvalidArgument, i, owner[i], b.cfg.Name)
			}
			owner[i] = b.cfg.Name
		}
	}
	for i, name := range owner {
		if name == "" {
			return fmt.Errorf("%w: shard index %d is not covered by any zone", errs.ErrInvalidArgument, i)
		}
	}
	return nil
}

// StoreFor returns the blob-store owning shardIndex, along with the owning
// zone's name.
func (zr *ZoneRouter) StoreFor(shardIndex int) (blobstore.Store, string, error) {
	for _, b := range zr.zones {
		if b.cfg.Range.Contains(shardIndex) {
			return b.store, b.cfg.Name, nil
		}
	}
	return nil, "", fmt.Errorf("%w: shard index %d owned by no configured zone", errs.ErrInvalidArgument, shardIndex)
}

// Zones returns the configured zone bindings' names and ranges, for
// diagnostics/CLI introspection.
func (zr *ZoneRouter) Zones() []config.ZoneConfig {
	out := make([]config.ZoneConfig, len(zr.zones))
	for i, b := range zr.zones {
		out[i] = b.cfg
	}
	return out
}
