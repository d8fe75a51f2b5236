package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/datavisioneasystore/des/errs"
	"gopkg.in/yaml.v3"
)

// ZoneRange is a half-open shard-index range [Start, End) owned by a single
// blob-store zone.
type ZoneRange struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// Contains reports whether shardIndex falls within [Start, End).
func (r ZoneRange) Contains(shardIndex int) bool {
	return shardIndex >= r.Start && shardIndex < r.End
}

// ZoneConfig names one blob-store destination and the shard-index range it
// owns. Bucket/prefix/region/endpoint are carried flat; blobstore decides
// what transport actually serves the zone.
type ZoneConfig struct {
	Name        string    `yaml:"name" json:"name"`
	Range       ZoneRange `yaml:"range" json:"range"`
	Bucket      string    `yaml:"bucket" json:"bucket"`
	Prefix      string    `yaml:"prefix" json:"prefix"`
	RegionName  string    `yaml:"region_name" json:"region_name"`
	EndpointURL string    `yaml:"endpoint_url" json:"endpoint_url"`
}

type zonesFile struct {
	NBits int          `yaml:"n_bits" json:"n_bits"`
	Zones []zoneRecord `yaml:"zones" json:"zones"`
}

type zoneRecord struct {
	Name  string `yaml:"name" json:"name"`
	Range struct {
		Start int `yaml:"start" json:"start"`
		End   int `yaml:"end" json:"end"`
	} `yaml:"range" json:"range"`
	S3 struct {
		Bucket      string `yaml:"bucket" json:"bucket"`
		Prefix      string `yaml:"prefix" json:"prefix"`
		RegionName  string `yaml:"region_name" json:"region_name"`
		EndpointURL string `yaml:"endpoint_url" json:"endpoint_url"`
	} `yaml:"s3" json:"s3"`
}

// LoadZonesFile loads a multi-zone blob-store routing table from a YAML or
// JSON file, keyed by extension. It does not validate coverage; callers
// needing a fully-validated router should pass the result to
// retriever.NewZoneRouter, which performs the coverage/overlap check.
func LoadZonesFile(path string) (nBits int, zones []ZoneConfig, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading zones file %s: %v", errs.ErrInvalidArgument, path, err)
	}

	var parsed zonesFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return 0, nil, fmt.Errorf("%w: parsing YAML zones file %s: %v", errs.ErrInvalidArgument, path, err)
		}
	case ".json":
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return 0, nil, fmt.Errorf("%w: parsing JSON zones file %s: %v", errs.ErrInvalidArgument, path, err)
		}
	default:
		return 0, nil, fmt.Errorf("%w: unsupported zones config format %s", errs.ErrInvalidArgument, path)
	}

	if parsed.NBits == 0 {
		parsed.NBits = DefaultNBits
	}
	if len(parsed.Zones) == 0 {
		return 0, nil, fmt.Errorf("%w: zones file %s defines no zones", errs.ErrInvalidArgument, path)
	}

	out := make([]ZoneConfig, 0, len(parsed.Zones))
	for _, z := range parsed.Zones {
		if z.Name == "" || z.S3.Bucket == "" {
			return 0, nil, fmt.Errorf("%w: zone missing required name/bucket fields in %s", errs.ErrInvalidArgument, path)
		}
		out = append(out, ZoneConfig{
			Name:        z.Name,
			Range:       ZoneRange{Start: z.Range.Start, End: z.Range.End},
			Bucket:      z.S3.Bucket,
			Prefix:      z.S3.Prefix,
			RegionName:  z.S3.RegionName,
			EndpointURL: z.S3.EndpointURL,
		})
	}
	return parsed.NBits, out, nil
}
