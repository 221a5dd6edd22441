package provider

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/stackrent/stackrent/internal/core/domain"
)

// =============================================================================
// Normalized Catalog Types
// =============================================================================

// Region represents a cloud provider region.
type Region struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Available bool   `json:"available" yaml:"available"`
}

// Size represents an instance type/size option with its upstream hourly price.
type Size struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	VCPUs       int    `json:"vcpus" yaml:"vcpus"`
	MemoryMB    int64  `json:"memory_mb" yaml:"memory_mb"`
	DiskGB      int    `json:"disk_gb" yaml:"disk_gb"`
	PriceHourly string `json:"price_hourly" yaml:"price_hourly"` // decimal string, 4-digit precision
}

// Image represents a base OS image or a pre-baked application image.
type Image struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Application bool   `json:"application" yaml:"application"`
}

// =============================================================================
// Static Fallback Catalog
// =============================================================================

// catalog.yaml holds the per-kind fallback catalog served when a live
// upstream list call fails. Prices drift; the live API is authoritative.
//
//go:embed catalog.yaml
var catalogYAML []byte

type catalogEntry struct {
	Regions []Region `yaml:"regions"`
	Sizes   []Size   `yaml:"sizes"`
	Images  []Image  `yaml:"images"`
}

var staticCatalog map[domain.ProviderKind]catalogEntry

func init() {
	if err := yaml.Unmarshal(catalogYAML, &staticCatalog); err != nil {
		panic(fmt.Sprintf("invalid embedded provider catalog: %v", err))
	}
}

// StaticRegions returns the static region catalog for a provider kind.
func StaticRegions(kind domain.ProviderKind) []Region {
	return staticCatalog[kind].Regions
}

// StaticSizes returns the static size catalog for a provider kind.
func StaticSizes(kind domain.ProviderKind) []Size {
	return staticCatalog[kind].Sizes
}

// StaticImages returns the static image catalog for a provider kind.
func StaticImages(kind domain.ProviderKind) []Image {
	return staticCatalog[kind].Images
}

// LookupSize returns the Size for a given kind and size ID, or nil if not found.
func LookupSize(kind domain.ProviderKind, sizeID string) *Size {
	for _, s := range StaticSizes(kind) {
		if s.ID == sizeID {
			return &s
		}
	}
	return nil
}
