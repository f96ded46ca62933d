package convert

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/nismod/smif/internal/data"
)

// coverageTolerance is the largest fraction of a sink coordinate that
// may be left uncovered by source coordinates: each sink coordinate
// must be covered to at least 1 - coverageTolerance for a conversion
// to be accepted. Below that the conversion is rejected rather than
// silently under-filled.
const coverageTolerance = 1e-6

// Coord is one coordinate of a dimension set together with its
// measure: area for region dimensions, duration in hours for interval
// dimensions.
type Coord struct {
	Name    string
	Measure float64
}

// Intersection records the shared measure between one source and one
// sink coordinate: intersection area for regions, overlap duration for
// intervals.
type Intersection struct {
	Source string
	Sink   string
	Weight float64
}

// DimConversion is a registered mapping between two coordinate lists
// on one dimension. Source and Sink carry the full measure of each
// coordinate; Intersections carry the pairwise overlaps.
type DimConversion struct {
	Dim           string
	Source        []Coord
	Sink          []Coord
	Intersections []Intersection
}

// dimKey identifies a registered conversion by dimension name and the
// exact coordinate lists on either side.
type dimKey struct {
	dim, source, sink string
}

func fingerprint(labels []string) string {
	return strings.Join(labels, "\x1f")
}

// unitDef expresses a unit as a linear-affine transform onto a base
// unit: base_value = value*Factor + Offset.
type unitDef struct {
	base   string
	factor float64
	offset float64
}

// Registry holds every conversion the adaptors may apply: dimension
// mappings (region and interval) and the unit table. A Registry is
// built at configuration load and read-only afterwards, so it is safe
// for concurrent use by parallel jobs.
type Registry struct {
	dims  map[dimKey]*DimConversion
	units map[string]unitDef
}

// NewRegistry returns a Registry pre-loaded with the default unit
// table.
func NewRegistry() *Registry {
	r := &Registry{
		dims:  make(map[dimKey]*DimConversion),
		units: make(map[string]unitDef),
	}
	r.registerDefaultUnits()
	return r
}

// normName canonicalizes unit and dimension names from configuration:
// NFC normalization plus whitespace trim, so visually identical YAML
// strings hit the same table entry.
func normName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// RegisterDimConversion adds a dimension mapping. Both directions must
// be registered separately if both are needed; a mapping is looked up
// by the exact (source coords, sink coords) pair.
func (r *Registry) RegisterDimConversion(dc DimConversion) error {
	if dc.Dim == "" {
		return fmt.Errorf("dim conversion has no dimension name")
	}
	srcNames := make([]string, len(dc.Source))
	srcIndex := make(map[string]int, len(dc.Source))
	for i, c := range dc.Source {
		srcNames[i] = c.Name
		srcIndex[c.Name] = i
	}
	sinkNames := make([]string, len(dc.Sink))
	sinkIndex := make(map[string]int, len(dc.Sink))
	for i, c := range dc.Sink {
		sinkNames[i] = c.Name
		sinkIndex[c.Name] = i
	}
	for _, x := range dc.Intersections {
		if _, ok := srcIndex[x.Source]; !ok {
			return fmt.Errorf("dim conversion %s: intersection names unknown source %q", dc.Dim, x.Source)
		}
		if _, ok := sinkIndex[x.Sink]; !ok {
			return fmt.Errorf("dim conversion %s: intersection names unknown sink %q", dc.Dim, x.Sink)
		}
		if x.Weight < 0 {
			return fmt.Errorf("dim conversion %s: negative weight for %s/%s", dc.Dim, x.Source, x.Sink)
		}
	}
	key := dimKey{dim: normName(dc.Dim), source: fingerprint(srcNames), sink: fingerprint(sinkNames)}
	r.dims[key] = &dc
	return nil
}

// lookupDim finds a registered conversion for a dimension between two
// coordinate lists, or nil.
func (r *Registry) lookupDim(dim string, source, sink []string) *DimConversion {
	return r.dims[dimKey{dim: normName(dim), source: fingerprint(source), sink: fingerprint(sink)}]
}

// RegisterUnit declares a unit as a linear-affine transform onto a
// base unit. Units sharing a base are mutually convertible.
func (r *Registry) RegisterUnit(name, base string, factor, offset float64) {
	r.units[normName(name)] = unitDef{base: normName(base), factor: factor, offset: offset}
}

// UnitConvertible reports whether two units share a base in the table.
// Equal unit names are always convertible.
func (r *Registry) UnitConvertible(from, to string) bool {
	from, to = normName(from), normName(to)
	if from == to {
		return true
	}
	fd, ok := r.units[from]
	if !ok {
		return false
	}
	td, ok := r.units[to]
	if !ok {
		return false
	}
	return fd.base == td.base
}

// IsConvertible reports whether data produced under source could be
// adapted to sink: same dimension name set, a registered conversion
// for every dimension whose coordinates differ, and convertible units.
func (r *Registry) IsConvertible(source, sink data.Spec) bool {
	if !source.SameDimSet(sink) {
		return false
	}
	for _, dim := range sink.Dims {
		src, dst := source.Coords[dim], sink.Coords[dim]
		if fingerprint(src) == fingerprint(dst) {
			continue
		}
		if sink.Role(dim) == data.RolePlain {
			return false
		}
		if r.lookupDim(dim, src, dst) == nil {
			return false
		}
	}
	return r.UnitConvertible(source.Unit, sink.Unit)
}

// registerDefaultUnits loads the stock unit table: SI-prefixed energy
// and power, volumes, lengths, temperature, counts and currency.
func (r *Registry) registerDefaultUnits() {
	prefixes := []struct {
		p string
		f float64
	}{
		{"", 1}, {"k", 1e3}, {"M", 1e6}, {"G", 1e9}, {"T", 1e12},
	}
	for _, px := range prefixes {
		r.RegisterUnit(px.p+"Wh", "Wh", px.f, 0)
		r.RegisterUnit(px.p+"W", "W", px.f, 0)
		r.RegisterUnit(px.p+"J", "J", px.f, 0)
	}
	r.RegisterUnit("Wh/a", "Wh/a", 1, 0)

	// Water volumes: cubic metres and megalitres share a base.
	r.RegisterUnit("m^3", "m^3", 1, 0)
	r.RegisterUnit("Ml", "m^3", 1e3, 0)
	r.RegisterUnit("Gl", "m^3", 1e6, 0)

	r.RegisterUnit("mm", "m", 1e-3, 0)
	r.RegisterUnit("m", "m", 1, 0)
	r.RegisterUnit("km", "m", 1e3, 0)

	// Temperature is the affine case.
	r.RegisterUnit("K", "K", 1, 0)
	r.RegisterUnit("degC", "K", 1, 273.15)

	r.RegisterUnit("people", "people", 1, 0)
	r.RegisterUnit("thousand people", "people", 1e3, 0)
	r.RegisterUnit("million people", "people", 1e6, 0)

	r.RegisterUnit("GBP", "GBP", 1, 0)
	r.RegisterUnit("million GBP", "GBP", 1e6, 0)
}
