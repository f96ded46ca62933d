package cli

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/store"
)

//go:embed schema.cue
var schemaCUE string

// LoadError reports a configuration file that failed to parse or
// validate.
type LoadError struct {
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// loader reads a project directory of YAML configuration into a store
// and conversion registry. Records are schema-checked against the
// embedded CUE definitions before they are decoded.
type loader struct {
	dir    string
	store  store.Store
	reg    *convert.Registry
	schema cue.Value

	// sectorModels is kept so narrative data can resolve parameter
	// specs by model name.
	sectorModels map[string]model.SectorModel
	scenarios    map[string]model.Scenario
}

// LoadProject loads every config record and data file under dir into
// the store and registry.
//
// Layout:
//
//	config/sector-models/*.yml
//	config/scenarios/*.yml
//	config/narratives/*.yml
//	config/sos-models/*.yml
//	config/model-runs/*.yml
//	config/dimensions/*.yml  (region/interval conversions)
//	config/units.yml         (extra unit definitions)
//
// Scenario variant data files are referenced from each variant's data
// map, relative to dir.
func LoadProject(ctx context.Context, dir string, st store.Store, reg *convert.Registry) error {
	schema := cuecontext.New().CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	l := &loader{
		dir:          dir,
		store:        st,
		reg:          reg,
		schema:       schema,
		sectorModels: make(map[string]model.SectorModel),
		scenarios:    make(map[string]model.Scenario),
	}

	steps := []func(context.Context) error{
		l.loadUnits,
		l.loadDimensions,
		l.loadSectorModels,
		l.loadScenarios,
		l.loadNarratives,
		l.loadSosModels,
		l.loadModelRuns,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// configFiles globs one config kind, sorted for deterministic load
// order.
func (l *loader) configFiles(kind string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(l.dir, "config", kind, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

// readRecord decodes one YAML file twice: into a raw map for CUE
// schema validation, then into the typed record.
func (l *loader) readRecord(path, definition string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{Path: path, Message: err.Error()}
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return &LoadError{Path: path, Message: fmt.Sprintf("parse: %v", err)}
	}

	def := l.schema.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema definition %s: %w", definition, err)
	}
	unified := def.Unify(l.schema.Context().Encode(generic))
	if err := unified.Validate(); err != nil {
		return &LoadError{Path: path, Message: fmt.Sprintf("schema: %v", err)}
	}

	if err := yaml.Unmarshal(raw, out); err != nil {
		return &LoadError{Path: path, Message: fmt.Sprintf("decode: %v", err)}
	}
	return nil
}

// sectorModelFile is the on-disk sector model record: the model plus
// its parameter default values.
type sectorModelFile struct {
	model.SectorModel `yaml:",inline"`
	ParameterDefaults map[string][]float64 `yaml:"parameter_defaults,omitempty"`
}

func (l *loader) loadSectorModels(ctx context.Context) error {
	paths, err := l.configFiles("sector-models")
	if err != nil {
		return err
	}
	for _, path := range paths {
		var record sectorModelFile
		if err := l.readRecord(path, "#SectorModel", &record); err != nil {
			return err
		}
		if err := l.store.WriteSectorModel(ctx, record.SectorModel); err != nil {
			return err
		}
		l.sectorModels[record.Name] = record.SectorModel
		for param, values := range record.ParameterDefaults {
			spec, ok := record.Parameters[param]
			if !ok {
				return &LoadError{Path: path,
					Message: fmt.Sprintf("parameter default for undeclared parameter %q", param)}
			}
			da, err := data.New(spec, values)
			if err != nil {
				return &LoadError{Path: path, Message: err.Error()}
			}
			if err := l.store.WriteModelParameterDefault(ctx, record.Name, param, da); err != nil {
				return err
			}
		}
	}
	return nil
}

// scenarioDataPoint is one row of a scenario variant data file.
type scenarioDataPoint struct {
	Timestep *int      `yaml:"timestep"`
	Values   []float64 `yaml:"values"`
}

func (l *loader) loadScenarios(ctx context.Context) error {
	paths, err := l.configFiles("scenarios")
	if err != nil {
		return err
	}
	for _, path := range paths {
		var record model.Scenario
		if err := l.readRecord(path, "#Scenario", &record); err != nil {
			return err
		}
		if err := l.store.WriteScenario(ctx, record); err != nil {
			return err
		}
		l.scenarios[record.Name] = record

		for _, variant := range record.Variants {
			for variable, rel := range variant.Data {
				spec, ok := record.Provides[variable]
				if !ok {
					return &LoadError{Path: path,
						Message: fmt.Sprintf("variant %q has data for undeclared variable %q", variant.Name, variable)}
				}
				if err := l.loadScenarioData(ctx, record.Name, variant.Name, variable, spec, rel); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (l *loader) loadScenarioData(ctx context.Context, scenario, variant, variable string, spec data.Spec, rel string) error {
	path := filepath.Join(l.dir, rel)
	raw, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{Path: path, Message: err.Error()}
	}
	var points []scenarioDataPoint
	if err := yaml.Unmarshal(raw, &points); err != nil {
		return &LoadError{Path: path, Message: fmt.Sprintf("parse: %v", err)}
	}
	for _, p := range points {
		da, err := data.New(spec, p.Values)
		if err != nil {
			return &LoadError{Path: path, Message: err.Error()}
		}
		timestep := store.TimestepAll
		if p.Timestep != nil {
			timestep = *p.Timestep
		}
		if err := l.store.WriteScenarioVariantData(ctx, scenario, variant, variable, timestep, da); err != nil {
			return err
		}
	}
	return nil
}

// narrativeFile is the on-disk narrative record: the narrative plus
// override values per variant and parameter.
type narrativeFile struct {
	model.Narrative `yaml:",inline"`
	Data            map[string]map[string][]float64 `yaml:"data,omitempty"`
}

func (l *loader) loadNarratives(ctx context.Context) error {
	paths, err := l.configFiles("narratives")
	if err != nil {
		return err
	}
	for _, path := range paths {
		var record narrativeFile
		if err := l.readRecord(path, "#Narrative", &record); err != nil {
			return err
		}
		if err := l.store.WriteNarrative(ctx, record.Narrative); err != nil {
			return err
		}
		for variant, params := range record.Data {
			for param, values := range params {
				spec, err := l.narrativeParamSpec(record.Narrative, param)
				if err != nil {
					return &LoadError{Path: path, Message: err.Error()}
				}
				da, err := data.New(spec, values)
				if err != nil {
					return &LoadError{Path: path, Message: err.Error()}
				}
				if err := l.store.WriteNarrativeVariantData(ctx, record.Name, variant, param, da); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// narrativeParamSpec resolves the spec of an overridden parameter from
// the sector model the narrative provides it to.
func (l *loader) narrativeParamSpec(n model.Narrative, param string) (data.Spec, error) {
	for modelName, params := range n.Provides {
		for _, p := range params {
			if p != param {
				continue
			}
			sm, ok := l.sectorModels[modelName]
			if !ok {
				return data.Spec{}, fmt.Errorf("narrative %s provides to unknown model %q", n.Name, modelName)
			}
			spec, ok := sm.Parameters[param]
			if !ok {
				return data.Spec{}, fmt.Errorf("model %s has no parameter %q", modelName, param)
			}
			return spec, nil
		}
	}
	return data.Spec{}, fmt.Errorf("narrative %s does not provide parameter %q", n.Name, param)
}

func (l *loader) loadSosModels(ctx context.Context) error {
	paths, err := l.configFiles("sos-models")
	if err != nil {
		return err
	}
	for _, path := range paths {
		var record model.SosModelConfig
		if err := l.readRecord(path, "#SosModel", &record); err != nil {
			return err
		}
		if err := l.store.WriteSosModel(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadModelRuns(ctx context.Context) error {
	paths, err := l.configFiles("model-runs")
	if err != nil {
		return err
	}
	for _, path := range paths {
		var record model.ModelRun
		if err := l.readRecord(path, "#ModelRun", &record); err != nil {
			return err
		}
		if err := l.store.WriteModelRun(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// coordDef is one coordinate of a dimension conversion file: an
// interval's hour range, a region's boxes, or a bare measure for
// pre-computed weights.
type coordDef struct {
	Name    string      `yaml:"name"`
	Start   int         `yaml:"start,omitempty"`
	End     int         `yaml:"end,omitempty"`
	Boxes   [][]float64 `yaml:"boxes,omitempty"`
	Measure float64     `yaml:"measure,omitempty"`
}

// conversionEntry declares one dimension conversion. Kind selects how
// intersections are derived: "interval" from hour ranges, "region"
// from box geometry, "weights" from explicit intersections.
type conversionEntry struct {
	Dim           string                 `yaml:"dim"`
	Kind          string                 `yaml:"kind"`
	Source        []coordDef             `yaml:"source"`
	Sink          []coordDef             `yaml:"sink"`
	Intersections []convert.Intersection `yaml:"intersections,omitempty"`
}

func (l *loader) loadDimensions(context.Context) error {
	paths, err := l.configFiles("dimensions")
	if err != nil {
		return err
	}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return &LoadError{Path: path, Message: err.Error()}
		}
		var entries []conversionEntry
		if err := yaml.Unmarshal(raw, &entries); err != nil {
			return &LoadError{Path: path, Message: fmt.Sprintf("parse: %v", err)}
		}
		for _, entry := range entries {
			dc, err := entry.toDimConversion()
			if err != nil {
				return &LoadError{Path: path, Message: err.Error()}
			}
			if err := l.reg.RegisterDimConversion(dc); err != nil {
				return &LoadError{Path: path, Message: err.Error()}
			}
		}
	}
	return nil
}

func (e conversionEntry) toDimConversion() (convert.DimConversion, error) {
	switch e.Kind {
	case "interval":
		return convert.IntervalConversion(e.Dim, intervalsOf(e.Source), intervalsOf(e.Sink)), nil
	case "region":
		source, err := regionsOf(e.Source)
		if err != nil {
			return convert.DimConversion{}, err
		}
		sink, err := regionsOf(e.Sink)
		if err != nil {
			return convert.DimConversion{}, err
		}
		return convert.RegionConversion(e.Dim, source, sink), nil
	case "weights":
		return convert.DimConversion{
			Dim:           e.Dim,
			Source:        coordsOf(e.Source),
			Sink:          coordsOf(e.Sink),
			Intersections: e.Intersections,
		}, nil
	default:
		return convert.DimConversion{}, fmt.Errorf("dimension %s: unknown conversion kind %q", e.Dim, e.Kind)
	}
}

func intervalsOf(defs []coordDef) []convert.Interval {
	out := make([]convert.Interval, len(defs))
	for i, d := range defs {
		out[i] = convert.Interval{Name: d.Name, Start: d.Start, End: d.End}
	}
	return out
}

func regionsOf(defs []coordDef) ([]convert.Region, error) {
	out := make([]convert.Region, len(defs))
	for i, d := range defs {
		region := convert.Region{Name: d.Name}
		for _, box := range d.Boxes {
			if len(box) != 4 {
				return nil, fmt.Errorf("region %s: box must be [minx, miny, maxx, maxy]", d.Name)
			}
			region.Boxes = append(region.Boxes, convert.Box{
				MinX: box[0], MinY: box[1], MaxX: box[2], MaxY: box[3],
			})
		}
		out[i] = region
	}
	return out, nil
}

func coordsOf(defs []coordDef) []convert.Coord {
	out := make([]convert.Coord, len(defs))
	for i, d := range defs {
		out[i] = convert.Coord{Name: d.Name, Measure: d.Measure}
	}
	return out
}

// unitFileDef is one row of config/units.yml.
type unitFileDef struct {
	Name   string  `yaml:"name"`
	Base   string  `yaml:"base"`
	Factor float64 `yaml:"factor"`
	Offset float64 `yaml:"offset,omitempty"`
}

func (l *loader) loadUnits(context.Context) error {
	path := filepath.Join(l.dir, "config", "units.yml")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &LoadError{Path: path, Message: err.Error()}
	}
	var units []unitFileDef
	if err := yaml.Unmarshal(raw, &units); err != nil {
		return &LoadError{Path: path, Message: fmt.Sprintf("parse: %v", err)}
	}
	for _, u := range units {
		if u.Factor == 0 {
			return &LoadError{Path: path, Message: fmt.Sprintf("unit %s: factor must be non-zero", u.Name)}
		}
		l.reg.RegisterUnit(u.Name, u.Base, u.Factor, u.Offset)
	}
	return nil
}
