package data

import (
	"encoding/json"
	"fmt"
	"math"
)

// DataArray is a labelled n-dimensional numerical array bound to a
// Spec. It is the single currency moved between models: scenario data,
// intermediate results and parameters are all DataArrays.
//
// Values are stored flat in row-major order; the shape is carried by
// the Spec. A DataArray's shape is validated at construction and
// mutation replaces the values wholesale.
type DataArray struct {
	Spec   Spec
	values []float64
}

// New constructs a DataArray, validating that the value slice matches
// the Spec's shape.
func New(spec Spec, values []float64) (DataArray, error) {
	if err := spec.ValidateShape(values); err != nil {
		return DataArray{}, err
	}
	return DataArray{Spec: spec, values: values}, nil
}

// MustNew is New for fixtures and tests; panics on shape mismatch.
func MustNew(spec Spec, values []float64) DataArray {
	da, err := New(spec, values)
	if err != nil {
		panic(err)
	}
	return da
}

// Filled constructs a DataArray with every element set to fill.
func Filled(spec Spec, fill float64) DataArray {
	values := make([]float64, spec.Size())
	for i := range values {
		values[i] = fill
	}
	return DataArray{Spec: spec, values: values}
}

// Values returns the flat row-major value slice. The slice is shared,
// not copied; callers must not mutate it. Use Update to replace data.
func (d DataArray) Values() []float64 {
	return d.values
}

// At returns the element at the given index along each dimension, in
// the Spec's dimension order.
func (d DataArray) At(indices ...int) float64 {
	return d.values[d.offset(indices)]
}

func (d DataArray) offset(indices []int) int {
	if len(indices) != len(d.Spec.Dims) {
		panic(fmt.Sprintf("data array %s: %d indices for %d dims",
			d.Spec.Name, len(indices), len(d.Spec.Dims)))
	}
	offset := 0
	for i, dim := range d.Spec.Dims {
		n := len(d.Spec.Coords[dim])
		if indices[i] < 0 || indices[i] >= n {
			panic(fmt.Sprintf("data array %s: index %d out of range for dim %s (len %d)",
				d.Spec.Name, indices[i], dim, n))
		}
		offset = offset*n + indices[i]
	}
	return offset
}

// Scalar returns the single value of a size-1 array.
func (d DataArray) Scalar() (float64, error) {
	if len(d.values) != 1 {
		return 0, fmt.Errorf("data array %s is not scalar (size %d)", d.Spec.Name, len(d.values))
	}
	return d.values[0], nil
}

// Update replaces the values wholesale after a shape check.
func (d *DataArray) Update(values []float64) error {
	if err := d.Spec.ValidateShape(values); err != nil {
		return err
	}
	d.values = values
	return nil
}

// Equal reports bitwise value equality under the same Spec. NaN is
// treated as equal to NaN so that replayed runs compare clean.
func (d DataArray) Equal(other DataArray) bool {
	if !d.Spec.Equal(other.Spec) || len(d.values) != len(other.values) {
		return false
	}
	for i := range d.values {
		a, b := d.values[i], other.values[i]
		if math.IsNaN(a) && math.IsNaN(b) {
			continue
		}
		if math.Float64bits(a) != math.Float64bits(b) {
			return false
		}
	}
	return true
}

// arrayJSON is the persisted wire form. NaN is not representable in
// JSON so values round-trip through pointers with null = NaN.
type arrayJSON struct {
	Spec   Spec       `json:"spec"`
	Values []*float64 `json:"values"`
}

// MarshalJSON encodes the Spec and flat values. The field order is
// fixed so encodings are canonical and byte-comparable.
func (d DataArray) MarshalJSON() ([]byte, error) {
	out := arrayJSON{Spec: d.Spec, Values: make([]*float64, len(d.values))}
	for i := range d.values {
		if !math.IsNaN(d.values[i]) {
			v := d.values[i]
			out.Values[i] = &v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and shape-checks a persisted DataArray.
func (d *DataArray) UnmarshalJSON(raw []byte) error {
	var in arrayJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decode data array: %w", err)
	}
	values := make([]float64, len(in.Values))
	for i, v := range in.Values {
		if v == nil {
			values[i] = math.NaN()
		} else {
			values[i] = *v
		}
	}
	da, err := New(in.Spec, values)
	if err != nil {
		return fmt.Errorf("decode data array: %w", err)
	}
	*d = da
	return nil
}
