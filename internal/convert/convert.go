// Package convert adapts data between producer and consumer variable
// specifications: region aggregation/disaggregation, temporal interval
// mapping and linear-affine unit scaling, composed in a fixed pipeline.
//
// All conversions are pure: the input DataArray is never mutated and
// the same inputs always produce the same output. NaN values propagate
// to every output cell they contribute to.
package convert

import (
	"math"

	"github.com/nismod/smif/internal/data"
)

// Convert adapts a source DataArray to a sink Spec. The pipeline is
// fixed: dimension reorder, then region and interval conversion per
// dimension, then unit scaling. Equal Specs pass through bit-equal.
func (r *Registry) Convert(da data.DataArray, sink data.Spec) (data.DataArray, error) {
	src := da.Spec

	if !src.SameDimSet(sink) {
		return data.DataArray{}, &ConversionError{
			Variable: sink.Name,
			Message:  "dimension mismatch: source " + src.Pretty() + ", sink " + sink.Pretty(),
		}
	}

	values := append([]float64(nil), da.Values()...)

	// Reorder dimensions to the sink's declaration order.
	values, src = permute(values, src, sink.Dims)

	// Convert each dimension whose coordinate lists differ.
	for axis, dim := range sink.Dims {
		from, to := src.Coords[dim], sink.Coords[dim]
		if fingerprint(from) == fingerprint(to) {
			continue
		}
		role := sink.Role(dim)
		if role == data.RolePlain {
			return data.DataArray{}, &ConversionError{
				Variable: sink.Name,
				Dim:      dim,
				Message:  "coordinates differ on a plain dimension",
			}
		}
		dc := r.lookupDim(dim, from, to)
		if dc == nil {
			return data.DataArray{}, &ConversionError{
				Variable: sink.Name,
				Dim:      dim,
				Message:  "no conversion registered between coordinate sets",
			}
		}
		extensive := src.Extensive || sink.Extensive
		converted, err := applyDim(values, src.Shape(), axis, dc, extensive, sink.Name)
		if err != nil {
			return data.DataArray{}, err
		}
		values = converted
		coords := make(map[string][]string, len(src.Coords))
		for d, c := range src.Coords {
			coords[d] = c
		}
		coords[dim] = to
		src.Coords = coords
	}

	// Unit scaling last, on the fully re-gridded values.
	if normName(src.Unit) != normName(sink.Unit) {
		if err := r.convertUnits(values, src.Unit, sink.Unit, sink.Name); err != nil {
			return data.DataArray{}, err
		}
	}

	return data.New(sink, values)
}

// permute reorders a flat row-major array into a new dimension order,
// returning the reordered values and a Spec with dims in that order.
func permute(values []float64, spec data.Spec, order []string) ([]float64, data.Spec) {
	same := len(order) == len(spec.Dims)
	for i := range order {
		if !same || spec.Dims[i] != order[i] {
			same = false
			break
		}
	}
	if same {
		return values, spec
	}

	// axis[i] is the source axis feeding output axis i.
	axes := make([]int, len(order))
	for i, dim := range order {
		for j, d := range spec.Dims {
			if d == dim {
				axes[i] = j
			}
		}
	}

	srcShape := spec.Shape()
	srcStrides := make([]int, len(srcShape))
	stride := 1
	for i := len(srcShape) - 1; i >= 0; i-- {
		srcStrides[i] = stride
		stride *= srcShape[i]
	}

	outShape := make([]int, len(order))
	for i, a := range axes {
		outShape[i] = srcShape[a]
	}

	out := make([]float64, len(values))
	idx := make([]int, len(order))
	for pos := range out {
		offset := 0
		for i, a := range axes {
			offset += idx[i] * srcStrides[a]
		}
		out[pos] = values[offset]
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outShape[i] {
				break
			}
			idx[i] = 0
		}
	}

	permuted := spec
	permuted.Dims = append([]string(nil), order...)
	return out, permuted
}

// applyDim converts one axis of a flat array through a registered
// dimension mapping. Extensive quantities apportion each source cell
// over sinks by overlap share; intensive quantities are overlap
// weighted averages. Every sink coordinate must be covered by source
// coordinates to within coverageTolerance of its full measure.
func applyDim(values []float64, shape []int, axis int, dc *DimConversion, extensive bool, variable string) ([]float64, error) {
	nSrc, nSink := len(dc.Source), len(dc.Sink)

	srcMeasure := make(map[string]float64, nSrc)
	srcIndex := make(map[string]int, nSrc)
	for i, c := range dc.Source {
		srcMeasure[c.Name] = c.Measure
		srcIndex[c.Name] = i
	}
	sinkIndex := make(map[string]int, nSink)
	for i, c := range dc.Sink {
		sinkIndex[c.Name] = i
	}

	// weights[s][k] = measure of source s overlapping sink k.
	weights := make([][]float64, nSrc)
	for i := range weights {
		weights[i] = make([]float64, nSink)
	}
	covered := make([]float64, nSink)
	for _, x := range dc.Intersections {
		s, k := srcIndex[x.Source], sinkIndex[x.Sink]
		weights[s][k] += x.Weight
		covered[k] += x.Weight
	}

	for k, c := range dc.Sink {
		if c.Measure <= 0 {
			return nil, &ConversionError{Variable: variable, Dim: dc.Dim,
				Message: "sink coordinate " + c.Name + " has non-positive measure"}
		}
		if covered[k]/c.Measure < 1-coverageTolerance {
			return nil, &ConversionError{Variable: variable, Dim: dc.Dim,
				Message: "sink coordinate " + c.Name + " is not fully covered by source coordinates"}
		}
	}

	outer, inner := 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}

	out := make([]float64, outer*nSink*inner)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			for k := 0; k < nSink; k++ {
				var acc, totalWeight float64
				for s := 0; s < nSrc; s++ {
					w := weights[s][k]
					if w == 0 {
						continue
					}
					v := values[(o*nSrc+s)*inner+in]
					if extensive {
						m := srcMeasure[dc.Source[s].Name]
						if m <= 0 {
							return nil, &ConversionError{Variable: variable, Dim: dc.Dim,
								Message: "source coordinate " + dc.Source[s].Name + " has non-positive measure"}
						}
						acc += v * w / m
					} else {
						acc += v * w
						totalWeight += w
					}
				}
				if !extensive {
					if totalWeight == 0 {
						acc = math.NaN()
					} else {
						acc /= totalWeight
					}
				}
				out[(o*nSink+k)*inner+in] = acc
			}
		}
	}
	return out, nil
}
