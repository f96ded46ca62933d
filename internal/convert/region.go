package convert

// Box is an axis-aligned rectangle in map coordinates.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// Area returns the rectangle's area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.MaxX-b.MinX, b.MaxY-b.MinY
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

func (b Box) intersect(o Box) Box {
	return Box{
		MinX: max(b.MinX, o.MinX), MinY: max(b.MinY, o.MinY),
		MaxX: min(b.MaxX, o.MaxX), MaxY: min(b.MaxY, o.MaxY),
	}
}

// Region is a named spatial zone built from one or more axis-aligned
// boxes. Boxes belonging to one region must not overlap each other;
// the region's area is their sum.
type Region struct {
	Name  string
	Boxes []Box
}

// Area returns the region's total area.
func (r Region) Area() float64 {
	total := 0.0
	for _, b := range r.Boxes {
		total += b.Area()
	}
	return total
}

// RegionConversion builds the dimension mapping between two region
// sets: weights are pairwise intersection areas, measures are region
// areas. Register the result on a Registry to enable conversion
// between the two sets.
//
// Region geometries richer than box unions (shapefile polygons) are a
// concern of the configuration layer: it can compute intersection
// areas however it likes and register a DimConversion directly.
func RegionConversion(dim string, source, sink []Region) DimConversion {
	dc := DimConversion{Dim: dim}
	for _, rg := range source {
		dc.Source = append(dc.Source, Coord{Name: rg.Name, Measure: rg.Area()})
	}
	for _, rg := range sink {
		dc.Sink = append(dc.Sink, Coord{Name: rg.Name, Measure: rg.Area()})
	}
	for _, s := range source {
		for _, k := range sink {
			area := 0.0
			for _, sb := range s.Boxes {
				for _, kb := range k.Boxes {
					area += sb.intersect(kb).Area()
				}
			}
			if area > 0 {
				dc.Intersections = append(dc.Intersections, Intersection{
					Source: s.Name, Sink: k.Name, Weight: area,
				})
			}
		}
	}
	return dc
}
