package convert

// Interval is one period within a reference year, expressed as a
// half-open hour range [Start, End). Hour 0 is midnight on the first
// day of the year; a full year is [0, 8760).
//
// A wrapping interval (End <= Start, e.g. a winter season spanning the
// year boundary) covers [Start, 8760) and [0, End).
type Interval struct {
	Name  string
	Start int
	End   int
}

// HoursPerYear is the length of the reference year used for interval
// arithmetic. Leap years are out of scope for interval definitions.
const HoursPerYear = 8760

// Duration returns the interval's length in hours.
func (iv Interval) Duration() int {
	if iv.End > iv.Start {
		return iv.End - iv.Start
	}
	return HoursPerYear - iv.Start + iv.End
}

// overlap returns the shared duration of two intervals in hours,
// accounting for year-boundary wrapping on either side.
func overlap(a, b Interval) int {
	total := 0
	for _, ra := range a.segments() {
		for _, rb := range b.segments() {
			lo, hi := max(ra[0], rb[0]), min(ra[1], rb[1])
			if hi > lo {
				total += hi - lo
			}
		}
	}
	return total
}

func (iv Interval) segments() [][2]int {
	if iv.End > iv.Start {
		return [][2]int{{iv.Start, iv.End}}
	}
	return [][2]int{{iv.Start, HoursPerYear}, {0, iv.End}}
}

// IntervalConversion builds the dimension mapping between two interval
// sets from their hour ranges: weights are pairwise overlap durations,
// measures are interval durations. Register the result on a Registry
// to enable conversion between the two sets.
func IntervalConversion(dim string, source, sink []Interval) DimConversion {
	dc := DimConversion{Dim: dim}
	for _, iv := range source {
		dc.Source = append(dc.Source, Coord{Name: iv.Name, Measure: float64(iv.Duration())})
	}
	for _, iv := range sink {
		dc.Sink = append(dc.Sink, Coord{Name: iv.Name, Measure: float64(iv.Duration())})
	}
	for _, s := range source {
		for _, k := range sink {
			if d := overlap(s, k); d > 0 {
				dc.Intersections = append(dc.Intersections, Intersection{
					Source: s.Name, Sink: k.Name, Weight: float64(d),
				})
			}
		}
	}
	return dc
}

// Seasons returns the conventional four-season split of the reference
// year in hours, meteorological boundaries.
func Seasons() []Interval {
	return []Interval{
		{Name: "winter", Start: 8016, End: 1416}, // Dec-Feb, wraps the year end
		{Name: "spring", Start: 1416, End: 3624},
		{Name: "summer", Start: 3624, End: 5832},
		{Name: "autumn", Start: 5832, End: 8016},
	}
}

// AnnualInterval returns the single whole-year interval.
func AnnualInterval(name string) []Interval {
	return []Interval{{Name: name, Start: 0, End: HoursPerYear}}
}
