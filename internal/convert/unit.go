package convert

// convertUnits rescales values in place from one unit to another via
// their shared base: base = v*factor + offset on the way in, inverted
// on the way out. Incompatible or unknown units are a ConversionError.
func (r *Registry) convertUnits(values []float64, from, to, variable string) error {
	fd, ok := r.units[normName(from)]
	if !ok {
		return &ConversionError{Variable: variable,
			Message: "unknown unit " + from}
	}
	td, ok := r.units[normName(to)]
	if !ok {
		return &ConversionError{Variable: variable,
			Message: "unknown unit " + to}
	}
	if fd.base != td.base {
		return &ConversionError{Variable: variable,
			Message: "incompatible units " + from + " and " + to}
	}
	for i := range values {
		values[i] = (values[i]*fd.factor + fd.offset - td.offset) / td.factor
	}
	return nil
}

// ConvertUnit rescales a single value between two registered units.
func (r *Registry) ConvertUnit(value float64, from, to string) (float64, error) {
	v := []float64{value}
	if err := r.convertUnits(v, from, to, from); err != nil {
		return 0, err
	}
	return v[0], nil
}
