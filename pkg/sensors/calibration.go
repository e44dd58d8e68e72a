package sensors

import (
	"fmt"
	"sort"
	"time"
)

// CalibrationType selects which transform CalibrationRecord.Apply runs.
type CalibrationType string

const (
	CalibrationLinear      CalibrationType = "linear"
	CalibrationPolynomial  CalibrationType = "polynomial"
	CalibrationLookupTable CalibrationType = "lookup_table"
	CalibrationCustom      CalibrationType = "custom"
)

// CustomCalibrationFunc is the signature a custom calibration transform
// must satisfy. It is never serialized.
type CustomCalibrationFunc func(raw float64) float64

// CalibrationRecord is a per-sensor calibration held by the registry
// alongside its sensor. Exactly one of the type-specific fields is used,
// selected by Type.
type CalibrationRecord struct {
	SensorID      int
	Type          CalibrationType
	CalibratedAt  time.Time
	CalibratedBy  string

	Slope  *float64
	Offset *float64

	Coefficients []float64 // ascending order: c0 + c1*x + c2*x^2 + ...

	LookupTable map[float64]float64

	CustomFunc CustomCalibrationFunc

	ReferenceValues []float64
	MeasuredValues  []float64
	Notes           string
}

// Apply runs the calibration transform on raw. A calibration with missing
// required parameters for its declared Type returns an error; the caller
// (the calibrator, C3) must preserve the raw value and log rather than
// halt the pipeline.
func (c *CalibrationRecord) Apply(raw float64) (float64, error) {
	switch c.Type {
	case CalibrationLinear:
		if c.Slope == nil || c.Offset == nil {
			return raw, fmt.Errorf("linear calibration requires slope and offset")
		}
		return raw*(*c.Slope) + *c.Offset, nil

	case CalibrationPolynomial:
		if len(c.Coefficients) == 0 {
			return raw, fmt.Errorf("polynomial calibration requires coefficients")
		}
		result := 0.0
		power := 1.0
		for _, coef := range c.Coefficients {
			result += coef * power
			power *= raw
		}
		return result, nil

	case CalibrationLookupTable:
		if len(c.LookupTable) < 2 {
			return raw, fmt.Errorf("lookup table calibration requires at least two distinct raw keys")
		}
		return interpolate(raw, c.LookupTable), nil

	case CalibrationCustom:
		if c.CustomFunc == nil {
			return raw, fmt.Errorf("custom calibration requires a function")
		}
		return c.CustomFunc(raw), nil

	default:
		return raw, nil
	}
}

// interpolate performs piecewise-linear interpolation through table;
// values outside the key range clamp to the nearest endpoint.
func interpolate(value float64, table map[float64]float64) float64 {
	keys := make([]float64, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Float64s(keys)

	if value <= keys[0] {
		return table[keys[0]]
	}
	if value >= keys[len(keys)-1] {
		return table[keys[len(keys)-1]]
	}

	for i := 0; i < len(keys)-1; i++ {
		x1, x2 := keys[i], keys[i+1]
		if value >= x1 && value <= x2 {
			y1, y2 := table[x1], table[x2]
			return y1 + (y2-y1)*(value-x1)/(x2-x1)
		}
	}
	return value
}

// Valid enforces the invariants from spec.md §3: lookup type requires at
// least two distinct raw keys, linear requires both slope and offset.
func (c *CalibrationRecord) Valid() error {
	switch c.Type {
	case CalibrationLinear:
		if c.Slope == nil || c.Offset == nil {
			return fmt.Errorf("linear calibration requires slope and offset")
		}
	case CalibrationLookupTable:
		if len(c.LookupTable) < 2 {
			return fmt.Errorf("lookup table calibration requires at least two distinct raw keys")
		}
	}
	return nil
}
