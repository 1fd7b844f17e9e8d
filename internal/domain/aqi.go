package domain

import "math"

// AQI scale bounds.
const (
	// AQIFloor is the lowest valid AQI. Repaired rasters should hold no value below it.
	AQIFloor = 1.0
	// aqiTolerance is the lowest raw sample still treated as a (rounded-down) floor value.
	aqiTolerance = 0.95
)

// InvalidClass is the class of an undefined AQI. It never appears in the
// exported class map.
const InvalidClass = 0

// NormalizeAQI maps a raw sampled value to an exportable AQI. ok is false when
// the value must be exported as null.
//
//	non-finite or < 0.95  -> null
//	[0.95, 1.0)           -> 1.0
//	>= 1.0                -> unchanged
func NormalizeAQI(v float64) (aqi float64, ok bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	switch {
	case v < aqiTolerance:
		return 0, false
	case v < AQIFloor:
		return AQIFloor, true
	default:
		return v, true
	}
}

// AQIClass returns floor(aqi*2), i.e. the half-unit band of the AQI scale.
// Values in [1.0, 5.0) map to classes 2..9 and 5.0 itself to 10. Non-finite
// values map to InvalidClass.
func AQIClass(aqi float64) int {
	if math.IsNaN(aqi) || math.IsInf(aqi, 0) {
		return InvalidClass
	}
	return int(math.Floor(aqi * 2))
}

// Validity classifies a raw sampled value for diagnostics.
type Validity int

const (
	ValidAQI Validity = iota
	// MissingAQI is an exact zero: the raster simply has no value there.
	MissingAQI
	// BelowFloorAQI is a value in (0, 1).
	BelowFloorAQI
	// NegativeAQI is a value below zero.
	NegativeAQI
	// NotNumericAQI is NaN or an infinity.
	NotNumericAQI
)

func (v Validity) String() string {
	switch v {
	case ValidAQI:
		return "valid"
	case MissingAQI:
		return "missing"
	case BelowFloorAQI:
		return "below_floor"
	case NegativeAQI:
		return "negative"
	case NotNumericAQI:
		return "not_numeric"
	default:
		return "unknown"
	}
}

// Acceptable reports whether the value passes validation. Missing values are
// acceptable.
func (v Validity) Acceptable() bool {
	return v == ValidAQI || v == MissingAQI
}

// ClassifySample returns the validity of a raw sampled value.
func ClassifySample(v float64) Validity {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return NotNumericAQI
	case v < 0:
		return NegativeAQI
	case v == 0:
		return MissingAQI
	case v < AQIFloor:
		return BelowFloorAQI
	default:
		return ValidAQI
	}
}

// SampleValidation summarizes ClassifySample over a set of sampled values.
type SampleValidation struct {
	Total      int
	Acceptable int
	Counts     map[Validity]int
}

// ValidateSamples classifies every value. It never fails; callers log the
// result when OK is false.
func ValidateSamples(values []float64) SampleValidation {
	res := SampleValidation{Total: len(values), Counts: make(map[Validity]int)}
	for _, v := range values {
		c := ClassifySample(v)
		res.Counts[c]++
		if c.Acceptable() {
			res.Acceptable++
		}
	}
	return res
}

// OK reports whether every value was acceptable.
func (s SampleValidation) OK() bool {
	return s.Acceptable == s.Total
}

// Invalid returns the number of unacceptable values.
func (s SampleValidation) Invalid() int {
	return s.Total - s.Acceptable
}

// AcceptableRatio returns the acceptable share in percent, rounded to two decimals.
func (s SampleValidation) AcceptableRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return Round(100*float64(s.Acceptable)/float64(s.Total), 2)
}

// Round rounds v to the given number of decimal digits, with exact ties
// going to the even neighbour.
func Round(v float64, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(digits))
	return math.RoundToEven(v*p) / p
}
