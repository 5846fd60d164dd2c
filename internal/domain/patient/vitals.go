package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ehr/opd/internal/platform/apperror"
)

// Reading is one vitals value as typed into the form. It accepts a JSON
// number, a numeric string, an empty string or null.
type Reading string

func (r *Reading) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*r = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Reading(s)
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		*r = Reading(b)
	default:
		return fmt.Errorf("vitals reading must be a number or a numeric string, got %s", b)
	}
	return nil
}

// VitalsInput is the raw vitals payload.
type VitalsInput struct {
	Systolic         Reading `json:"systolic"`
	Diastolic        Reading `json:"diastolic"`
	HeartRate        Reading `json:"heart_rate"`
	RespiratoryRate  Reading `json:"respiratory_rate"`
	Temperature      Reading `json:"temperature"`
	Weight           Reading `json:"weight"`
	Height           Reading `json:"height"`
	OxygenSaturation Reading `json:"oxygen_saturation"`
}

// ParseVitals converts the raw payload. Blank readings become nil, never
// zero. Text that is not a finite non-negative number is rejected with a
// *apperror.ValidationError naming the field, as are fractions in whole
// number fields. BMI is derived when weight (kg) and height (cm) are both
// present.
func ParseVitals(in VitalsInput) (Vitals, error) {
	var (
		v   Vitals
		err error
	)
	ints := []struct {
		field string
		raw   Reading
		dst   **int
	}{
		{"systolic", in.Systolic, &v.Systolic},
		{"diastolic", in.Diastolic, &v.Diastolic},
		{"heart_rate", in.HeartRate, &v.HeartRate},
		{"respiratory_rate", in.RespiratoryRate, &v.RespiratoryRate},
		{"oxygen_saturation", in.OxygenSaturation, &v.OxygenSaturation},
	}
	for _, f := range ints {
		if *f.dst, err = parseInt(f.field, f.raw); err != nil {
			return Vitals{}, err
		}
	}

	floats := []struct {
		field string
		raw   Reading
		dst   **float64
	}{
		{"temperature", in.Temperature, &v.Temperature},
		{"weight", in.Weight, &v.Weight},
		{"height", in.Height, &v.Height},
	}
	for _, f := range floats {
		if *f.dst, err = parseFloat(f.field, f.raw); err != nil {
			return Vitals{}, err
		}
	}

	v.BMI = BMI(v.Weight, v.Height)
	return v, nil
}

// BMI returns weight / height² with height in centimetres, rounded to one
// decimal, or nil when either input is missing or zero.
func BMI(weightKg, heightCm *float64) *float64 {
	if weightKg == nil || heightCm == nil || *weightKg <= 0 || *heightCm <= 0 {
		return nil
	}
	m := *heightCm / 100
	bmi := math.Round(*weightKg/(m*m)*10) / 10
	return &bmi
}

func parseFloat(field string, r Reading) (*float64, error) {
	s := strings.TrimSpace(string(r))
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, apperror.Invalid(field, "%q is not a number", s)
	}
	if f < 0 {
		return nil, apperror.Invalid(field, "must not be negative")
	}
	return &f, nil
}

func parseInt(field string, r Reading) (*int, error) {
	f, err := parseFloat(field, r)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, apperror.Invalid(field, "must be a whole number")
	}
	if *f > math.MaxInt32 {
		return nil, apperror.Invalid(field, "out of range")
	}
	n := int(*f)
	return &n, nil
}
