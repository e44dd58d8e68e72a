// Package validate implements C2: range and type validation over the
// canonicalized reading data. Validation is rule-based: a sensor's category
// selects a fixed rule set, each rule either critical (failure aborts the
// reading) or non-critical (failure is recorded as a warning but the
// reading proceeds).
package validate

import (
	"fmt"
	"strings"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// Rule is a single range check against one metric. An empty rule set field
// means that bound is unchecked.
type Rule struct {
	Metric     sensors.Metric
	Min, Max   float64
	HasMin     bool
	HasMax     bool
	Critical   bool
}

// Result carries the outcome of running a rule set over one reading's data.
// Errors cause the caller to discard the reading; Warnings are advisory and
// carried forward for logging only.
type Result struct {
	Errors   []string
	Warnings []string
}

func (r Result) Valid() bool { return len(r.Errors) == 0 }

// Validator runs a fixed rule set, selected once at construction by sensor
// category, against a canonicalized data map.
type Validator struct {
	rules []Rule
}

// New builds a Validator for category, mirroring the rule sets: all rules
// are non-critical except the always-present no-error-field check, since a
// given sensor's payload need not carry every metric its category permits.
func New(category sensors.Category) *Validator {
	v := &Validator{}
	switch category {
	case sensors.CategoryEnvironmental:
		v.addTemperatureRules(false)
		v.addHumidityRules(false)
		v.addLightRules(false)
		v.addCO2Rules(false)
		v.addPressureRules(false)
	case sensors.CategoryPlant:
		v.addSoilMoistureRules(false)
		v.addPHRules(false)
		v.addECRules(false)
		v.addTemperatureRules(false)
		v.addHumidityRules(false)
	}
	return v
}

func (v *Validator) addTemperatureRules(critical bool) {
	v.rules = append(v.rules, Rule{Metric: sensors.MetricTemperature, Min: -40.0, Max: 85.0, HasMin: true, HasMax: true, Critical: critical})
}

func (v *Validator) addHumidityRules(critical bool) {
	v.rules = append(v.rules, Rule{Metric: sensors.MetricHumidity, Min: 0.0, Max: 100.0, HasMin: true, HasMax: true, Critical: critical})
}

func (v *Validator) addSoilMoistureRules(critical bool) {
	v.rules = append(v.rules, Rule{Metric: sensors.MetricSoilMoisture, Min: 0.0, Max: 100.0, HasMin: true, HasMax: true, Critical: critical})
}

func (v *Validator) addLightRules(critical bool) {
	v.rules = append(v.rules, Rule{Metric: sensors.MetricLux, Min: 0.0, Max: 200000.0, HasMin: true, HasMax: true, Critical: critical})
}

func (v *Validator) addCO2Rules(critical bool) {
	v.rules = append(v.rules, Rule{Metric: sensors.MetricCO2, Min: 0.0, Max: 10000.0, HasMin: true, HasMax: true, Critical: critical})
}

func (v *Validator) addPressureRules(critical bool) {
	v.rules = append(v.rules, Rule{Metric: sensors.MetricPressure, Min: 300.0, Max: 1100.0, HasMin: true, HasMax: true, Critical: critical})
}

func (v *Validator) addPHRules(critical bool) {
	v.rules = append(v.rules, Rule{Metric: sensors.MetricPH, Min: 0.0, Max: 14.0, HasMin: true, HasMax: true, Critical: critical})
}

func (v *Validator) addECRules(critical bool) {
	v.rules = append(v.rules, Rule{Metric: sensors.MetricEC, Min: 0.0, Max: 20.0, HasMin: true, HasMax: true, Critical: critical})
}

// Validate runs the rule set over data. The "error" key is always critical:
// its mere presence fails validation regardless of category.
func (v *Validator) Validate(data map[sensors.Metric]sensors.Value) Result {
	var res Result

	if _, hasError := data["error"]; hasError {
		res.Errors = append(res.Errors, "sensor returned error field")
	}

	for _, rule := range v.rules {
		val, present := data[rule.Metric]
		if !present {
			continue
		}

		num, ok := val.Float()
		if !ok {
			msg := fmt.Sprintf("%s must be numeric", rule.Metric)
			if rule.Critical {
				res.Errors = append(res.Errors, msg)
			} else {
				res.Warnings = append(res.Warnings, msg)
			}
			continue
		}

		if (rule.HasMin && num < rule.Min) || (rule.HasMax && num > rule.Max) {
			msg := fmt.Sprintf("%s out of valid range", rule.Metric)
			if rule.Critical {
				res.Errors = append(res.Errors, msg)
			} else {
				res.Warnings = append(res.Warnings, msg)
			}
		}
	}

	return res
}

// Err joins the result's errors into a single error, or nil if valid.
func (res Result) Err() error {
	if res.Valid() {
		return nil
	}
	return fmt.Errorf("validation failed: %s", strings.Join(res.Errors, "; "))
}
