package settings

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/dokzlo13/relayd/internal/actuation"
)

// Form field names of the configuration page.
const (
	FieldSSID                  = "SSID"
	FieldPassword              = "Password"
	FieldDisplayName           = "RelayDisplayName"
	FieldTurnOnEnabled         = "TurnOnEnabled"
	FieldTurnOnThreshold       = "TurnOnThreshold"
	FieldTurnOnWindowEnabled   = "TurnOnWindowEnabled"
	FieldTurnOnWindowBegin     = "TurnOnWindowBegin"
	FieldTurnOnWindowEnd       = "TurnOnWindowEnd"
	FieldShutdownEnabled       = "ShutdownEnabled"
	FieldShutdownThreshold     = "ShutdownThreshold"
	FieldShutdownWindowEnabled = "ShutdownWindowEnabled"
	FieldShutdownWindowBegin   = "ShutdownWindowBegin"
	FieldShutdownWindowEnd     = "ShutdownWindowEnd"
)

// FromForm builds a record from a submitted configuration form.
//
// Malformed input never fails the submission: an unparseable threshold
// disables its rule, and a window whose begin and end are not both valid
// "HH:MM" values is disabled with its stored ends cleared.
func FromForm(form url.Values) Record {
	r := Record{
		SSID:        form.Get(FieldSSID),
		Password:    form.Get(FieldPassword),
		DisplayName: strings.TrimSpace(form.Get(FieldDisplayName)),
	}
	if r.DisplayName == "" {
		r.DisplayName = DefaultDisplayName
	}

	r.TurnOnEnabled, r.TurnOnThreshold = parseRule(form, FieldTurnOnEnabled, FieldTurnOnThreshold)
	r.TurnOnWindowEnabled, r.TurnOnWindowStart, r.TurnOnWindowEnd =
		parseWindowFields(form, FieldTurnOnWindowEnabled, FieldTurnOnWindowBegin, FieldTurnOnWindowEnd)

	r.ShutdownEnabled, r.ShutdownThreshold = parseRule(form, FieldShutdownEnabled, FieldShutdownThreshold)
	r.ShutdownWindowEnabled, r.ShutdownWindowStart, r.ShutdownWindowEnd =
		parseWindowFields(form, FieldShutdownWindowEnabled, FieldShutdownWindowBegin, FieldShutdownWindowEnd)

	return r
}

// parseRule reads a threshold and its enable flag. Without the flag the
// rule is enabled by a positive threshold, which is how the form worked
// before the checkbox existed.
func parseRule(form url.Values, enabledField, thresholdField string) (bool, float64) {
	threshold, err := strconv.ParseFloat(strings.TrimSpace(form.Get(thresholdField)), 64)
	if err != nil || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return false, 0
	}

	if form.Has(enabledField) {
		return checked(lastValue(form, enabledField)), threshold
	}
	return threshold > 0, threshold
}

func parseWindowFields(form url.Values, enabledField, beginField, endField string) (bool, string, string) {
	if !form.Has(beginField) || !form.Has(endField) {
		return false, "", ""
	}
	begin := strings.TrimSpace(form.Get(beginField))
	end := strings.TrimSpace(form.Get(endField))

	if _, err := actuation.ParseTimeOfDay(begin); err != nil {
		return false, "", ""
	}
	if _, err := actuation.ParseTimeOfDay(end); err != nil {
		return false, "", ""
	}

	if form.Has(enabledField) && !checked(lastValue(form, enabledField)) {
		return false, begin, end
	}
	return true, begin, end
}

// checked interprets an HTML checkbox or boolean field.
func checked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

// lastValue returns the last submitted value of a field. The config page
// sends a hidden "off" before each checkbox so an unchecked box is still
// present in the form.
func lastValue(form url.Values, field string) string {
	vs := form[field]
	if len(vs) == 0 {
		return ""
	}
	return vs[len(vs)-1]
}
