package mesh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Colour temperature limits accepted by multiwhite lights, in Kelvin.
const (
	MinColorTempKelvin = 2700
	MaxColorTempKelvin = 5000
)

// MaxBrightness is the top of the host platform's brightness scale.
const MaxBrightness = 255

// onOffKeys lists every field name the gateway has used for the power state.
var onOffKeys = []string{"onoff", "onOff", "power", "state"}

// Status is a light or group snapshot. Nil fields are unknown.
//
// Status values are treated as immutable; Merge and Clone return copies.
type Status struct {
	OnOff       *bool
	Lightness   *float64
	Temperature *int
}

// ParseStatus decodes a gateway status payload.
//
// The payload must be a JSON object, or a JSON string containing one.
// On/off is read from any of onoff, onOff, power or state, encoded as a
// boolean, a number (non-zero is on) or a string ("on", "ON", "true", "1").
// Lightness is clamped to [0,1] and, when present, decides on/off
// regardless of any explicit power field in the same payload.
//
// Unrecognised fields are ignored, so an empty object yields an empty Status.
func ParseStatus(payload []byte) (Status, error) {
	payload = bytes.TrimSpace(payload)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		// The object may arrive wrapped in a JSON string.
		var inner string
		if json.Unmarshal(payload, &inner) != nil {
			return Status{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		if err := json.Unmarshal([]byte(inner), &fields); err != nil {
			return Status{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
	}
	if fields == nil {
		return Status{}, fmt.Errorf("%w: null payload", ErrMalformedPayload)
	}

	var s Status
	for _, key := range onOffKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if on, ok := parseOnOff(raw); ok {
			s.OnOff = &on
			break
		}
	}

	if raw, ok := fields["lightness"]; ok {
		if l, ok := parseNumber(raw); ok {
			l = clampFraction(l)
			on := l > 0
			s.Lightness = &l
			s.OnOff = &on
		}
	}

	if raw, ok := fields["temperature"]; ok {
		if t, ok := parseNumber(raw); ok {
			k := int(math.Round(t))
			s.Temperature = &k
		}
	}

	return s, nil
}

// parseOnOff normalises every on/off encoding seen from the gateway.
func parseOnOff(raw json.RawMessage) (bool, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}

	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "on", "true", "1":
			return true, true
		case "off", "false", "0":
			return false, true
		}
	}
	return false, false
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) (float64, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}

	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Merge returns s with every field present in update overwritten.
func (s Status) Merge(update Status) Status {
	out := s.Clone()
	if update.OnOff != nil {
		v := *update.OnOff
		out.OnOff = &v
	}
	if update.Lightness != nil {
		v := *update.Lightness
		out.Lightness = &v
	}
	if update.Temperature != nil {
		v := *update.Temperature
		out.Temperature = &v
	}
	return out
}

// Clone returns a deep copy.
func (s Status) Clone() Status {
	var out Status
	if s.OnOff != nil {
		v := *s.OnOff
		out.OnOff = &v
	}
	if s.Lightness != nil {
		v := *s.Lightness
		out.Lightness = &v
	}
	if s.Temperature != nil {
		v := *s.Temperature
		out.Temperature = &v
	}
	return out
}

// Equal reports whether both snapshots hold the same known fields and values.
func (s Status) Equal(other Status) bool {
	return equalPtr(s.OnOff, other.OnOff) &&
		equalPtr(s.Lightness, other.Lightness) &&
		equalPtr(s.Temperature, other.Temperature)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// IsEmpty reports whether no field is known.
func (s Status) IsEmpty() bool {
	return s.OnOff == nil && s.Lightness == nil && s.Temperature == nil
}

// IsOn returns the power state and whether it is known.
func (s Status) IsOn() (on, known bool) {
	if s.OnOff == nil {
		return false, false
	}
	return *s.OnOff, true
}

// Brightness returns lightness on the 0..255 scale and whether it is known.
func (s Status) Brightness() (int, bool) {
	if s.Lightness == nil {
		return 0, false
	}
	return LightnessToBrightness(*s.Lightness), true
}

// ColorTempKelvin returns the clamped colour temperature and whether it is known.
func (s Status) ColorTempKelvin() (int, bool) {
	if s.Temperature == nil {
		return 0, false
	}
	return ClampColorTemp(*s.Temperature), true
}

// MarshalJSON encodes the snapshot in the gateway's field names, with
// onoff as 0 or 1. Unknown fields are omitted.
func (s Status) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 3)
	if s.OnOff != nil {
		if *s.OnOff {
			out["onoff"] = 1
		} else {
			out["onoff"] = 0
		}
	}
	if s.Lightness != nil {
		out["lightness"] = *s.Lightness
	}
	if s.Temperature != nil {
		out["temperature"] = *s.Temperature
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts anything ParseStatus does, so a marshalled
// snapshot decodes back to itself. null leaves s unchanged.
func (s *Status) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	parsed, err := ParseStatus(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// String implements fmt.Stringer for log output.
func (s Status) String() string {
	b, err := s.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

// BrightnessToLightness converts 0..255 to a fraction rounded up to the
// next whole percent, so the gateway never dims below the request.
//
//	BrightnessToLightness(128) // 0.51
func BrightnessToLightness(brightness int) float64 {
	brightness = min(max(brightness, 0), MaxBrightness)
	percent := (brightness*100 + MaxBrightness - 1) / MaxBrightness
	return float64(percent) / 100
}

// LightnessToBrightness converts a fraction to the nearest 0..255 value.
func LightnessToBrightness(lightness float64) int {
	return int(math.Round(clampFraction(lightness) * MaxBrightness))
}

// roundUpPercent rounds a remembered fraction up to a whole percent before
// it is replayed. The epsilon keeps 0.51 from becoming 0.52.
func roundUpPercent(lightness float64) float64 {
	return math.Ceil(clampFraction(lightness)*100-1e-9) / 100
}

// ClampColorTemp limits k to the range multiwhite lights accept.
func ClampColorTemp(k int) int {
	return min(max(k, MinColorTempKelvin), MaxColorTempKelvin)
}

func clampFraction(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return min(max(f, 0), 1)
}

// formatFraction renders a lightness with at least one decimal place,
// matching what the gateway's own tooling sends ("1.0", "0.51").
func formatFraction(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// boolPtr, floatPtr and intPtr build optimistic updates.
func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
