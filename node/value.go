package node

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/langengroup/stcl/settings"
)

// valueString coerces a decoded request value to a string, the shape
// every "<ch>"-style action expects.
func valueString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("node: expected a string value, got %T", v)
	}
	return s, nil
}

// parseCh decodes a single-channel value, either the bare string
// "<ch>" or a JSON number, accepting both since acquire_ch's value is
// documented as a string but a JSON client may send a number.
func parseCh(v any) (int, error) {
	if s, ok := v.(string); ok {
		ch, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("node: bad channel %q: %w", s, err)
		}
		return ch, nil
	}
	return parseInt(v)
}

// parseInt coerces a decoded JSON value (number or numeric string) to
// an int.
func parseInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("node: bad integer %q: %w", t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("node: expected an integer value, got %T", v)
	}
}

// splitValue splits a delimited value string on "|", the separator
// used by acquire_peaks_ch between its channel and its range fields.
func splitValue(s string) []string {
	return strings.Split(s, "|")
}

// splitChNValue splits an acquire_ch_n value on "|" or "," — the wire
// format accepts either as the channel/count separator.
func splitChNValue(s string) []string {
	if strings.Contains(s, "|") {
		return strings.Split(s, "|")
	}
	return strings.Split(s, ",")
}

// decodeNodeSettings round-trips a decoded JSON value back through
// encoding/json into settings.NodeSettings, since Request.Value arrives
// as a generic any (map[string]any) after the frame's own decode.
func decodeNodeSettings(v any) (settings.NodeSettings, error) {
	var ns settings.NodeSettings
	b, err := json.Marshal(v)
	if err != nil {
		return ns, fmt.Errorf("node: re-encode settings value: %w", err)
	}
	if err := json.Unmarshal(b, &ns); err != nil {
		return ns, fmt.Errorf("node: decode settings value: %w", err)
	}
	return ns, nil
}

func decodeSetPeakfinder(v any) (setPeakfinderRequest, error) {
	var req setPeakfinderRequest
	b, err := json.Marshal(v)
	if err != nil {
		return req, fmt.Errorf("node: re-encode peakfinder value: %w", err)
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("node: decode peakfinder value: %w", err)
	}
	return req, nil
}
