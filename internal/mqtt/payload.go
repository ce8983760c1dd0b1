package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dokzlo13/relayd/internal/actuation"
)

// StatePayload encodes a relay state as published on the state topic.
func StatePayload(s actuation.State) []byte {
	if s == actuation.On {
		return []byte("ON")
	}
	return []byte("OFF")
}

// ParseCommand accepts ON/OFF (any case), 1/0, true/false or a JSON
// object {"state": "on"}.
func ParseCommand(payload []byte) (actuation.State, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var cmd struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return actuation.Off, fmt.Errorf("invalid command: %w", err)
		}
		text = cmd.State
	}
	return actuation.ParseState(text)
}

// ParseSample accepts a bare number or a JSON object {"value": 4.2}.
func ParseSample(payload []byte) (float64, error) {
	text := strings.TrimSpace(string(payload))

	var v float64
	if strings.HasPrefix(text, "{") {
		var msg struct {
			Value *float64 `json:"value"`
		}
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return 0, fmt.Errorf("invalid sample: %w", err)
		}
		if msg.Value == nil {
			return 0, fmt.Errorf("sample has no value field")
		}
		v = *msg.Value
	} else {
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid sample %q: %w", text, err)
		}
		v = parsed
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("sample is not finite: %v", v)
	}
	return v, nil
}
