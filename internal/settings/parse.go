package settings

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrUnknownKey is returned when validating a key that is not recognised.
	ErrUnknownKey = errors.New("unknown setting key")

	errBoolValue               = errors.New("value must be a boolean")
	errStringValue             = errors.New("value must be a string")
	errPositiveIntegerValue    = errors.New("value must be a positive integer")
	errNonNegativeIntegerValue = errors.New("value must be a non-negative integer")
)

// Toggle words accepted from chat admins alongside the JSON booleans.
var (
	onWords  = map[string]struct{}{"1": {}, "true": {}, "yes": {}, "y": {}, "on": {}, "是": {}, "开启": {}, "启用": {}}
	offWords = map[string]struct{}{"0": {}, "false": {}, "no": {}, "n": {}, "off": {}, "否": {}, "关闭": {}, "禁用": {}}
)

// Validate checks that value has the shape expected for key.
func Validate(key string, value json.RawMessage) error {
	kind, ok := knownKeys[key]
	if !ok {
		return ErrUnknownKey
	}
	var valid bool
	var errShape error
	switch kind {
	case kindBool:
		_, valid = ParseBool(value)
		errShape = errBoolValue
	case kindNonNegativeInt:
		_, valid = ParseNonNegativeInt(value)
		errShape = errNonNegativeIntegerValue
	case kindPositiveInt:
		var n int
		n, valid = ParseNonNegativeInt(value)
		valid = valid && n > 0
		errShape = errPositiveIntegerValue
	case kindString:
		_, valid = ParseString(value)
		errShape = errStringValue
	}
	if !valid {
		return errShape
	}
	return nil
}

// IsTruthy reports whether a free-form toggle value means "on".
func IsTruthy(value string) bool {
	_, on := onWords[strings.ToLower(strings.TrimSpace(value))]
	return on
}

func parseJSON(raw json.RawMessage) (gjson.Result, bool) {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(raw), true
}

// ParseBool decodes a JSON bool, a toggle word, or the number 0 or 1.
func ParseBool(raw json.RawMessage) (bool, bool) {
	value, ok := parseJSON(raw)
	if !ok {
		return false, false
	}
	switch value.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		word := strings.ToLower(strings.TrimSpace(value.Str))
		if _, on := onWords[word]; on {
			return true, true
		}
		if _, off := offWords[word]; off {
			return false, true
		}
	case gjson.Number:
		switch value.Num {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	}
	return false, false
}

// ParseString decodes a JSON string.
func ParseString(raw json.RawMessage) (string, bool) {
	value, ok := parseJSON(raw)
	if !ok || value.Type != gjson.String {
		return "", false
	}
	return strings.TrimSpace(value.Str), true
}

// ParseNonNegativeInt decodes a whole number given as a JSON number or numeric string.
func ParseNonNegativeInt(raw json.RawMessage) (int, bool) {
	value, ok := parseJSON(raw)
	if !ok {
		return 0, false
	}
	switch value.Type {
	case gjson.Number:
		n := value.Num
		if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case gjson.String:
		n, errParse := strconv.Atoi(strings.TrimSpace(value.Str))
		if errParse != nil || n < 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
