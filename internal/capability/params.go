package capability

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingParam is returned when a required device parameter is absent.
var ErrMissingParam = errors.New("capability: missing parameter")

// ErrInvalidParam is returned when a device parameter has the wrong type or value.
var ErrInvalidParam = errors.New("capability: invalid parameter")

// params gives typed access to a device's decoded YAML/JSON parameters.
type params map[string]any

func (p params) float(key string) (float64, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case uint64:
		return float64(n), true, nil
	}
	return 0, false, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidParam, key, v)
}

func (p params) requireFloat(key string) (float64, error) {
	f, ok, err := p.float(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	return f, nil
}

func (p params) string(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidParam, key, v)
	}
	return s, nil
}

func (p params) requireString(key string) (string, error) {
	s, err := p.string(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	return s, nil
}

// duration accepts a Go duration string ("30s") or a number of seconds.
func (p params) duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	var d time.Duration
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParam, key, err)
		}
		d = parsed
	default:
		secs, _, err := p.float(key)
		if err != nil {
			return 0, err
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidParam, key)
	}
	return d, nil
}

// clamp01 limits q to [0, 1].
func clamp01(q float64) float64 {
	switch {
	case q < 0:
		return 0
	case q > 1:
		return 1
	}
	return q
}
