package device

import (
	"fmt"
	"strings"
)

const (
	maxNameLength     = 64
	maxParamKeys      = 32
	maxStringValueLen = 1024

	// maxNestingDepth bounds nested maps and lists inside Params.
	maxNestingDepth = 4
)

// normaliseRecord validates rec and fills defaults in place.
//
// The name defaults to "<kind>-<id>". The returned status is the parsed
// initial status.
func normaliseRecord(rec *Record) (Status, error) {
	if rec.ID <= 0 {
		return "", fmt.Errorf("%w: id must be positive, got %d", ErrInvalidDevice, rec.ID)
	}

	rec.Kind = Kind(strings.ToLower(strings.TrimSpace(string(rec.Kind))))
	if !rec.Kind.Valid() {
		return "", fmt.Errorf("%w %q (want one of %s)", ErrUnknownKind, rec.Kind, kindList())
	}

	if rec.Priority < MinPriority || rec.Priority > MaxPriority {
		return "", fmt.Errorf("%w: priority %d outside [%d, %d]", ErrInvalidDevice, rec.Priority, MinPriority, MaxPriority)
	}

	rec.Name = strings.TrimSpace(rec.Name)
	if rec.Name == "" {
		rec.Name = fmt.Sprintf("%s-%d", rec.Kind, rec.ID)
	}
	if len(rec.Name) > maxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}

	status, err := ParseStatus(strings.ToLower(strings.TrimSpace(rec.Status)))
	if err != nil {
		return "", err
	}

	if len(rec.Params) > maxParamKeys {
		return "", fmt.Errorf("%w: params exceed %d keys", ErrInvalidDevice, maxParamKeys)
	}
	if err := validateValue(rec.Params, 0); err != nil {
		return "", err
	}

	return status, nil
}

// validateValue walks decoded YAML/JSON params enforcing size limits.
func validateValue(v any, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: params nested deeper than %d", ErrInvalidDevice, maxNestingDepth)
	}

	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: params string value too long", ErrInvalidDevice)
		}
	case map[string]any:
		for k, item := range val {
			if len(k) > maxStringValueLen {
				return fmt.Errorf("%w: params key too long", ErrInvalidDevice)
			}
			if err := validateValue(item, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if len(val) > maxParamKeys {
			return fmt.Errorf("%w: params list exceeds %d items", ErrInvalidDevice, maxParamKeys)
		}
		for _, item := range val {
			if err := validateValue(item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// findDuplicate returns the position of the first record whose id was
// already seen, or -1.
func findDuplicate(records []Record) int {
	seen := make(map[int]struct{}, len(records))
	for i, rec := range records {
		if _, ok := seen[rec.ID]; ok {
			return i
		}
		seen[rec.ID] = struct{}{}
	}
	return -1
}
