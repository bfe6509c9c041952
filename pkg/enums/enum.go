package enums

import (
	"fmt"
	"slices"
)

// parse returns the member of values equal to raw. kind names the enum in
// the error.
func parse[T ~string](values []T, raw, kind string) (T, error) {
	if v := T(raw); slices.Contains(values, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
