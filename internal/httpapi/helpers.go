package httpapi

import (
	"strconv"
	"strings"

	"heksher/internal/apperr"
)

// parseVersion parses the "major.minor" version string spec.md §4.4's
// declare/explicit-endpoint requests carry. An empty string defaults to
// 1.0 (the initial declaration version).
func parseVersion(raw string) (major, minor int, err error) {
	if raw == "" {
		return 1, 0, nil
	}
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 {
		return 0, 0, apperr.Validation("version", raw, "version", "must be major.minor")
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, apperr.Validation("version", raw, "version", "malformed major component")
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, apperr.Validation("version", raw, "version", "malformed minor component")
	}
	return major, minor, nil
}
