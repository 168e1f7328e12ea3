package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

func ContinueOrFatal(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}

// ParseEntitySelector parses the shared --entities flag: "all" (or empty)
// means every entity, otherwise a comma-separated list of integer ids.
func ParseEntitySelector(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid entity id %q: %w", part, err)
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("entity selector %q contains no ids", raw)
	}

	return ids, nil
}

// ParseTimeframeSelector parses the shared --timeframes flag: "all" (or
// empty) selects all canonical timeframes, otherwise a comma-separated list
// of timeframe ids.
func ParseTimeframeSelector(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			ids = append(ids, part)
		}
	}

	return ids
}
