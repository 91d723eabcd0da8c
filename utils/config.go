package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTokenIDs parses a whitespace- or comma-separated list of token ids,
// e.g. "1 5 20 7" or "1,5,20,7".
func ParseTokenIDs(s string) ([]int, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
	ids := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("token id %q: %w", p, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("token id %d must be non-negative", n)
		}
		ids[i] = n
	}
	return ids, nil
}
