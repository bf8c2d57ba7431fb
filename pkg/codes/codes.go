// Package codes loads and validates the DENUE query dimensions: economic
// sector codes (2 digits), municipality codes (5-digit CVEGEO) and size
// strata (1-7).
package codes

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Errors returned by code loading and parsing.
var (
	// ErrEmptyList is returned when a code spec yields no codes at all.
	ErrEmptyList = errors.New("empty code list")

	// ErrInvalidInput is returned when a code-list file cannot be read.
	ErrInvalidInput = errors.New("invalid code input")
)

// AggregateAll is the sentinel code that collapses a query dimension:
// as a sector it means "count across all sectors".
const AggregateAll = "0"

// Load resolves a code spec into an ordered code sequence. A spec naming
// an existing file is read token by token (whitespace or line separated,
// blank entries skipped); anything else is treated as a comma-separated
// literal list. Deduplication is the caller's concern.
func Load(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: empty spec", ErrEmptyList)
	}

	if info, err := os.Stat(spec); err == nil && !info.IsDir() {
		return loadFile(spec)
	}

	var out []string
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyList, spec)
	}
	return out, nil
}

func loadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidInput, path, err)
	}

	out := strings.Fields(string(data))
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: file %s contains no codes", ErrEmptyList, path)
	}
	return out, nil
}

// ValidSector reports whether s is a usable sector code: the aggregate-all
// sentinel or exactly two digits.
func ValidSector(s string) bool {
	return s == AggregateAll || (len(s) == 2 && isDigits(s))
}

// ValidMunicipality reports whether s is a usable municipality code: the
// aggregate-all sentinel or exactly five digits.
func ValidMunicipality(s string) bool {
	return s == AggregateAll || (len(s) == 5 && isDigits(s))
}

// PadMunicipalities normalizes raw municipality codes: numeric codes of up
// to five digits are zero-padded on the left, malformed entries are dropped
// with a warning, and duplicates are removed preserving first-seen order.
func PadMunicipalities(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))

	for _, a := range raw {
		a = strings.TrimSpace(a)

		var code string
		switch {
		case a == AggregateAll:
			code = AggregateAll
		case len(a) > 0 && len(a) <= 5 && isDigits(a):
			code = strings.Repeat("0", 5-len(a)) + a
		default:
			log.Warn().Str("municipality", a).Msg("Invalid municipality code, skipping")
			continue
		}

		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}

	return out
}

// ParseStrata parses a comma-separated stratum spec. Each value must be an
// integer in [1,7]; duplicates are removed preserving order. Duplicates
// would otherwise double-count a cell downstream.
func ParseStrata(spec string) ([]int, error) {
	seen := make(map[int]struct{})
	var out []int

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		e, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: stratum %q is not a number", ErrInvalidInput, part)
		}
		if e < 1 || e > 7 {
			return nil, fmt.Errorf("%w: stratum %d outside range [1,7]", ErrInvalidInput, e)
		}

		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no strata", ErrEmptyList)
	}
	return out, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
