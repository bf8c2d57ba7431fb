package codes

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ExtractMunicipalities reads an AGEEML catalog export (tab-separated,
// latin-1 encoded, as published by INEGI) and writes every 5-digit numeric
// CVEGEO value to w, one per line. The result is directly usable as a
// municipality list file for Load. Returns the number of codes written.
func ExtractMunicipalities(r io.Reader, w io.Writer) (int, error) {
	reader := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(r))
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("%w: read AGEEML header: %v", ErrInvalidInput, err)
	}

	cvegeoCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "CVEGEO") {
			cvegeoCol = i
			break
		}
	}
	if cvegeoCol < 0 {
		return 0, fmt.Errorf("%w: AGEEML file has no CVEGEO column", ErrInvalidInput)
	}

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("%w: read AGEEML record: %v", ErrInvalidInput, err)
		}
		if cvegeoCol >= len(record) {
			continue
		}

		clave := strings.Trim(strings.TrimSpace(record[cvegeoCol]), `"`)
		if len(clave) != 5 || !isDigits(clave) {
			continue
		}

		if _, err := fmt.Fprintln(w, clave); err != nil {
			return count, fmt.Errorf("write municipality list: %w", err)
		}
		count++
	}

	return count, nil
}
