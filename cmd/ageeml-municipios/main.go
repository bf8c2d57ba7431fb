// Command ageeml-municipios extracts 5-digit CVEGEO municipality keys from
// an AGEEML catalog export (tab-separated, latin-1) into a plain text list,
// one code per line, ready for denue-census --area.
package main

import (
	"fmt"
	"os"

	"github.com/mxstats/denue-census/pkg/codes"
)

func run(inputPath, outputPath string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", inputPath, err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputPath, err)
	}

	count, err := codes.ExtractMunicipalities(in, out)
	if err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", outputPath, err)
	}

	fmt.Printf("Wrote %d municipality codes to %s\n", count, outputPath)
	return nil
}

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <ageeml.tsv> <municipios.txt>\n", os.Args[0])
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
