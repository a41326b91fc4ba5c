package main

import (
	"fmt"

	"github.com/canlilar/skai/internal/examples"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dataset statistics from the example catalog",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	catalog, err := examples.OpenCatalog(catalogPath())
	if err != nil {
		return err
	}
	defer catalog.Close()

	s, err := catalog.Counts()
	if err != nil {
		return err
	}

	fmt.Printf("Examples:        %d\n", s.Total)
	fmt.Printf("  partial:       %d\n", s.Partial)
	fmt.Printf("Labeled:         %d\n", s.Labeled)
	fmt.Printf("  train:         %d\n", s.Train)
	fmt.Printf("  test:          %d\n", s.Test)
	fmt.Printf("  positives:     %d\n", s.Positives)
	fmt.Printf("  negatives:     %d\n", s.Negatives)
	return nil
}
