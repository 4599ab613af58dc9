//go:build ignore

// Package main generates a synthetic document corpus for exercising the
// ingestion pipeline. Each document is a plain-text file with form-feed
// page breaks, built from topic-specific sentence pools so semantic
// chunking and retrieval have real structure to work with.
// Usage: go run scripts/generate-test-corpus.go -files 100 -output testdata/corpus
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 100, "Number of documents to generate")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	maxPages  = flag.Int("max-pages", 8, "Maximum pages per document")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// Sentence pools per topic. Documents stay on one topic per page so the
// similarity-based chunker sees coherent runs with clear boundaries at
// page transitions.
var topics = map[string][]string{
	"finance": {
		"Quarterly revenue increased by %d percent compared to the prior period.",
		"Operating expenses were held flat despite %d new hires in the region.",
		"The audit committee approved the consolidated statements on schedule.",
		"Gross margin improved as supplier contracts were renegotiated.",
		"Cash reserves remain sufficient to cover %d months of operations.",
		"Depreciation of warehouse equipment accounted for a small variance.",
	},
	"maintenance": {
		"The filter cartridge must be replaced after %d hours of operation.",
		"Lubricate the drive bearings before restarting the conveyor unit.",
		"Torque the mounting bolts to the value printed on the service plate.",
		"Inspect the seal ring for wear whenever the housing is opened.",
		"A warning light indicates that coolant pressure fell below %d bar.",
		"Record every service interval in the machine logbook.",
	},
	"hr": {
		"New employees complete onboarding within the first %d business days.",
		"Remote work requests are reviewed by the direct supervisor.",
		"Annual leave carries over up to a maximum of %d days.",
		"The code of conduct applies to contractors as well as staff.",
		"Performance reviews take place twice per calendar year.",
		"Training budgets are allocated per department at year start.",
	},
	"legal": {
		"This agreement remains in force for %d years from the effective date.",
		"Either party may terminate with %d days of written notice.",
		"Confidential information must not be disclosed to third parties.",
		"Liability is limited to the fees paid in the preceding year.",
		"Disputes are settled under the law of the seller's jurisdiction.",
		"Amendments require the written consent of both parties.",
	},
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output directory: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}

	fmt.Printf("generating %d documents in %s...\n", *numFiles, *outputDir)

	for i := 0; i < *numFiles; i++ {
		topic := names[rng.Intn(len(names))]
		doc := buildDocument(rng, topics[topic])
		filename := filepath.Join(*outputDir, fmt.Sprintf("%s_%03d.txt", topic, i))
		if err := os.WriteFile(filename, []byte(doc), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "error writing %s: %v\n", filename, err)
			os.Exit(1)
		}
	}

	fmt.Printf("done.\n")
}

// buildDocument produces 1..maxPages pages separated by form feeds, each
// page holding a handful of sentences from the topic pool.
func buildDocument(rng *rand.Rand, pool []string) string {
	pages := 1 + rng.Intn(*maxPages)
	var parts []string
	for p := 0; p < pages; p++ {
		sentences := 3 + rng.Intn(5)
		var page []string
		for s := 0; s < sentences; s++ {
			tmpl := pool[rng.Intn(len(pool))]
			if strings.Contains(tmpl, "%d") {
				page = append(page, fmt.Sprintf(tmpl, 1+rng.Intn(30)))
			} else {
				page = append(page, tmpl)
			}
		}
		parts = append(parts, strings.Join(page, " "))
	}
	return strings.Join(parts, "\f")
}
