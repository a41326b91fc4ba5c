package labels

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Annotation is one label produced by the labeling service. Ingested,
// never mutated.
type Annotation struct {
	ExampleID string    `json:"example_id"`
	Value     string    `json:"value"`
	Labeler   string    `json:"labeler,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ReadAnnotations parses an annotation file by extension: ".csv" with
// columns example_id,value[,labeler,timestamp] or ".jsonl" with one
// annotation object per line.
func ReadAnnotations(name string, r io.Reader) ([]Annotation, error) {
	switch {
	case strings.HasSuffix(name, ".csv"):
		return readCSV(r)
	case strings.HasSuffix(name, ".jsonl"):
		return readJSONL(r)
	default:
		return nil, fmt.Errorf("unsupported annotation format %q (want .csv or .jsonl)", name)
	}
}

func readCSV(r io.Reader) ([]Annotation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse annotation CSV: %w", err)
	}
	var anns []Annotation
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("annotation CSV row %d: expected example_id,value", i+1)
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(row[0]), "example_id") {
			continue
		}
		ann := Annotation{
			ExampleID: strings.TrimSpace(row[0]),
			Value:     strings.TrimSpace(row[1]),
		}
		if len(row) > 2 {
			ann.Labeler = strings.TrimSpace(row[2])
		}
		if len(row) > 3 && strings.TrimSpace(row[3]) != "" {
			ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row[3]))
			if err != nil {
				return nil, fmt.Errorf("annotation CSV row %d: invalid timestamp %q: %w", i+1, row[3], err)
			}
			ann.Timestamp = ts
		}
		anns = append(anns, ann)
	}
	return anns, nil
}

func readJSONL(r io.Reader) ([]Annotation, error) {
	dec := json.NewDecoder(r)
	var anns []Annotation
	for {
		var ann Annotation
		if err := dec.Decode(&ann); err == io.EOF {
			return anns, nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to parse annotation JSONL: %w", err)
		}
		anns = append(anns, ann)
	}
}

// Dedupe collapses annotations to one per example ID, deterministically:
// the latest timestamp wins, ties broken by labeler then value. Re-ingesting
// the same annotations therefore never changes the outcome.
func Dedupe(anns []Annotation) map[string]Annotation {
	out := make(map[string]Annotation, len(anns))
	for _, ann := range anns {
		prev, ok := out[ann.ExampleID]
		if !ok || supersedes(ann, prev) {
			out[ann.ExampleID] = ann
		}
	}
	return out
}

func supersedes(a, b Annotation) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.Labeler != b.Labeler {
		return a.Labeler > b.Labeler
	}
	return a.Value > b.Value
}
