// Package labels ingests annotations returned by the labeling service,
// merges them into the example corpus by key, and splits the labeled corpus
// into train and test shards deterministically.
package labels

import (
	"fmt"
	"sort"

	"github.com/canlilar/skai/internal/examples"
)

// Binary class names used in taxonomy configuration.
const (
	ClassNegative = "negative"
	ClassPositive = "positive"
)

// Taxonomy maps each raw label value the labeling tool can return to a
// binary class. It is configuration, not code: the labeling tool's
// vocabulary drifts, and an unmapped value must fail loudly rather than be
// silently dropped.
type Taxonomy map[string]string

// DefaultTaxonomy is the mapping for the standard damage-assessment task.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		"undamaged":         ClassNegative,
		"possibly_damaged":  ClassNegative,
		"bad_example":       ClassNegative,
		"damaged_destroyed": ClassPositive,
	}
}

// Validate rejects tables mapping to anything but the two binary classes.
func (t Taxonomy) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("taxonomy mapping is empty")
	}
	var bad []string
	for raw, class := range t {
		if class != ClassNegative && class != ClassPositive {
			bad = append(bad, fmt.Sprintf("%s: %s", raw, class))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("taxonomy maps to unknown classes (want %s or %s): %v", ClassNegative, ClassPositive, bad)
	}
	return nil
}

// Map resolves a raw label value to its binary label. An unrecognized value
// is a configuration error, fatal to the merge.
func (t Taxonomy) Map(raw string) (int, error) {
	class, ok := t[raw]
	if !ok {
		return 0, fmt.Errorf("label value %q is not in the taxonomy mapping; update the configuration", raw)
	}
	if class == ClassPositive {
		return examples.LabelPositive, nil
	}
	return examples.LabelNegative, nil
}
