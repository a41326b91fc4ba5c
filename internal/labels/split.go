package labels

import "hash/fnv"

// Split names.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// splitBuckets is the granularity of the test fraction: 0.1% steps.
const splitBuckets = 1000

// SplitOf assigns an example to train or test. Pure function of the example
// ID and the fraction: a stable hash bucketed mod 1000, so the same example
// always lands in the same split and the test share converges to the
// configured fraction as the corpus grows. The salt keeps the split hash
// independent of the shard hash.
func SplitOf(exampleID string, testFraction float64) string {
	h := fnv.New64a()
	h.Write([]byte("split:"))
	h.Write([]byte(exampleID))
	cutoff := uint64(testFraction*splitBuckets + 0.5)
	if h.Sum64()%splitBuckets < cutoff {
		return SplitTest
	}
	return SplitTrain
}
