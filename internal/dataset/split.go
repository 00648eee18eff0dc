package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions d into train and test sets so that each class
// keeps its proportion. For every class the row indices are shuffled with
// a PRNG seeded by seed and the first round(testSize*n) go to the test set,
// so the split depends only on the data and the seed.
func StratifiedSplit(d *Dataset, testSize float64, seed int64) (train, test *Dataset, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}

	byClass := make(map[int][]int)
	for i, y := range d.Y {
		byClass[y] = append(byClass[y], i)
	}

	rng := rand.New(rand.NewSource(seed))
	var trainIdx, testIdx []int
	for _, class := range d.Classes() {
		idx := byClass[class]
		if len(idx) < 2 {
			return nil, nil, fmt.Errorf("class %d has %d row(s); need at least 2 to stratify", class, len(idx))
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(testSize * float64(len(idx))))
		nTest = max(1, min(nTest, len(idx)-1))
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}

	// keep original row order inside each split
	sort.Ints(trainIdx)
	sort.Ints(testIdx)
	return d.Subset(trainIdx), d.Subset(testIdx), nil
}
