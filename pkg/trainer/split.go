package trainer

import (
	"math"
	"math/rand"
	"sort"

	"github.com/spamlens/spamlens/pkg/learning"
)

// SplitResult holds example indices for training and evaluation.
type SplitResult struct {
	Train []int
	Test  []int
	// Degraded is set when the corpus was too small to stratify and the full
	// set is used for both training and evaluation.
	Degraded bool
}

// Split partitions example indices into train and test sets preserving the
// class proportions. Each class contributes round(count*ratio) test examples,
// clamped so that both sides keep at least one example. When any class has
// fewer than minPerClass examples the full set is returned for both sides.
func Split(labels []learning.Label, ratio float64, seed int64, minPerClass int) SplitResult {
	byClass := make(map[learning.Label][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}

	degraded := ratio <= 0 || ratio >= 1
	for _, l := range learning.Labels {
		if len(byClass[l]) < minPerClass || len(byClass[l]) < 2 {
			degraded = true
		}
	}
	if degraded {
		all := make([]int, len(labels))
		for i := range all {
			all[i] = i
		}
		return SplitResult{Train: all, Test: all, Degraded: true}
	}

	rng := rand.New(rand.NewSource(seed))
	var res SplitResult
	for _, l := range learning.Labels {
		idx := append([]int(nil), byClass[l]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		n := int(math.Round(float64(len(idx)) * ratio))
		if n < 1 {
			n = 1
		}
		if n > len(idx)-1 {
			n = len(idx) - 1
		}
		res.Test = append(res.Test, idx[:n]...)
		res.Train = append(res.Train, idx[n:]...)
	}
	sort.Ints(res.Train)
	sort.Ints(res.Test)
	return res
}

func pick[T any](items []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}
