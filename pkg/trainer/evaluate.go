package trainer

import (
	"fmt"
	"io"

	"github.com/spamlens/spamlens/pkg/learning"
)

// ClassMetrics are the per-class quality figures.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation summarizes classifier quality on a held-out set.
type Evaluation struct {
	Accuracy float64 `json:"accuracy"`
	// PerClass is indexed by learning.Label.
	PerClass [2]ClassMetrics `json:"per_class"`
	// Confusion[actual][predicted] counts examples.
	Confusion [2][2]int `json:"confusion"`
}

// Evaluate predicts every vector and compares against the true labels.
// Metrics with an empty denominator are reported as zero.
func Evaluate(clf *learning.Classifier, features []learning.Vector, labels []learning.Label) Evaluation {
	var ev Evaluation
	correct := 0
	for i, vec := range features {
		got := clf.Predict(vec).Label
		ev.Confusion[labels[i]][got]++
		if got == labels[i] {
			correct++
		}
	}
	if len(features) > 0 {
		ev.Accuracy = float64(correct) / float64(len(features))
	}

	for _, l := range learning.Labels {
		tp := ev.Confusion[l][l]
		predicted, actual := 0, 0
		for _, other := range learning.Labels {
			predicted += ev.Confusion[other][l]
			actual += ev.Confusion[l][other]
		}
		m := ClassMetrics{Support: actual}
		if predicted > 0 {
			m.Precision = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			m.Recall = float64(tp) / float64(actual)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		ev.PerClass[l] = m
	}
	return ev
}

// Fprint writes a classification report table.
func (ev Evaluation) Fprint(w io.Writer) {
	fmt.Fprintf(w, "%-10s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	total := 0
	for _, l := range learning.Labels {
		m := ev.PerClass[l]
		total += m.Support
		fmt.Fprintf(w, "%-10s %10.2f %10.2f %10.2f %10d\n", l, m.Precision, m.Recall, m.F1, m.Support)
	}
	fmt.Fprintf(w, "\n%-10s %32.2f %10d\n", "accuracy", ev.Accuracy, total)
	fmt.Fprintf(w, "\nconfusion (rows actual, columns predicted):\n")
	fmt.Fprintf(w, "%-10s %8s %8s\n", "", learning.LabelNormal, learning.LabelSpam)
	for _, l := range learning.Labels {
		fmt.Fprintf(w, "%-10s %8d %8d\n", l, ev.Confusion[l][learning.LabelNormal], ev.Confusion[l][learning.LabelSpam])
	}
}
