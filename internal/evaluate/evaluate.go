// Package evaluate computes classification metrics.
package evaluate

import (
	"fmt"
	"sort"
	"strings"
)

// Accuracy is the fraction of predictions equal to the truth.
func Accuracy(yTrue, yPred []int) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

type Report struct {
	Labels      []int          `json:"labels"`
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macro avg"`
	WeightedAvg ClassMetrics   `json:"weighted avg"`
	Confusion   [][]int        `json:"confusion_matrix"`
}

// ClassificationReport computes per-class precision, recall and F1 plus
// macro and support-weighted averages. Undefined ratios count as 0.
func ClassificationReport(yTrue, yPred []int) (*Report, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return nil, err
	}

	labels := unionLabels(yTrue, yPred)
	confusion := ConfusionMatrix(yTrue, yPred, labels)
	acc, _ := Accuracy(yTrue, yPred)

	r := &Report{Labels: labels, Accuracy: acc, Confusion: confusion}
	total := len(yTrue)
	for i := range labels {
		tp := confusion[i][i]
		support, predicted := 0, 0
		for j := range labels {
			support += confusion[i][j]
			predicted += confusion[j][i]
		}

		m := ClassMetrics{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes = append(r.Classes, m)

		n := float64(len(labels))
		r.MacroAvg.Precision += m.Precision / n
		r.MacroAvg.Recall += m.Recall / n
		r.MacroAvg.F1 += m.F1 / n

		w := float64(support) / float64(total)
		r.WeightedAvg.Precision += m.Precision * w
		r.WeightedAvg.Recall += m.Recall * w
		r.WeightedAvg.F1 += m.F1 * w
	}
	r.MacroAvg.Support = total
	r.WeightedAvg.Support = total

	return r, nil
}

// ConfusionMatrix counts rows of true labels against columns of predicted
// labels, both ordered as labels.
func ConfusionMatrix(yTrue, yPred []int, labels []int) [][]int {
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	m := make([][]int, len(labels))
	for i := range m {
		m[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		t, ok1 := index[yTrue[i]]
		p, ok2 := index[yPred[i]]
		if ok1 && ok2 {
			m[t][p]++
		}
	}
	return m
}

// String renders the report in the familiar fixed-width table layout.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%14s %9s %9s %9s %9s\n\n", "", "precision", "recall", "f1-score", "support")
	for i, label := range r.Labels {
		m := r.Classes[i]
		fmt.Fprintf(&b, "%14d %9.2f %9.2f %9.2f %9d\n", label, m.Precision, m.Recall, m.F1, m.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%14s %9s %9s %9.2f %9d\n", "accuracy", "", "", r.Accuracy, r.MacroAvg.Support)
	for _, row := range []struct {
		name string
		m    ClassMetrics
	}{{"macro avg", r.MacroAvg}, {"weighted avg", r.WeightedAvg}} {
		fmt.Fprintf(&b, "%14s %9.2f %9.2f %9.2f %9d\n", row.name, row.m.Precision, row.m.Recall, row.m.F1, row.m.Support)
	}
	return b.String()
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func unionLabels(a, b []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, ys := range [][]int{a, b} {
		for _, y := range ys {
			if !seen[y] {
				seen[y] = true
				out = append(out, y)
			}
		}
	}
	sort.Ints(out)
	return out
}

func checkLengths(yTrue, yPred []int) error {
	if len(yTrue) == 0 {
		return fmt.Errorf("no samples to evaluate")
	}
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("length mismatch: %d labels, %d predictions", len(yTrue), len(yPred))
	}
	return nil
}
