// Package forest implements a random forest classifier built from CART
// trees with Gini impurity.
package forest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
)

type Params struct {
	NEstimators     int   `json:"n_estimators"`
	MaxFeatures     int   `json:"max_features"` // 0 means sqrt(n_features)
	MaxDepth        int   `json:"max_depth"`    // 0 means unlimited
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	Bootstrap       bool  `json:"bootstrap"`
	Seed            int64 `json:"random_state"`
	// NJobs bounds the number of trees fitted concurrently. It does not
	// change the fitted model.
	NJobs int `json:"-"`
}

func DefaultParams() Params {
	return Params{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
		NJobs:           1,
	}
}

func (p Params) Validate() error {
	switch {
	case p.NEstimators < 1:
		return fmt.Errorf("n_estimators must be positive, got %d", p.NEstimators)
	case p.MaxFeatures < 0:
		return fmt.Errorf("max_features cannot be negative, got %d", p.MaxFeatures)
	case p.MaxDepth < 0:
		return fmt.Errorf("max_depth cannot be negative, got %d", p.MaxDepth)
	case p.MinSamplesSplit < 2:
		return fmt.Errorf("min_samples_split must be at least 2, got %d", p.MinSamplesSplit)
	case p.MinSamplesLeaf < 1:
		return fmt.Errorf("min_samples_leaf must be at least 1, got %d", p.MinSamplesLeaf)
	}
	return nil
}

// AsMap renders the hyperparameters the way they are logged as run params.
func (p Params) AsMap() map[string]string {
	maxFeatures := "sqrt"
	if p.MaxFeatures > 0 {
		maxFeatures = strconv.Itoa(p.MaxFeatures)
	}
	maxDepth := "None"
	if p.MaxDepth > 0 {
		maxDepth = strconv.Itoa(p.MaxDepth)
	}
	return map[string]string{
		"n_estimators":      strconv.Itoa(p.NEstimators),
		"criterion":         "gini",
		"max_features":      maxFeatures,
		"max_depth":         maxDepth,
		"min_samples_split": strconv.Itoa(p.MinSamplesSplit),
		"min_samples_leaf":  strconv.Itoa(p.MinSamplesLeaf),
		"bootstrap":         strconv.FormatBool(p.Bootstrap),
		"random_state":      strconv.FormatInt(p.Seed, 10),
	}
}

type Forest struct {
	Params   Params   `json:"params"`
	Classes  []int    `json:"classes"`
	Features []string `json:"features"`
	Trees    []Tree   `json:"trees"`
}

// Fit trains a forest on X and y. Every tree gets its own seed drawn from
// Params.Seed up front, so the result is the same for any NJobs.
func Fit(ctx context.Context, params Params, features []string, X [][]float64, y []int) (*Forest, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("invalid training data: %d rows, %d labels", len(X), len(y))
	}
	nFeatures := len(X[0])
	for i, row := range X {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
	}

	classes := distinct(y)
	classIndex := make(map[int]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	encoded := make([]int, len(y))
	for i, label := range y {
		encoded[i] = classIndex[label]
	}

	maxFeatures := params.MaxFeatures
	if maxFeatures == 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}
	maxFeatures = min(maxFeatures, nFeatures)

	master := rand.New(rand.NewSource(params.Seed))
	seeds := make([]int64, params.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	f := &Forest{
		Params:   params,
		Classes:  classes,
		Features: features,
		Trees:    make([]Tree, params.NEstimators),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, params.NJobs))
	for i := range seeds {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := &builder{
				X:           X,
				y:           encoded,
				nClasses:    len(classes),
				maxFeatures: maxFeatures,
				params:      params,
				rng:         rand.New(rand.NewSource(seeds[i])),
			}
			f.Trees[i] = b.build(b.sample())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return f, nil
}

// PredictProba averages the leaf class distributions of all trees. Columns
// follow f.Classes.
func (f *Forest) PredictProba(x []float64) []float64 {
	proba := make([]float64, len(f.Classes))
	for i := range f.Trees {
		leaf := f.Trees[i].leaf(x)
		for c, p := range leaf {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.Trees))
	}
	return proba
}

// Predict returns the most probable class label; ties go to the smaller label.
func (f *Forest) Predict(x []float64) int {
	proba := f.PredictProba(x)
	best := 0
	for c := 1; c < len(proba); c++ {
		if proba[c] > proba[best] {
			best = c
		}
	}
	return f.Classes[best]
}

func (f *Forest) PredictAll(X [][]float64) []int {
	out := make([]int, len(X))
	for i, x := range X {
		out[i] = f.Predict(x)
	}
	return out
}

// Save writes the forest as JSON.
func (f *Forest) Save(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("failed to encode forest: %w", err)
	}
	return nil
}

func Load(r io.Reader) (*Forest, error) {
	var f Forest
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode forest: %w", err)
	}
	if len(f.Trees) == 0 || len(f.Classes) == 0 {
		return nil, fmt.Errorf("forest has no trees or classes")
	}
	return &f, nil
}

func distinct(y []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
