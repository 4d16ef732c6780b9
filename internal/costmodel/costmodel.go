// Package costmodel fits linear cost models to benchmark samples:
// cost(size) = Base + PerItem * size, by ordinary least squares.
package costmodel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"SessionBench/internal/scenario"
)

var (
	// ErrUnderdetermined is returned when an operation was sampled at fewer than two sizes.
	ErrUnderdetermined = errors.New("need samples at two or more sizes")
)

// Model is a fitted linear cost model, in nanoseconds.
type Model struct {
	Kind    scenario.OperationKind `json:"operation"`
	Base    float64                `json:"base_ns"`      // Base is the fixed cost
	PerItem float64                `json:"per_item_ns"`  // PerItem is the cost per corpus record
	R2      float64                `json:"r2"`           // R2 is the coefficient of determination
	Samples int                    `json:"sample_count"` // Samples is the number of points fitted
}

// Cost returns the predicted duration at size, floored at zero.
func (m Model) Cost(size int) time.Duration {
	ns := m.Base + m.PerItem*float64(size)
	if ns < 0 {
		return 0
	}

	return time.Duration(math.Round(ns))
}

// Fit fits one model per operation present in samples, in operation order.
func Fit(samples []scenario.Sample) ([]Model, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrUnderdetermined)
	}

	groups := make(map[scenario.OperationKind][]scenario.Sample)
	for _, s := range samples {
		groups[s.Kind] = append(groups[s.Kind], s)
	}

	var models []Model

	for _, kind := range scenario.Operations() {
		group, ok := groups[kind]
		if !ok {
			continue
		}

		m, err := fitOne(kind, group)
		if err != nil {
			return nil, err
		}

		models = append(models, m)
	}

	return models, nil
}

// fitOne fits samples of a single operation.
func fitOne(kind scenario.OperationKind, samples []scenario.Sample) (Model, error) {
	sizes := make(map[int]bool)
	x := make([]float64, len(samples))
	y := make([]float64, len(samples))

	for i, s := range samples {
		sizes[s.CorpusSize] = true
		x[i] = float64(s.CorpusSize)
		y[i] = float64(s.Duration.Nanoseconds())
	}

	if len(sizes) < 2 {
		return Model{}, fmt.Errorf("%w: %s sampled at %d size(s)", ErrUnderdetermined, kind, len(sizes))
	}

	slope, intercept := regression(x, y)

	return Model{
		Kind:    kind,
		Base:    intercept,
		PerItem: slope,
		R2:      rSquared(x, y, slope, intercept),
		Samples: len(samples),
	}, nil
}

// regression returns the least-squares slope and intercept of y over x.
// x must hold at least two distinct values.
func regression(x, y []float64) (float64, float64) {
	n := float64(len(x))

	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
	}

	slope := (n*sumXY - sumX*sumY) / (n*sumX2 - sumX*sumX)
	intercept := (sumY - slope*sumX) / n

	return slope, intercept
}

// rSquared returns the share of y's variance explained by the line.
// A constant y is explained perfectly.
func rSquared(x, y []float64, slope, intercept float64) float64 {
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))

	var ssRes, ssTot float64
	for i := range x {
		pred := intercept + slope*x[i]
		ssRes += (y[i] - pred) * (y[i] - pred)
		ssTot += (y[i] - mean) * (y[i] - mean)
	}

	if ssTot == 0 {
		return 1
	}

	return 1 - ssRes/ssTot
}

// Point summarizes the samples of one operation at one size.
type Point struct {
	Kind   scenario.OperationKind `json:"operation"`
	Size   int                    `json:"corpus_size"`
	Trials int                    `json:"trials"`
	Min    time.Duration          `json:"min_ns"`
	Median time.Duration          `json:"median_ns"`
	Mean   time.Duration          `json:"mean_ns"`
}

// Summarize groups samples by operation and size, in operation then size order.
func Summarize(samples []scenario.Sample) []Point {
	type key struct {
		kind scenario.OperationKind
		size int
	}

	groups := make(map[key][]time.Duration)
	var keys []key

	for _, s := range samples {
		k := key{s.Kind, s.CorpusSize}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s.Duration)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].size < keys[j].size
	})

	points := make([]Point, 0, len(keys))
	for _, k := range keys {
		durations := groups[k]
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

		var total time.Duration
		for _, d := range durations {
			total += d
		}

		points = append(points, Point{
			Kind:   k.kind,
			Size:   k.size,
			Trials: len(durations),
			Min:    durations[0],
			Median: median(durations),
			Mean:   total / time.Duration(len(durations)),
		})
	}

	return points
}

// median returns the median of sorted durations.
func median(sorted []time.Duration) time.Duration {
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}

	return (sorted[mid-1] + sorted[mid]) / 2
}
