// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StatsModule returns the "stats" capability: descriptive statistics
// over iterables of numbers.
//
// Exposed functions: sum, mean, median, variance, stdev, percentile.
func StatsModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "stats",
		Members: starlark.StringDict{
			"sum":        starlark.NewBuiltin("stats.sum", statsSum),
			"mean":       starlark.NewBuiltin("stats.mean", statsMean),
			"median":     starlark.NewBuiltin("stats.median", statsMedian),
			"variance":   starlark.NewBuiltin("stats.variance", statsVariance),
			"stdev":      starlark.NewBuiltin("stats.stdev", statsStdev),
			"percentile": starlark.NewBuiltin("stats.percentile", statsPercentile),
		},
	}
}

// floatSlice converts an iterable of numbers to []float64.
func floatSlice(fn string, v starlark.Value) ([]float64, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want iterable of numbers", fn, v.Type())
	}

	var out []float64
	iter := iterable.Iterate()
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		f, ok := starlark.AsFloat(elem)
		if !ok {
			return nil, fmt.Errorf("%s: element %s is not a number", fn, elem.Type())
		}
		out = append(out, f)
	}
	return out, nil
}

func statsSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
		return nil, err
	}
	nums, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}

	total := 0.0
	for _, n := range nums {
		total += n
	}
	return starlark.Float(total), nil
}

func statsMean(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
		return nil, err
	}
	nums, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("%s: empty sequence", b.Name())
	}

	total := 0.0
	for _, n := range nums {
		total += n
	}
	return starlark.Float(total / float64(len(nums))), nil
}

func statsMedian(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
		return nil, err
	}
	nums, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("%s: empty sequence", b.Name())
	}

	sort.Float64s(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return starlark.Float(nums[mid]), nil
	}
	return starlark.Float((nums[mid-1] + nums[mid]) / 2), nil
}

// sampleVariance computes the sample (n-1) variance.
func sampleVariance(nums []float64) float64 {
	mean := 0.0
	for _, n := range nums {
		mean += n
	}
	mean /= float64(len(nums))

	ss := 0.0
	for _, n := range nums {
		d := n - mean
		ss += d * d
	}
	return ss / float64(len(nums)-1)
}

func statsVariance(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
		return nil, err
	}
	nums, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	if len(nums) < 2 {
		return nil, fmt.Errorf("%s: need at least two values", b.Name())
	}
	return starlark.Float(sampleVariance(nums)), nil
}

func statsStdev(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
		return nil, err
	}
	nums, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	if len(nums) < 2 {
		return nil, fmt.Errorf("%s: need at least two values", b.Name())
	}
	return starlark.Float(math.Sqrt(sampleVariance(nums))), nil
}

func statsPercentile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	var p float64
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &values, &p); err != nil {
		return nil, err
	}
	nums, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("%s: empty sequence", b.Name())
	}
	if p < 0 || p > 100 {
		return nil, fmt.Errorf("%s: percentile %v out of range [0, 100]", b.Name(), p)
	}

	sort.Float64s(nums)

	// Linear interpolation between closest ranks.
	rank := p / 100 * float64(len(nums)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return starlark.Float(nums[lo]), nil
	}
	frac := rank - float64(lo)
	return starlark.Float(nums[lo] + frac*(nums[hi]-nums[lo])), nil
}
