package saa

import (
	"errors"
	"math"
	"testing"
)

func TestCostBoundIdenticalSamplesHaveZeroWidth(t *testing.T) {
	for _, conf := range []float64{0.5, 0.9, 0.95, 0.999} {
		for _, n := range []int{1, 2, 5, 40} {
			samples := make([]float64, n)
			for i := range samples {
				samples[i] = 4321.5
			}
			b, err := NewCostBound(conf, samples)
			if err != nil {
				t.Fatalf("NewCostBound(%v, n=%d): %v", conf, n, err)
			}
			if b.Width() != 0 || b.Mean != 4321.5 || b.Variance != 0 {
				t.Fatalf("conf=%v n=%d: %+v", conf, n, b)
			}
		}
	}
}

func TestCostBoundTwoSampleVariance(t *testing.T) {
	cases := [][2]float64{{1, 3}, {1000, 1500}, {-2, 7.5}}
	for _, c := range cases {
		b, err := NewCostBound(0.95, c[:])
		if err != nil {
			t.Fatalf("NewCostBound: %v", err)
		}
		want := (c[0] - c[1]) * (c[0] - c[1]) / 2
		if math.Abs(b.Variance-want) > 1e-9*math.Max(1, want) {
			t.Fatalf("variance(%v) = %v, want %v", c, b.Variance, want)
		}
	}
}

func TestCostBoundCriticalValues(t *testing.T) {
	// t(1) at 97.5% is 12.706; the normal quantile is 1.960.
	b, err := NewCostBound(0.95, []float64{0, 2})
	if err != nil {
		t.Fatalf("NewCostBound: %v", err)
	}
	if got := b.High - b.Mean; math.Abs(got-12.7062) > 1e-3 {
		t.Fatalf("t margin = %v, want 12.706", got)
	}

	large := make([]float64, 100)
	for i := range large {
		large[i] = float64(i % 2 * 2)
	}
	b, err = NewCostBound(0.95, large)
	if err != nil {
		t.Fatalf("NewCostBound: %v", err)
	}
	wantMargin := 1.959964 * math.Sqrt(b.Variance/100)
	if got := b.High - b.Mean; math.Abs(got-wantMargin) > 1e-5 {
		t.Fatalf("normal margin = %v, want %v", got, wantMargin)
	}
	if b.Low > b.Mean || b.High < b.Mean {
		t.Fatalf("interval %v does not contain the mean", b)
	}
}

func TestCostBoundErrors(t *testing.T) {
	if _, err := NewCostBound(0.95, nil); !errors.Is(err, ErrEmptySample) {
		t.Fatalf("err = %v, want ErrEmptySample", err)
	}
	for _, conf := range []float64{0, 1, -0.2, 1.5, math.NaN()} {
		if _, err := NewCostBound(conf, []float64{1, 2}); !errors.Is(err, ErrBadConfidence) {
			t.Fatalf("confidence %v: err = %v", conf, err)
		}
	}
}
