package traits

import (
	"math"

	"podium/internal/core"
)

// foldBias folds reaction steps into a position in affinity space. Each step
// carries the reactor's bias coordinates and a reaction value; displacement is
// damped as coordinates approach the norm, so positions stay bounded.
func foldBias(steps []map[string]any, params core.AffinityParams) []float64 {
	params = params.Normalized()
	var current []float64
	for _, step := range steps {
		value := asNumber(step["value"])
		bias := asFloatSlice(step["bias"])
		for len(current) < len(bias) {
			current = append(current, 0)
		}
		for i := range current {
			if i >= len(bias) {
				break
			}
			distance := bias[i] * value * params.StepSize
			weighting := math.Exp(-0.5 * math.Pow((current[i]+distance)/params.StepNorm, 2))
			current[i] += distance * weighting
		}
	}
	return current
}

// affinity is the inverse distance of two bias positions over their shared
// dimensions.
func affinity(a, b []float64) float64 {
	dims := len(a)
	if len(b) < dims {
		dims = len(b)
	}
	var sum float64
	for d := 0; d < dims; d++ {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return 1.0 - math.Sqrt(sum)
}

func asNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func asFloatSlice(v any) []float64 {
	switch s := v.(type) {
	case []float64:
		out := make([]float64, len(s))
		copy(out, s)
		return out
	case []any:
		out := make([]float64, 0, len(s))
		for _, item := range s {
			out = append(out, asNumber(item))
		}
		return out
	}
	return nil
}
