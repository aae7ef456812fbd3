package traits

import (
	"math"
	"testing"

	"podium/internal/core"
)

func biasStep(value float64, bias ...float64) map[string]any {
	coords := make([]any, len(bias))
	for i, b := range bias {
		coords[i] = b
	}
	return map[string]any{"value": value, "bias": coords}
}

func TestFoldBiasEmptyHistory(t *testing.T) {
	if got := foldBias(nil, core.AffinityParams{}); len(got) != 0 {
		t.Fatalf("empty history folded to %v", got)
	}
}

func TestFoldBiasSingleStep(t *testing.T) {
	params := core.AffinityParams{StepSize: 0.5, StepNorm: 1.0}
	position := foldBias([]map[string]any{biasStep(1, 1, 0, -1)}, params)
	if len(position) != 3 {
		t.Fatalf("position has %d dimensions, want 3", len(position))
	}
	if position[0] <= 0 || position[1] != 0 || position[2] >= 0 {
		t.Fatalf("displacement signs wrong: %v", position)
	}
	// Damping only shrinks the raw step.
	if position[0] > 0.5 {
		t.Fatalf("displacement %v exceeds the undamped step", position[0])
	}
}

func TestFoldBiasStaysBounded(t *testing.T) {
	params := core.AffinityParams{StepSize: 1.0, StepNorm: 1.0}
	steps := make([]map[string]any, 200)
	for i := range steps {
		steps[i] = biasStep(1, 1)
	}
	position := foldBias(steps, params)
	// Repeated same-direction steps saturate instead of diverging.
	if position[0] > 5*params.StepNorm {
		t.Fatalf("position %v diverged past the damping width", position[0])
	}
	shorter := foldBias(steps[:100], params)
	if position[0] < shorter[0] {
		t.Fatalf("fold not monotone: %v after 200 steps, %v after 100", position[0], shorter[0])
	}
}

func TestFoldBiasOpposingStepsCancel(t *testing.T) {
	params := core.AffinityParams{StepSize: 0.1, StepNorm: 1.0}
	steps := []map[string]any{biasStep(1, 1), biasStep(-1, 1)}
	position := foldBias(steps, params)
	if math.Abs(position[0]) > 1e-3 {
		t.Fatalf("opposing unit steps left residue %v", position[0])
	}
}

func TestFoldBiasZeroParamsNormalized(t *testing.T) {
	position := foldBias([]map[string]any{biasStep(1, 1)}, core.AffinityParams{})
	if position[0] <= 0 {
		t.Fatalf("zero params produced no displacement: %v", position)
	}
}

func TestAffinityOfIdenticalPositions(t *testing.T) {
	a := []float64{0.2, -0.4, 0.1}
	if got := affinity(a, a); got != 1 {
		t.Fatalf("self affinity = %v, want 1", got)
	}
}

func TestAffinityDecreasesWithDistance(t *testing.T) {
	origin := []float64{0, 0}
	near := affinity(origin, []float64{0.1, 0})
	far := affinity(origin, []float64{0.9, 0})
	if near <= far {
		t.Fatalf("affinity near=%v not greater than far=%v", near, far)
	}
}

func TestAffinityUsesSharedDimensions(t *testing.T) {
	a := []float64{0.5}
	b := []float64{0.5, 123}
	if got := affinity(a, b); got != 1 {
		t.Fatalf("affinity over shared dimension = %v, want 1", got)
	}
}
