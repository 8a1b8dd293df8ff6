package core

import (
	"errors"
	"math"
	"testing"

	"github.com/anthropics/agentmemory/pkg/types"
)

func TestCosineSimilaritySelfAndOrthogonal(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}

	if got := CosineSimilarity(a, a); math.Abs(float64(got)-1) > 1e-6 {
		t.Fatalf("self cosine similarity = %v, want 1", got)
	}
	if got := CosineSimilarity(a, b); math.Abs(float64(got)) > 1e-6 {
		t.Fatalf("orthogonal cosine similarity = %v, want 0", got)
	}
}

func TestNormalizeProducesUnitVector(t *testing.T) {
	v := Normalize([]float32{3, 4, 0})
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if math.Abs(float64(sumSq)-1) > 1e-5 {
		t.Fatalf("normalized vector has squared norm %v, want 1", sumSq)
	}
}

func TestEmbeddingsAllocSetGetCosine(t *testing.T) {
	e, err := NewEmbeddingsHeap(4, 8)
	if err != nil {
		t.Fatalf("NewEmbeddingsHeap: %v", err)
	}

	idxA, err := e.Alloc(types.LevelStatement)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	idxB, err := e.Alloc(types.LevelStatement)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := e.Set(types.LevelStatement, idxA, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Set(types.LevelStatement, idxB, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	sim, err := e.Cosine(types.LevelStatement, idxA, idxB)
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	if math.Abs(float64(sim)-1) > 1e-6 {
		t.Fatalf("identical vector cosine = %v, want 1", sim)
	}

	got, err := e.Get(types.LevelStatement, idxA)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 4 || got[0] != 1 {
		t.Fatalf("unexpected stored vector: %v", got)
	}
}

func TestEmbeddingsAllocFullReturnsErrFull(t *testing.T) {
	e, err := NewEmbeddingsHeap(4, 1)
	if err != nil {
		t.Fatalf("NewEmbeddingsHeap: %v", err)
	}
	if _, err := e.Alloc(types.LevelStatement); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	if _, err := e.Alloc(types.LevelStatement); !errors.Is(err, types.ErrFull) {
		t.Fatalf("expected ErrFull allocating beyond capacity, got %v", err)
	}
}
