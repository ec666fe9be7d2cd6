package saturation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/models"
)

func result(findings []string, entities ...string) *models.ExecutionResult {
	r := &models.ExecutionResult{Entities: entities}
	for _, f := range findings {
		r.Findings = append(r.Findings, models.Finding{Content: f})
	}
	return r
}

func TestEstimateZeroFindingsIsFullySaturated(t *testing.T) {
	e := NewOverlapEstimator(zap.NewNop())
	treeID := uuid.New()

	a, err := e.Estimate(context.Background(), treeID, "q", result(nil))
	if err != nil {
		t.Fatal(err)
	}
	if a.Score != 1.0 {
		t.Fatalf("score = %v, want 1.0 for zero findings", a.Score)
	}

	a, err = e.Estimate(context.Background(), treeID, "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Score != 1.0 {
		t.Fatalf("score = %v, want 1.0 for nil result", a.Score)
	}
}

func TestEstimateFreshFindingsScoreLow(t *testing.T) {
	e := NewOverlapEstimator(zap.NewNop())
	a, err := e.Estimate(context.Background(), uuid.New(), "q",
		result([]string{"fact one", "fact two"}, "acme", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Score != 0 {
		t.Fatalf("score = %v, want 0 for entirely novel findings", a.Score)
	}
	if a.NewEntities != 2 {
		t.Fatalf("new entities = %d, want 2", a.NewEntities)
	}
}

func TestEstimateRepeatedFindingsSaturate(t *testing.T) {
	e := NewOverlapEstimator(zap.NewNop())
	treeID := uuid.New()
	ctx := context.Background()

	first, _ := e.Estimate(ctx, treeID, "q1", result([]string{"the sky is blue"}, "sky"))
	second, _ := e.Estimate(ctx, treeID, "q2", result([]string{"THE   sky IS blue"}, "sky"))

	if second.Score <= first.Score {
		t.Fatalf("repeat score %v not above fresh score %v", second.Score, first.Score)
	}
	if second.Score != 1.0 {
		t.Fatalf("score = %v, want 1.0 for fully duplicated findings with no new entities", second.Score)
	}
	if second.NewEntities != 0 {
		t.Fatalf("new entities = %d, want 0 on repeat", second.NewEntities)
	}
}

func TestEstimateMonotonicUnderRepetition(t *testing.T) {
	e := NewOverlapEstimator(zap.NewNop())
	treeID := uuid.New()
	ctx := context.Background()

	r := result([]string{"a", "b", "c"}, "x", "y")
	prev := -1.0
	for i := 0; i < 5; i++ {
		a, err := e.Estimate(ctx, treeID, "q", r)
		if err != nil {
			t.Fatal(err)
		}
		if a.Score < prev {
			t.Fatalf("iteration %d: score %v dropped below %v", i, a.Score, prev)
		}
		prev = a.Score
	}
	if prev != 1.0 {
		t.Fatalf("final score = %v, want full saturation after repetition", prev)
	}
}

func TestEstimateNewEntitiesDiscountScore(t *testing.T) {
	e := NewOverlapEstimator(zap.NewNop())
	treeID := uuid.New()
	ctx := context.Background()

	e.Estimate(ctx, treeID, "q1", result([]string{"known fact"}, "old"))

	// Same finding again but a brand-new entity: overlap alone would be
	// 1.0, novelty pulls it down.
	a, _ := e.Estimate(ctx, treeID, "q2", result([]string{"known fact"}, "brand-new"))
	if a.Score >= 1.0 {
		t.Fatalf("score = %v, want discount for novel entity", a.Score)
	}
	if a.NewEntities != 1 {
		t.Fatalf("new entities = %d, want 1", a.NewEntities)
	}
}

func TestKnowledgeIsPerTree(t *testing.T) {
	e := NewOverlapEstimator(zap.NewNop())
	ctx := context.Background()

	e.Estimate(ctx, uuid.New(), "q", result([]string{"shared fact"}))
	a, _ := e.Estimate(ctx, uuid.New(), "q", result([]string{"shared fact"}))
	if a.Score != 0 {
		t.Fatalf("score = %v, want 0: knowledge must not leak across trees", a.Score)
	}
}

func TestForgetDropsKnowledge(t *testing.T) {
	e := NewOverlapEstimator(zap.NewNop())
	treeID := uuid.New()
	ctx := context.Background()

	e.Estimate(ctx, treeID, "q", result([]string{"fact"}))
	e.Forget(treeID)

	a, _ := e.Estimate(ctx, treeID, "q", result([]string{"fact"}))
	if a.Score != 0 {
		t.Fatalf("score = %v, want 0 after Forget", a.Score)
	}
}
