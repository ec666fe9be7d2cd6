package candidates

import (
	"reflect"
	"testing"

	"github.com/inquest-ai/inquest/internal/models"
)

func testConfig() models.TreeConfig {
	cfg := models.DefaultTreeConfig()
	cfg.MaxFollowUpsPerNode = 3
	cfg.MinPriorityScore = 0.3
	return cfg
}

func cand(query string, typ models.QueryType, priority float64) models.FollowUpCandidate {
	return models.FollowUpCandidate{Query: query, Type: typ, PriorityScore: priority}
}

func TestFilterRejectsSeenDuplicates(t *testing.T) {
	cfg := testConfig()
	seen := map[string]struct{}{
		models.NormalizeQuery("Who founded ACME Corp?"): {},
	}
	res := Filter([]models.FollowUpCandidate{
		cand("who FOUNDED   acme corp?", models.QueryTypeDetail, 0.9),
		cand("When was ACME founded?", models.QueryTypeDetail, 0.8),
	}, cfg, seen)

	if len(res.Accepted) != 1 || res.Accepted[0].Query != "When was ACME founded?" {
		t.Fatalf("accepted = %+v, want only the unseen query", res.Accepted)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != models.RejectDuplicate {
		t.Fatalf("rejected = %+v, want one duplicate rejection", res.Rejected)
	}
}

func TestFilterRejectsInPassDuplicates(t *testing.T) {
	cfg := testConfig()
	res := Filter([]models.FollowUpCandidate{
		cand("what happened next", models.QueryTypeConsequence, 0.9),
		cand("What Happened Next", models.QueryTypeConsequence, 0.95),
	}, cfg, nil)

	if len(res.Accepted) != 1 {
		t.Fatalf("accepted %d candidates, want 1", len(res.Accepted))
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != models.RejectDuplicate {
		t.Fatalf("rejected = %+v, want in-pass duplicate rejection", res.Rejected)
	}
}

func TestFilterRejectsDisallowedTypeAndLowPriority(t *testing.T) {
	cfg := testConfig()
	cfg.FollowUpTypes = []models.QueryType{models.QueryTypeDetail}

	res := Filter([]models.FollowUpCandidate{
		cand("a", models.QueryTypeDetail, 0.5),
		cand("b", models.QueryTypeVerification, 0.9),
		cand("c", models.QueryTypeDetail, 0.1),
	}, cfg, nil)

	if len(res.Accepted) != 1 || res.Accepted[0].Query != "a" {
		t.Fatalf("accepted = %+v, want only candidate a", res.Accepted)
	}
	reasons := map[string]models.RejectionReason{}
	for _, r := range res.Rejected {
		reasons[r.Candidate.Query] = r.Reason
	}
	if reasons["b"] != models.RejectDisallowedType {
		t.Errorf("candidate b rejected as %q, want disallowed_type", reasons["b"])
	}
	if reasons["c"] != models.RejectBelowThreshold {
		t.Errorf("candidate c rejected as %q, want below_threshold", reasons["c"])
	}
}

func TestFilterClampsPriorityBeforeThreshold(t *testing.T) {
	cfg := testConfig()
	res := Filter([]models.FollowUpCandidate{
		cand("overshoot", models.QueryTypeDetail, 3.7),
		cand("undershoot", models.QueryTypeDetail, -0.4),
	}, cfg, nil)

	if len(res.Accepted) != 1 || res.Accepted[0].PriorityScore != 1.0 {
		t.Fatalf("accepted = %+v, want overshoot clamped to 1.0", res.Accepted)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != models.RejectBelowThreshold {
		t.Fatalf("rejected = %+v, want undershoot clamped to 0 and below threshold", res.Rejected)
	}
}

func TestFilterRanksByPriorityAndTruncates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFollowUpsPerNode = 2

	res := Filter([]models.FollowUpCandidate{
		cand("third", models.QueryTypeDetail, 0.5),
		cand("first", models.QueryTypeDetail, 0.9),
		cand("second", models.QueryTypeDetail, 0.7),
	}, cfg, nil)

	got := []string{}
	for _, c := range res.Accepted {
		got = append(got, c.Query)
	}
	want := []string{"first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("accepted order = %v, want %v", got, want)
	}
	// Truncation is a cap, not a judgement: no rejection record for "third".
	if len(res.Rejected) != 0 {
		t.Fatalf("rejected = %+v, want none", res.Rejected)
	}
}

func TestFilterTieBreaksByProposerOrder(t *testing.T) {
	cfg := testConfig()
	res := Filter([]models.FollowUpCandidate{
		cand("earlier", models.QueryTypeDetail, 0.8),
		cand("later", models.QueryTypeDetail, 0.8),
	}, cfg, nil)

	if len(res.Accepted) != 2 || res.Accepted[0].Query != "earlier" {
		t.Fatalf("accepted = %+v, want proposer order preserved on ties", res.Accepted)
	}
}

func TestFilterIsPure(t *testing.T) {
	cfg := testConfig()
	in := []models.FollowUpCandidate{
		cand("a", models.QueryTypeDetail, 0.9),
		cand("b", models.QueryTypeVerification, 0.2),
		cand("a", models.QueryTypeDetail, 0.9),
	}
	seen := map[string]struct{}{"c": {}}

	first := Filter(in, cfg, seen)
	second := Filter(in, cfg, seen)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same input produced different output:\n%+v\n%+v", first, second)
	}
}

func TestFilterDedupIsIdempotent(t *testing.T) {
	cfg := testConfig()
	in := []models.FollowUpCandidate{
		cand("alpha", models.QueryTypeDetail, 0.9),
		cand("beta", models.QueryTypeConsequence, 0.8),
		cand("gamma", models.QueryTypePredecessor, 0.7),
	}

	first := Filter(in, cfg, nil)
	if len(first.Accepted) != 3 {
		t.Fatalf("accepted %d, want 3", len(first.Accepted))
	}

	seen := map[string]struct{}{}
	for _, c := range first.Accepted {
		seen[models.NormalizeQuery(c.Query)] = struct{}{}
	}
	second := Filter(first.Accepted, cfg, seen)
	if len(second.Accepted) != 0 {
		t.Fatalf("re-filtering accepted output yielded %d new candidates, want 0", len(second.Accepted))
	}
}
