// Package candidates narrows the Follow-Up Proposer's raw output to the
// set of queries worth spending research budget on.
package candidates

import (
	"sort"

	"github.com/inquest-ai/inquest/internal/models"
)

// Rejection pairs a discarded candidate with the reason it was discarded.
type Rejection struct {
	Candidate models.FollowUpCandidate
	Reason    models.RejectionReason
}

// Result is the outcome of one filtering pass.
type Result struct {
	Accepted []models.FollowUpCandidate
	Rejected []Rejection
}

// Filter applies duplicate suppression, the type allowlist, and the
// priority floor, then ranks survivors by priority (descending, proposer
// order breaking ties) and truncates to MaxFollowUpsPerNode.
//
// Pure function: no state, no side effects. Candidates accepted in the
// same pass also suppress later duplicates of themselves, so re-running
// Filter on its own accepted output yields nothing new.
func Filter(cands []models.FollowUpCandidate, cfg models.TreeConfig, seen map[string]struct{}) Result {
	var res Result
	passSeen := make(map[string]struct{}, len(cands))

	type ranked struct {
		cand  models.FollowUpCandidate
		order int
	}
	var survivors []ranked

	for i, c := range cands {
		c.PriorityScore = clamp01(c.PriorityScore)
		norm := models.NormalizeQuery(c.Query)

		if _, dup := seen[norm]; dup {
			res.Rejected = append(res.Rejected, Rejection{Candidate: c, Reason: models.RejectDuplicate})
			continue
		}
		if _, dup := passSeen[norm]; dup {
			res.Rejected = append(res.Rejected, Rejection{Candidate: c, Reason: models.RejectDuplicate})
			continue
		}
		if !cfg.TypeAllowed(c.Type) {
			res.Rejected = append(res.Rejected, Rejection{Candidate: c, Reason: models.RejectDisallowedType})
			continue
		}
		if c.PriorityScore < cfg.MinPriorityScore {
			res.Rejected = append(res.Rejected, Rejection{Candidate: c, Reason: models.RejectBelowThreshold})
			continue
		}

		passSeen[norm] = struct{}{}
		survivors = append(survivors, ranked{cand: c, order: i})
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].cand.PriorityScore != survivors[j].cand.PriorityScore {
			return survivors[i].cand.PriorityScore > survivors[j].cand.PriorityScore
		}
		return survivors[i].order < survivors[j].order
	})

	if len(survivors) > cfg.MaxFollowUpsPerNode {
		survivors = survivors[:cfg.MaxFollowUpsPerNode]
	}
	for _, s := range survivors {
		res.Accepted = append(res.Accepted, s.cand)
	}

	return res
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
