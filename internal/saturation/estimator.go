// Package saturation scores how much of a query's answer space is already
// covered by the tree's accumulated knowledge.
package saturation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/models"
)

// Assessment is the outcome of scoring one node's findings.
type Assessment struct {
	// Score is in [0,1]: 0 means entirely novel, 1 means the answer space
	// is already fully covered by prior knowledge.
	Score float64
	// NewEntities is how many of the result's entities were unseen before
	// this assessment recorded them.
	NewEntities int
}

// Estimator scores findings against prior knowledge and folds them into
// it. The hard contract is monotonicity: adding more overlapping/duplicate
// findings never lowers the score, and zero findings score as fully
// saturated (there is nothing left to expand on).
type Estimator interface {
	Estimate(ctx context.Context, treeID uuid.UUID, query string, result *models.ExecutionResult) (Assessment, error)

	// Forget drops the knowledge base of a finished tree.
	Forget(treeID uuid.UUID)
}

// treeKnowledge is the accumulated fingerprint set for one tree.
type treeKnowledge struct {
	findingHashes map[string]struct{}
	entities      map[string]struct{}
}

// OverlapEstimator measures saturation as the fraction of a node's
// findings whose content fingerprints were already known, discounted by
// entity novelty. Content is fingerprinted with SHA-256 over normalized
// text; semantic near-duplicate detection is out of scope here and would
// slot in behind the same interface.
type OverlapEstimator struct {
	mu     sync.Mutex
	logger *zap.Logger
	known  map[uuid.UUID]*treeKnowledge
}

// NewOverlapEstimator creates an estimator with empty knowledge.
func NewOverlapEstimator(logger *zap.Logger) *OverlapEstimator {
	return &OverlapEstimator{
		logger: logger,
		known:  make(map[uuid.UUID]*treeKnowledge),
	}
}

// entityNoveltyWeight controls how far novel entities can pull the score
// below the raw content-overlap ratio.
const entityNoveltyWeight = 0.3

func (e *OverlapEstimator) Estimate(ctx context.Context, treeID uuid.UUID, query string, result *models.ExecutionResult) (Assessment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if result == nil || len(result.Findings) == 0 {
		// Nothing came back: the query has no expansion value.
		return Assessment{Score: 1.0}, nil
	}

	kb := e.known[treeID]
	if kb == nil {
		kb = &treeKnowledge{
			findingHashes: make(map[string]struct{}),
			entities:      make(map[string]struct{}),
		}
		e.known[treeID] = kb
	}

	duplicates := 0
	for _, f := range result.Findings {
		h := fingerprint(f.Content)
		if _, ok := kb.findingHashes[h]; ok {
			duplicates++
		} else {
			kb.findingHashes[h] = struct{}{}
		}
	}
	overlap := float64(duplicates) / float64(len(result.Findings))

	newEntities := 0
	for _, ent := range result.Entities {
		key := models.NormalizeQuery(ent)
		if key == "" {
			continue
		}
		if _, ok := kb.entities[key]; !ok {
			kb.entities[key] = struct{}{}
			newEntities++
		}
	}

	score := overlap
	if len(result.Entities) > 0 {
		novelty := float64(newEntities) / float64(len(result.Entities))
		score = overlap * (1 - entityNoveltyWeight*novelty)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	e.logger.Debug("Saturation estimated",
		zap.String("tree_id", treeID.String()),
		zap.String("query", query),
		zap.Int("findings", len(result.Findings)),
		zap.Int("duplicate_findings", duplicates),
		zap.Int("new_entities", newEntities),
		zap.Float64("score", score),
	)

	return Assessment{Score: score, NewEntities: newEntities}, nil
}

func (e *OverlapEstimator) Forget(treeID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.known, treeID)
}

func fingerprint(content string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
