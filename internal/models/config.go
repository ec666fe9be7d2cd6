package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when tree configuration violates bounds.
	ErrInvalidConfig = errors.New("invalid tree config")

	// ErrInvalidTransition is returned on a backward or illegal status move.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Config bounds. Trees beyond these limits are rejected at creation.
const (
	MinDepthLimit    = 1
	MaxDepthLimit    = 10
	MinMaxNodes      = 1
	MaxMaxNodes      = 200
	MinParallelNodes = 1
	MaxParallelNodes = 10
)

// TreeConfig controls expansion of a single research tree.
type TreeConfig struct {
	DepthLimit          int         `json:"depth_limit" mapstructure:"depth_limit"`
	MaxNodes            int         `json:"max_nodes" mapstructure:"max_nodes"`
	ParallelNodes       int         `json:"parallel_nodes" mapstructure:"parallel_nodes"`
	MaxFollowUpsPerNode int         `json:"max_follow_ups_per_node" mapstructure:"max_follow_ups_per_node"`
	SaturationThreshold float64     `json:"saturation_threshold" mapstructure:"saturation_threshold"`
	MinPriorityScore    float64     `json:"min_priority_score" mapstructure:"min_priority_score"`
	FollowUpTypes       []QueryType `json:"follow_up_types" mapstructure:"follow_up_types"`
}

// DefaultTreeConfig returns the configuration used when a request omits one.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		DepthLimit:          3,
		MaxNodes:            50,
		ParallelNodes:       4,
		MaxFollowUpsPerNode: 3,
		SaturationThreshold: 0.8,
		MinPriorityScore:    0.3,
		FollowUpTypes: []QueryType{
			QueryTypePredecessor,
			QueryTypeConsequence,
			QueryTypeDetail,
			QueryTypeVerification,
		},
	}
}

// Value implements the driver.Valuer interface. The config is persisted
// as one JSON column (jsonb on Postgres, TEXT on SQLite).
func (c TreeConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface
func (c *TreeConfig) Scan(value interface{}) error {
	if value == nil {
		*c = TreeConfig{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("cannot scan %T into TreeConfig", value)
	}
}

// Validate checks configuration bounds. All violations are reported at once.
func (c TreeConfig) Validate() error {
	var problems []string
	if c.DepthLimit < MinDepthLimit || c.DepthLimit > MaxDepthLimit {
		problems = append(problems, fmt.Sprintf("depth_limit %d outside [%d,%d]", c.DepthLimit, MinDepthLimit, MaxDepthLimit))
	}
	if c.MaxNodes < MinMaxNodes || c.MaxNodes > MaxMaxNodes {
		problems = append(problems, fmt.Sprintf("max_nodes %d outside [%d,%d]", c.MaxNodes, MinMaxNodes, MaxMaxNodes))
	}
	if c.ParallelNodes < MinParallelNodes || c.ParallelNodes > MaxParallelNodes {
		problems = append(problems, fmt.Sprintf("parallel_nodes %d outside [%d,%d]", c.ParallelNodes, MinParallelNodes, MaxParallelNodes))
	}
	if c.MaxFollowUpsPerNode < 0 {
		problems = append(problems, fmt.Sprintf("max_follow_ups_per_node %d is negative", c.MaxFollowUpsPerNode))
	}
	if c.SaturationThreshold < 0 || c.SaturationThreshold > 1 {
		problems = append(problems, fmt.Sprintf("saturation_threshold %.3f outside [0,1]", c.SaturationThreshold))
	}
	if c.MinPriorityScore < 0 || c.MinPriorityScore > 1 {
		problems = append(problems, fmt.Sprintf("min_priority_score %.3f outside [0,1]", c.MinPriorityScore))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
	}
	return nil
}

// TypeAllowed reports whether the candidate type passes the allowlist.
func (c TreeConfig) TypeAllowed(t QueryType) bool {
	for _, allowed := range c.FollowUpTypes {
		if allowed == t {
			return true
		}
	}
	return false
}
