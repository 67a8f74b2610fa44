package conflict

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"sync-service/pkg/models"
)

type StrategyType string

const (
	StrategyAutomatic StrategyType = "automatic"
	StrategyManual    StrategyType = "manual"
	StrategyHybrid    StrategyType = "hybrid"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
	OpCustom      Operator = "custom"
)

// Condition is one applicability test. Field addresses either conflict
// metadata ("conflict.type", "conflict.severity", ...) or a record field
// ("existing.role", "incoming.email"); a bare name reads the incoming record.
// OpCustom ignores Field/Value and runs Predicate.
type Condition struct {
	Field     string
	Operator  Operator
	Value     any
	Predicate func(c *models.DataConflict) bool
}

type ActionType string

const (
	ActionSkip      ActionType = "skip"
	ActionUpdate    ActionType = "update"
	ActionMerge     ActionType = "merge"
	ActionCreateNew ActionType = "create_new"
	ActionPrompt    ActionType = "prompt"
	ActionCustom    ActionType = "custom"
)

type MergeStrategy string

const (
	MergePreferExisting MergeStrategy = "prefer_existing"
	MergePreferIncoming MergeStrategy = "prefer_incoming"
	MergeCombine        MergeStrategy = "combine"
)

// Action is what an applicable strategy does to a conflict. TargetFields
// restricts update/merge to a subset of fields; Apply computes the resolved
// payload for ActionCustom.
type Action struct {
	Type         ActionType
	TargetFields []string
	Merge        MergeStrategy
	Apply        func(existing, incoming models.Record) (models.Record, error)
}

// Strategy is a named, prioritized rule mapping a conflict shape to actions.
// Lower priority runs first. Actions apply only when every condition holds.
type Strategy struct {
	ID         uuid.UUID
	Name       string
	Type       StrategyType
	Priority   int
	Conditions []Condition
	Actions    []Action
}

// Registry holds registered strategies. Defaults go in at startup; callers
// may add more at runtime.
type Registry struct {
	mu         sync.RWMutex
	strategies []*Strategy
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(s *Strategy) error {
	if s.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	switch s.Type {
	case StrategyAutomatic, StrategyManual, StrategyHybrid:
	default:
		return fmt.Errorf("invalid strategy type %q", s.Type)
	}
	if len(s.Actions) == 0 {
		return fmt.Errorf("strategy %q has no actions", s.Name)
	}
	for _, a := range s.Actions {
		switch a.Type {
		case ActionSkip, ActionUpdate, ActionMerge, ActionCreateNew, ActionPrompt:
		case ActionCustom:
			if a.Apply == nil {
				return fmt.Errorf("strategy %q: custom action without Apply", s.Name)
			}
		default:
			return fmt.Errorf("strategy %q: invalid action type %q", s.Name, a.Type)
		}
		if a.Type == ActionMerge {
			switch a.Merge {
			case MergePreferExisting, MergePreferIncoming, MergeCombine:
			default:
				return fmt.Errorf("strategy %q: invalid merge strategy %q", s.Name, a.Merge)
			}
		}
	}
	for _, c := range s.Conditions {
		if c.Operator == OpCustom && c.Predicate == nil {
			return fmt.Errorf("strategy %q: custom condition without predicate", s.Name)
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
	return nil
}

func (r *Registry) Strategies() []*Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// Match returns every strategy whose conditions all hold for the conflict,
// sorted by ascending priority (registration order breaks ties).
func (r *Registry) Match(c *models.DataConflict) []*Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Strategy
	for _, s := range r.strategies {
		if s.applies(c) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (s *Strategy) applies(c *models.DataConflict) bool {
	for _, cond := range s.Conditions {
		if !cond.eval(c) {
			return false
		}
	}
	return true
}

func (cond Condition) eval(c *models.DataConflict) bool {
	if cond.Operator == OpCustom {
		return cond.Predicate(c)
	}

	v, present := resolveField(c, cond.Field)
	switch cond.Operator {
	case OpExists:
		return present && v != nil
	case OpNotExists:
		return !present || v == nil
	case OpEquals:
		return present && valuesEqual(v, cond.Value)
	case OpNotEquals:
		return !present || !valuesEqual(v, cond.Value)
	case OpContains:
		switch vv := v.(type) {
		case string:
			want, ok := cond.Value.(string)
			return ok && strings.Contains(vv, want)
		case []any:
			for _, item := range vv {
				if valuesEqual(item, cond.Value) {
					return true
				}
			}
		}
		return false
	case OpGreaterThan:
		a, ok1 := asFloat(v)
		b, ok2 := asFloat(cond.Value)
		return ok1 && ok2 && a > b
	case OpLessThan:
		a, ok1 := asFloat(v)
		b, ok2 := asFloat(cond.Value)
		return ok1 && ok2 && a < b
	default:
		return false
	}
}

func resolveField(c *models.DataConflict, field string) (any, bool) {
	switch {
	case strings.HasPrefix(field, "conflict."):
		switch strings.TrimPrefix(field, "conflict.") {
		case "type":
			return string(c.Type), true
		case "severity":
			return string(c.Severity), true
		case "entity_kind":
			return string(c.EntityKind), true
		case "auto_resolvable":
			return c.AutoResolvable, true
		case "confidence":
			return c.Confidence, true
		case "suggested_resolution":
			return c.SuggestedResolution, true
		default:
			return nil, false
		}
	case strings.HasPrefix(field, "existing."):
		if c.ExistingRecord == nil {
			return nil, false
		}
		v, ok := c.ExistingRecord[strings.TrimPrefix(field, "existing.")]
		return v, ok
	case strings.HasPrefix(field, "incoming."):
		v, ok := c.IncomingRecord[strings.TrimPrefix(field, "incoming.")]
		return v, ok
	default:
		v, ok := c.IncomingRecord[field]
		return v, ok
	}
}
