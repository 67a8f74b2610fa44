package conflict

import (
	"log"

	"sync-service/pkg/models"
)

// RegisterDefaults installs the stock resolution strategies. Called once at
// startup; operators layer tenant-specific strategies on top at runtime.
func RegisterDefaults(r *Registry) {
	defaults := []*Strategy{
		{
			Name:     "guard-role-escalation",
			Type:     StrategyHybrid,
			Priority: 5,
			Conditions: []Condition{
				{Field: "conflict.entity_kind", Operator: OpEquals, Value: string(models.KindUsers)},
				{Field: "conflict.type", Operator: OpEquals, Value: string(models.ConflictFieldMismatch)},
				{Field: "incoming.role", Operator: OpEquals, Value: "admin"},
				{Operator: OpCustom, Predicate: func(c *models.DataConflict) bool {
					role, _ := c.ExistingRecord["role"].(string)
					return role != "admin"
				}},
			},
			Actions: []Action{{
				Type: ActionCustom,
				// An incoming record may not grant itself admin; everything
				// else applies, the pre-existing role is kept.
				Apply: func(existing, incoming models.Record) (models.Record, error) {
					out := mergeRecords(existing, incoming, MergePreferIncoming)
					out["role"] = existing["role"]
					return out, nil
				},
			}},
		},
		{
			Name:     "skip-constraint-violations",
			Type:     StrategyAutomatic,
			Priority: 10,
			Conditions: []Condition{
				{Field: "conflict.type", Operator: OpEquals, Value: string(models.ConflictConstraintViolation)},
			},
			Actions: []Action{{Type: ActionSkip}},
		},
		{
			Name:     "skip-blocking-rule-violations",
			Type:     StrategyAutomatic,
			Priority: 20,
			Conditions: []Condition{
				{Field: "conflict.type", Operator: OpEquals, Value: string(models.ConflictBusinessRule)},
				{Field: "conflict.severity", Operator: OpEquals, Value: string(models.SeverityHigh)},
			},
			Actions: []Action{{Type: ActionSkip}},
		},
		{
			Name:     "drop-dangling-team-refs",
			Type:     StrategyAutomatic,
			Priority: 25,
			Conditions: []Condition{
				{Field: "conflict.entity_kind", Operator: OpEquals, Value: string(models.KindUsers)},
				{Field: "conflict.type", Operator: OpEquals, Value: string(models.ConflictBusinessRule)},
				{Field: "conflict.severity", Operator: OpEquals, Value: string(models.SeverityMedium)},
			},
			Actions: []Action{{
				Type: ActionCustom,
				Apply: func(existing, incoming models.Record) (models.Record, error) {
					out := incoming.Clone()
					delete(out, "id")
					out["teamId"] = nil
					return out, nil
				},
			}},
		},
		{
			Name:     "merge-duplicates",
			Type:     StrategyAutomatic,
			Priority: 30,
			Conditions: []Condition{
				{Field: "conflict.type", Operator: OpEquals, Value: string(models.ConflictDuplicate)},
			},
			Actions: []Action{{Type: ActionMerge, Merge: MergePreferIncoming}},
		},
		{
			Name:     "apply-safe-mismatches",
			Type:     StrategyAutomatic,
			Priority: 40,
			Conditions: []Condition{
				{Field: "conflict.type", Operator: OpEquals, Value: string(models.ConflictFieldMismatch)},
				{Field: "conflict.auto_resolvable", Operator: OpEquals, Value: true},
			},
			Actions: []Action{{Type: ActionUpdate}},
		},
		{
			Name:     "manual-review-fallback",
			Type:     StrategyManual,
			Priority: 1000,
			Actions:  []Action{{Type: ActionPrompt}},
		},
	}

	for _, s := range defaults {
		if err := r.Register(s); err != nil {
			log.Printf("❌ [CONFLICT] Failed to register default strategy %q: %v", s.Name, err)
		}
	}
}
