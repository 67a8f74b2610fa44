package conflict

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sync-service/pkg/models"
)

type fakeWriter struct {
	created []models.Record
	updated map[string]models.Record
	fail    error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{updated: make(map[string]models.Record)}
}

func (w *fakeWriter) CreateRecord(_ context.Context, _ uuid.UUID, _ models.EntityKind, rec models.Record) error {
	if w.fail != nil {
		return w.fail
	}
	w.created = append(w.created, rec)
	return nil
}

func (w *fakeWriter) UpdateRecord(_ context.Context, _ uuid.UUID, _ models.EntityKind, id string, patch models.Record) error {
	if w.fail != nil {
		return w.fail
	}
	w.updated[id] = patch
	return nil
}

func defaultResolver(w RecordWriter) *Resolver {
	reg := NewRegistry()
	RegisterDefaults(reg)
	return NewResolver(reg, w)
}

func duplicateConflict() models.DataConflict {
	return models.DataConflict{
		ID:         uuid.New(),
		EntityKind: models.KindUsers,
		Type:       models.ConflictDuplicate,
		Severity:   models.SeverityHigh,
		ExistingRecord: models.Record{
			"id": "u1", "username": "alice", "email": "alice@club.test", "phone": nil,
		},
		IncomingRecord: models.Record{
			"username": "alice", "email": "alice@club.test", "phone": "555-0100",
		},
		AutoResolvable: true,
	}
}

func TestResolveConstraintViolationSkips(t *testing.T) {
	w := newFakeWriter()
	r := defaultResolver(w)

	c := models.DataConflict{
		ID:             uuid.New(),
		EntityKind:     models.KindUsers,
		Type:           models.ConflictConstraintViolation,
		Severity:       models.SeverityHigh,
		IncomingRecord: models.Record{"email": "not-an-email"},
	}
	res := r.Resolve(context.Background(), []models.DataConflict{c}, ResolveOptions{TenantID: uuid.New()})

	require.Len(t, res.Resolved, 1)
	assert.Equal(t, ActionSkip, res.Resolved[0].Action)
	assert.Equal(t, ResolutionSkipped, res.Resolved[0].Resolution)
	assert.Empty(t, w.created)
	assert.Empty(t, w.updated)
	assert.Equal(t, 1, res.Counts[ActionSkip])
}

func TestResolveConstraintViolationGatesSiblingConflicts(t *testing.T) {
	w := newFakeWriter()
	r := defaultResolver(w)

	// One incoming row with a bad role and a duplicate email produces both
	// conflicts. The invalid row must not be merged into the store.
	incoming := models.Record{"username": "alice", "email": "alice@club.test", "role": "superadmin"}
	violation := models.DataConflict{
		ID:                uuid.New(),
		EntityKind:        models.KindUsers,
		Type:              models.ConflictConstraintViolation,
		Severity:          models.SeverityHigh,
		IncomingRecord:    incoming,
		ConflictingFields: []string{"role"},
		RowIndex:          0,
	}
	duplicate := models.DataConflict{
		ID:         uuid.New(),
		EntityKind: models.KindUsers,
		Type:       models.ConflictDuplicate,
		Severity:   models.SeverityHigh,
		ExistingRecord: models.Record{
			"id": "u1", "username": "alice", "email": "alice@club.test", "role": "member",
		},
		IncomingRecord: incoming,
		AutoResolvable: true,
		RowIndex:       0,
	}

	res := r.Resolve(context.Background(), []models.DataConflict{violation, duplicate},
		ResolveOptions{TenantID: uuid.New()})

	require.Len(t, res.Resolved, 2)
	for _, rc := range res.Resolved {
		assert.Equal(t, ActionSkip, rc.Action)
	}
	assert.Empty(t, w.created)
	assert.Empty(t, w.updated, "invalid row must not reach the merge")
	assert.Equal(t, 2, res.Counts[ActionSkip])
}

func TestResolveOtherRowsUnaffectedByConstraintGate(t *testing.T) {
	w := newFakeWriter()
	r := defaultResolver(w)

	violation := models.DataConflict{
		ID:             uuid.New(),
		EntityKind:     models.KindUsers,
		Type:           models.ConflictConstraintViolation,
		Severity:       models.SeverityHigh,
		IncomingRecord: models.Record{"email": "not-an-email"},
		RowIndex:       0,
	}
	dup := duplicateConflict()
	dup.RowIndex = 1

	res := r.Resolve(context.Background(), []models.DataConflict{violation, dup},
		ResolveOptions{TenantID: uuid.New()})

	require.Len(t, res.Resolved, 2)
	patch, ok := w.updated["u1"]
	require.True(t, ok, "a clean row's duplicate still merges")
	assert.Equal(t, "555-0100", patch["phone"])
}

func TestResolveDuplicateMerges(t *testing.T) {
	w := newFakeWriter()
	r := defaultResolver(w)

	res := r.Resolve(context.Background(), []models.DataConflict{duplicateConflict()}, ResolveOptions{TenantID: uuid.New()})

	require.Len(t, res.Resolved, 1)
	assert.Equal(t, ActionMerge, res.Resolved[0].Action)
	assert.True(t, res.Resolved[0].Applied)
	patch, ok := w.updated["u1"]
	require.True(t, ok)
	assert.Equal(t, "555-0100", patch["phone"])
}

func TestResolveDryRunWritesNothing(t *testing.T) {
	w := newFakeWriter()
	r := defaultResolver(w)

	res := r.Resolve(context.Background(), []models.DataConflict{duplicateConflict()},
		ResolveOptions{TenantID: uuid.New(), DryRun: true})

	require.Len(t, res.Resolved, 1)
	assert.False(t, res.Resolved[0].Applied)
	assert.NotNil(t, res.Resolved[0].Record)
	assert.Empty(t, w.updated)
}

func TestResolveAutoOnlySendsUnmatchedToManualReview(t *testing.T) {
	r := defaultResolver(newFakeWriter())

	// High-severity mismatch: not auto-resolvable, no automatic strategy
	// matches, only the manual fallback does.
	c := models.DataConflict{
		ID:             uuid.New(),
		EntityKind:     models.KindTeams,
		Type:           models.ConflictFieldMismatch,
		Severity:       models.SeverityHigh,
		ExistingRecord: models.Record{"id": "t1", "name": "Tigers"},
		IncomingRecord: models.Record{"name": "Lions"},
		AutoResolvable: false,
	}
	res := r.Resolve(context.Background(), []models.DataConflict{c},
		ResolveOptions{TenantID: uuid.New(), AutoOnly: true})

	assert.Empty(t, res.Resolved)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, 1, res.ManualReview)
}

func TestResolveRoleEscalationGuard(t *testing.T) {
	w := newFakeWriter()
	r := defaultResolver(w)

	c := models.DataConflict{
		ID:         uuid.New(),
		EntityKind: models.KindUsers,
		Type:       models.ConflictFieldMismatch,
		Severity:   models.SeverityHigh,
		ExistingRecord: models.Record{
			"id": "u9", "username": "sam", "email": "sam@club.test", "role": "member",
		},
		IncomingRecord: models.Record{
			"username": "sam", "email": "sam@club.test", "role": "admin", "phone": "555-0199",
		},
	}
	res := r.Resolve(context.Background(), []models.DataConflict{c}, ResolveOptions{TenantID: uuid.New()})

	require.Len(t, res.Resolved, 1)
	assert.Equal(t, "guard-role-escalation", res.Resolved[0].Strategy)
	patch, ok := w.updated["u9"]
	require.True(t, ok)
	assert.Equal(t, "member", patch["role"], "incoming record must not grant itself admin")
	assert.Equal(t, "555-0199", patch["phone"])
}

func TestResolveCustomActionErrorGoesUnresolved(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Strategy{
		Name: "exploding", Type: StrategyAutomatic, Priority: 1,
		Actions: []Action{{
			Type: ActionCustom,
			Apply: func(existing, incoming models.Record) (models.Record, error) {
				return nil, errors.New("boom")
			},
		}},
	}))
	r := NewResolver(reg, newFakeWriter())

	c := duplicateConflict()
	res := r.Resolve(context.Background(), []models.DataConflict{c}, ResolveOptions{TenantID: uuid.New()})

	assert.Empty(t, res.Resolved)
	require.Len(t, res.Unresolved, 1)
	assert.Contains(t, res.Unresolved[0].Detail, "boom")
}

func TestResolveCustomActionPanicIsContained(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Strategy{
		Name: "panicking", Type: StrategyAutomatic, Priority: 1,
		Actions: []Action{{
			Type: ActionCustom,
			Apply: func(existing, incoming models.Record) (models.Record, error) {
				panic("unexpected shape")
			},
		}},
	}))
	require.NoError(t, reg.Register(&Strategy{
		Name: "fallback", Type: StrategyAutomatic, Priority: 2,
		Actions: []Action{{Type: ActionSkip}},
	}))
	r := NewResolver(reg, newFakeWriter())

	one := duplicateConflict()
	res := r.Resolve(context.Background(), []models.DataConflict{one}, ResolveOptions{TenantID: uuid.New()})
	require.Len(t, res.Unresolved, 1)
	assert.Contains(t, res.Unresolved[0].Detail, "panicked")
}

func TestResolvePriorityOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Strategy{
		Name: "later", Type: StrategyAutomatic, Priority: 50,
		Actions: []Action{{Type: ActionSkip}},
	}))
	require.NoError(t, reg.Register(&Strategy{
		Name: "first", Type: StrategyAutomatic, Priority: 1,
		Actions: []Action{{Type: ActionSkip}},
	}))
	r := NewResolver(reg, nil)

	res := r.Resolve(context.Background(), []models.DataConflict{duplicateConflict()}, ResolveOptions{})
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, "first", res.Resolved[0].Strategy)
}

func TestMergeStrategies(t *testing.T) {
	existing := models.Record{"a": "keep", "b": nil, "tags": []any{"x", "y"}, "note": "old"}
	incoming := models.Record{"a": "new", "b": "filled", "tags": []any{"y", "z"}, "note": "new"}

	t.Run("prefer_existing fills only nil fields", func(t *testing.T) {
		out := mergeRecords(existing, incoming, MergePreferExisting)
		assert.Equal(t, "keep", out["a"])
		assert.Equal(t, "filled", out["b"])
	})

	t.Run("prefer_incoming overwrites with non-nil values", func(t *testing.T) {
		out := mergeRecords(existing, models.Record{"a": "new", "b": nil}, MergePreferIncoming)
		assert.Equal(t, "new", out["a"])
		assert.Nil(t, out["b"], "nil incoming value must not overwrite")
	})

	t.Run("combine unions arrays and concatenates strings", func(t *testing.T) {
		out := mergeRecords(existing, incoming, MergeCombine)
		assert.ElementsMatch(t, []any{"x", "y", "z"}, out["tags"].([]any))
		assert.Equal(t, "old new", out["note"])
	})
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register(&Strategy{Type: StrategyAutomatic, Actions: []Action{{Type: ActionSkip}}}), "missing name")
	assert.Error(t, reg.Register(&Strategy{Name: "x", Type: "bogus", Actions: []Action{{Type: ActionSkip}}}), "bad type")
	assert.Error(t, reg.Register(&Strategy{Name: "x", Type: StrategyAutomatic}), "no actions")
	assert.Error(t, reg.Register(&Strategy{
		Name: "x", Type: StrategyAutomatic,
		Actions: []Action{{Type: ActionCustom}},
	}), "custom action without Apply")
	assert.Error(t, reg.Register(&Strategy{
		Name: "x", Type: StrategyAutomatic,
		Actions: []Action{{Type: ActionMerge, Merge: "sideways"}},
	}), "bad merge strategy")

	require.NoError(t, reg.Register(&Strategy{
		Name: "ok", Type: StrategyAutomatic,
		Actions: []Action{{Type: ActionMerge, Merge: MergeCombine}},
	}))
	assert.Len(t, reg.Strategies(), 1)
}
