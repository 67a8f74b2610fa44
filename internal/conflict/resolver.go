package conflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"sync-service/pkg/models"
)

// RecordWriter applies resolution side effects to the store. A nil writer
// (or DryRun) turns resolution into a pure computation.
type RecordWriter interface {
	CreateRecord(ctx context.Context, tenantID uuid.UUID, kind models.EntityKind, rec models.Record) error
	UpdateRecord(ctx context.Context, tenantID uuid.UUID, kind models.EntityKind, id string, patch models.Record) error
}

type Resolution string

const (
	ResolutionSkipped      Resolution = "skipped"
	ResolutionUpdated      Resolution = "updated"
	ResolutionMerged       Resolution = "merged"
	ResolutionCreated      Resolution = "created"
	ResolutionManualReview Resolution = "manual_review"
)

type ResolvedConflict struct {
	Conflict   models.DataConflict `json:"conflict"`
	Strategy   string              `json:"strategy"`
	Action     ActionType          `json:"action"`
	Resolution Resolution          `json:"resolution"`
	// Record is the payload written, or that would be written in dry-run.
	Record  models.Record `json:"record,omitempty"`
	Applied bool          `json:"applied"`
}

type ResolveOptions struct {
	TenantID uuid.UUID
	// DryRun computes outcomes without touching the store.
	DryRun bool
	// AutoOnly refuses manual-type strategies; conflicts whose only match is
	// manual land in Unresolved.
	AutoOnly bool
}

// ResolutionResult carries both sides so callers can report per input row.
type ResolutionResult struct {
	Resolved     []ResolvedConflict    `json:"resolved"`
	Unresolved   []models.DataConflict `json:"unresolved"`
	Counts       map[ActionType]int    `json:"counts"`
	ManualReview int                   `json:"manual_review"`
}

// Resolver maps each conflict to an outcome via the registry and, unless
// dry-run, applies it. Errors in strategy code are caught per conflict; a
// failing conflict joins Unresolved and its siblings proceed.
type Resolver struct {
	registry *Registry
	writer   RecordWriter
}

func NewResolver(registry *Registry, writer RecordWriter) *Resolver {
	return &Resolver{registry: registry, writer: writer}
}

type conflictRow struct {
	kind models.EntityKind
	row  int
}

func (r *Resolver) Resolve(ctx context.Context, conflicts []models.DataConflict, opts ResolveOptions) *ResolutionResult {
	result := &ResolutionResult{Counts: make(map[ActionType]int)}

	// A row that failed a constraint check carries invalid data. None of its
	// other conflicts may write anything, so they are forced to skip before
	// any strategy sees them.
	invalidRows := make(map[conflictRow]bool)
	for _, c := range conflicts {
		if c.Type == models.ConflictConstraintViolation {
			invalidRows[conflictRow{c.EntityKind, c.RowIndex}] = true
		}
	}

	for _, c := range conflicts {
		if c.Type != models.ConflictConstraintViolation && invalidRows[conflictRow{c.EntityKind, c.RowIndex}] {
			result.Counts[ActionSkip]++
			result.Resolved = append(result.Resolved, ResolvedConflict{
				Conflict:   c,
				Strategy:   "constraint-gate",
				Action:     ActionSkip,
				Resolution: ResolutionSkipped,
			})
			continue
		}

		strategy := r.pick(&c, opts)
		if strategy == nil {
			result.Unresolved = append(result.Unresolved, c)
			result.ManualReview++
			continue
		}

		resolved, err := r.apply(ctx, &c, strategy, opts)
		if err != nil {
			c.Detail = strings.TrimSpace(c.Detail + "; resolution failed: " + err.Error())
			result.Unresolved = append(result.Unresolved, c)
			result.ManualReview++
			continue
		}

		result.Counts[resolved.Action]++
		if resolved.Resolution == ResolutionManualReview {
			result.ManualReview++
		}
		result.Resolved = append(result.Resolved, *resolved)
	}

	return result
}

// pick selects the lowest-priority applicable strategy, honoring AutoOnly.
func (r *Resolver) pick(c *models.DataConflict, opts ResolveOptions) *Strategy {
	for _, s := range r.registry.Match(c) {
		if opts.AutoOnly && s.Type == StrategyManual {
			continue
		}
		return s
	}
	return nil
}

func (r *Resolver) apply(ctx context.Context, c *models.DataConflict, s *Strategy, opts ResolveOptions) (out *ResolvedConflict, err error) {
	// Strategy code is caller-supplied; a panic only fails this conflict.
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("strategy %q panicked: %v", s.Name, rec)
		}
	}()

	action := s.Actions[0]
	resolved := &ResolvedConflict{Conflict: *c, Strategy: s.Name, Action: action.Type}

	switch action.Type {
	case ActionSkip:
		resolved.Resolution = ResolutionSkipped
		return resolved, nil

	case ActionPrompt:
		resolved.Resolution = ResolutionManualReview
		return resolved, nil

	case ActionUpdate:
		patch := restrict(c.IncomingRecord, action.TargetFields)
		resolved.Record = patch
		resolved.Resolution = ResolutionUpdated
		if err := r.write(ctx, c, patch, false, opts); err != nil {
			return nil, err
		}
		resolved.Applied = !opts.DryRun && r.writer != nil
		return resolved, nil

	case ActionMerge:
		merged := mergeRecords(c.ExistingRecord, restrict(c.IncomingRecord, action.TargetFields), action.Merge)
		resolved.Record = merged
		resolved.Resolution = ResolutionMerged
		if err := r.write(ctx, c, merged, false, opts); err != nil {
			return nil, err
		}
		resolved.Applied = !opts.DryRun && r.writer != nil
		return resolved, nil

	case ActionCreateNew:
		rec := c.IncomingRecord.Clone()
		delete(rec, "id")
		resolved.Record = rec
		resolved.Resolution = ResolutionCreated
		if err := r.write(ctx, c, rec, true, opts); err != nil {
			return nil, err
		}
		resolved.Applied = !opts.DryRun && r.writer != nil
		return resolved, nil

	case ActionCustom:
		rec, err := action.Apply(c.ExistingRecord, c.IncomingRecord)
		if err != nil {
			return nil, err
		}
		resolved.Record = rec
		create := c.ExistingRecord == nil
		if create {
			resolved.Resolution = ResolutionCreated
		} else {
			resolved.Resolution = ResolutionUpdated
		}
		if err := r.write(ctx, c, rec, create, opts); err != nil {
			return nil, err
		}
		resolved.Applied = !opts.DryRun && r.writer != nil
		return resolved, nil

	default:
		return nil, fmt.Errorf("strategy %q: unsupported action %q", s.Name, action.Type)
	}
}

func (r *Resolver) write(ctx context.Context, c *models.DataConflict, payload models.Record, create bool, opts ResolveOptions) error {
	if opts.DryRun || r.writer == nil || payload == nil {
		return nil
	}
	if create {
		return r.writer.CreateRecord(ctx, opts.TenantID, c.EntityKind, payload)
	}
	id, _ := c.ExistingRecord["id"].(string)
	if id == "" {
		return fmt.Errorf("existing record has no id to update")
	}
	patch := payload.Clone()
	for f := range ignoredFields {
		delete(patch, f)
	}
	return r.writer.UpdateRecord(ctx, opts.TenantID, c.EntityKind, id, patch)
}

// restrict clones rec keeping only target fields; nil/empty targets keep all
// fields except bookkeeping columns.
func restrict(rec models.Record, targets []string) models.Record {
	out := models.Record{}
	if len(targets) == 0 {
		for k, v := range rec {
			if !ignoredFields[k] {
				out[k] = v
			}
		}
		return out
	}
	for _, f := range targets {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
