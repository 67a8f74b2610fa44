package conflict

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sync-service/pkg/models"
)

// Detector runs the four detection passes over a batch of incoming records.
// All passes are independent; their outputs are unioned.
type Detector struct {
	// teamExists answers whether a team reference on an incoming user record
	// points at a real team. Nil disables the check (bulk team imports run
	// before their users exist).
	teamExists func(ctx context.Context, tenantID uuid.UUID, ref string) (bool, error)
}

func NewDetector(teamExists func(ctx context.Context, tenantID uuid.UUID, ref string) (bool, error)) *Detector {
	return &Detector{teamExists: teamExists}
}

// DetectOptions tunes detection sensitivity per call.
type DetectOptions struct {
	// IgnoreFields are excluded from the field-mismatch pass on top of the
	// always-ignored bookkeeping columns.
	IgnoreFields []string
	// MismatchEscalation is the mismatched-field count above which severity
	// becomes medium. Zero means the default of 3.
	MismatchEscalation int
}

// Detect compares incoming records against the existing set for one entity
// kind and returns every conflict found, plus a summary.
func (d *Detector) Detect(ctx context.Context, tenantID uuid.UUID, kind models.EntityKind, incoming, existing []models.Record, opts DetectOptions) (*models.ConflictDetectionResult, error) {
	spec, ok := SpecFor(kind)
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	if opts.MismatchEscalation <= 0 {
		opts.MismatchEscalation = 3
	}

	result := &models.ConflictDetectionResult{
		TotalRecords: len(incoming),
		ByType:       make(map[models.ConflictType]int),
	}

	for i, rec := range incoming {
		var found []models.DataConflict

		found = append(found, d.detectDuplicates(spec, rec, i, existing)...)
		found = append(found, d.detectFieldMismatches(spec, rec, i, existing, opts)...)
		found = append(found, d.detectConstraintViolations(spec, rec, i)...)

		business, err := d.detectBusinessRules(ctx, tenantID, spec, rec, i, existing)
		if err != nil {
			return nil, err
		}
		found = append(found, business...)

		if len(found) > 0 {
			result.RecordsWithConflicts++
		}
		for _, c := range found {
			result.ByType[c.Type]++
		}
		result.Conflicts = append(result.Conflicts, found...)
	}

	return result, nil
}

func (d *Detector) detectDuplicates(spec EntitySpec, rec models.Record, rowIdx int, existing []models.Record) []models.DataConflict {
	var out []models.DataConflict
	for _, keySet := range spec.UniqueKeys {
		for _, ex := range existing {
			if !fieldsEqual(rec, ex, keySet) {
				continue
			}
			out = append(out, models.DataConflict{
				ID:                  uuid.New(),
				EntityKind:          spec.Kind,
				Type:                models.ConflictDuplicate,
				Severity:            models.SeverityHigh,
				ExistingRecord:      ex,
				IncomingRecord:      rec,
				ConflictingFields:   keySet,
				SuggestedResolution: "merge",
				AutoResolvable:      true,
				DetectedAt:          time.Now().UTC(),
				RowIndex:            rowIdx,
				Confidence:          0.95,
				Detail:              fmt.Sprintf("existing %s matches on %s", spec.Kind, strings.Join(keySet, "+")),
			})
			// One duplicate conflict per key set, however many rows match.
			break
		}
	}
	return out
}

func (d *Detector) detectFieldMismatches(spec EntitySpec, rec models.Record, rowIdx int, existing []models.Record, opts DetectOptions) []models.DataConflict {
	ignored := make(map[string]bool, len(opts.IgnoreFields))
	for _, f := range opts.IgnoreFields {
		ignored[f] = true
	}

	var out []models.DataConflict
	for _, ex := range existing {
		if !fieldsEqual(rec, ex, spec.IdentifyingFields) {
			continue
		}

		var mismatched []string
		critical := false
		for field, v := range rec {
			if ignoredFields[field] || ignored[field] || containsString(spec.IdentifyingFields, field) {
				continue
			}
			exV, present := ex[field]
			if !present {
				continue
			}
			if !valuesEqual(v, exV) {
				mismatched = append(mismatched, field)
				if containsString(spec.CriticalFields, field) {
					critical = true
				}
			}
		}
		if len(mismatched) == 0 {
			continue
		}

		severity := models.SeverityLow
		switch {
		case critical:
			severity = models.SeverityHigh
		case len(mismatched) > opts.MismatchEscalation:
			severity = models.SeverityMedium
		}

		out = append(out, models.DataConflict{
			ID:                  uuid.New(),
			EntityKind:          spec.Kind,
			Type:                models.ConflictFieldMismatch,
			Severity:            severity,
			ExistingRecord:      ex,
			IncomingRecord:      rec,
			ConflictingFields:   mismatched,
			SuggestedResolution: "update",
			AutoResolvable:      severity != models.SeverityHigh,
			DetectedAt:          time.Now().UTC(),
			RowIndex:            rowIdx,
			Confidence:          0.8,
		})
	}
	return out
}

func (d *Detector) detectConstraintViolations(spec EntitySpec, rec models.Record, rowIdx int) []models.DataConflict {
	var violations []string
	var fields []string
	for _, rule := range spec.Constraints {
		if msg := rule.check(rec); msg != "" {
			violations = append(violations, msg)
			fields = append(fields, rule.Field)
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return []models.DataConflict{{
		ID:                  uuid.New(),
		EntityKind:          spec.Kind,
		Type:                models.ConflictConstraintViolation,
		Severity:            models.SeverityHigh,
		IncomingRecord:      rec,
		ConflictingFields:   fields,
		SuggestedResolution: "skip",
		AutoResolvable:      false,
		DetectedAt:          time.Now().UTC(),
		RowIndex:            rowIdx,
		Confidence:          1.0,
		Detail:              strings.Join(violations, "; "),
	}}
}

func (d *Detector) detectBusinessRules(ctx context.Context, tenantID uuid.UUID, spec EntitySpec, rec models.Record, rowIdx int, existing []models.Record) ([]models.DataConflict, error) {
	switch spec.Kind {
	case models.KindUsers:
		return d.checkTeamReference(ctx, tenantID, rec, rowIdx)
	case models.KindReservations:
		return checkReservationOverlap(rec, rowIdx, existing), nil
	default:
		return nil, nil
	}
}

func (d *Detector) checkTeamReference(ctx context.Context, tenantID uuid.UUID, rec models.Record, rowIdx int) ([]models.DataConflict, error) {
	if d.teamExists == nil {
		return nil, nil
	}
	ref, _ := rec["teamId"].(string)
	if ref == "" {
		return nil, nil
	}
	ok, err := d.teamExists(ctx, tenantID, ref)
	if err != nil {
		return nil, fmt.Errorf("team lookup for %q: %w", ref, err)
	}
	if ok {
		return nil, nil
	}
	return []models.DataConflict{{
		ID:                  uuid.New(),
		EntityKind:          models.KindUsers,
		Type:                models.ConflictBusinessRule,
		Severity:            models.SeverityMedium,
		IncomingRecord:      rec,
		ConflictingFields:   []string{"teamId"},
		SuggestedResolution: "update",
		AutoResolvable:      true, // resolvable by dropping the reference
		DetectedAt:          time.Now().UTC(),
		RowIndex:            rowIdx,
		Confidence:          0.9,
		Detail:              fmt.Sprintf("referenced team %q does not exist", ref),
	}}, nil
}

func checkReservationOverlap(rec models.Record, rowIdx int, existing []models.Record) []models.DataConflict {
	s1, ok1 := minutesOfDay(rec["startTime"])
	e1, ok2 := minutesOfDay(rec["endTime"])
	if !ok1 || !ok2 {
		return nil // constraint pass reports the malformed times
	}
	fieldID, _ := rec["fieldId"].(string)
	date, _ := rec["date"].(string)

	var out []models.DataConflict
	for _, ex := range existing {
		if status, _ := ex["status"].(string); status == "cancelled" {
			continue
		}
		exField, _ := ex["fieldId"].(string)
		exDate, _ := ex["date"].(string)
		if exField != fieldID || exDate != date {
			continue
		}
		s2, ok1 := minutesOfDay(ex["startTime"])
		e2, ok2 := minutesOfDay(ex["endTime"])
		if !ok1 || !ok2 {
			continue
		}
		// [s1,e1) and [s2,e2) overlap iff s2 < e1 && e2 > s1.
		if s2 < e1 && e2 > s1 {
			out = append(out, models.DataConflict{
				ID:                  uuid.New(),
				EntityKind:          models.KindReservations,
				Type:                models.ConflictBusinessRule,
				Severity:            models.SeverityHigh,
				ExistingRecord:      ex,
				IncomingRecord:      rec,
				ConflictingFields:   []string{"startTime", "endTime"},
				SuggestedResolution: "skip",
				AutoResolvable:      false,
				DetectedAt:          time.Now().UTC(),
				RowIndex:            rowIdx,
				Confidence:          1.0,
				Detail:              fmt.Sprintf("overlaps reservation on field %s at %s", fieldID, date),
			})
		}
	}
	return out
}

// minutesOfDay converts an "HH:MM" value to minutes since midnight.
func minutesOfDay(v any) (int, bool) {
	s, ok := v.(string)
	if !ok || len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[3:])
	if err1 != nil || err2 != nil || h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func fieldsEqual(a, b models.Record, fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		av, aok := a[f]
		bv, bok := b[f]
		if !aok || !bok || av == nil || bv == nil {
			return false
		}
		if !valuesEqual(av, bv) {
			return false
		}
	}
	return true
}

// valuesEqual compares two JSON-shaped values, treating all numeric types as
// float64 the way encoding/json decodes them.
func valuesEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bs, ok := b.(string)
		return ok && av == bs
	case bool:
		bb, ok := b.(bool)
		return ok && av == bb
	case nil:
		return b == nil
	case []any:
		bs, ok := b.([]any)
		if !ok || len(av) != len(bs) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bs[i]) {
				return false
			}
		}
		return true
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
