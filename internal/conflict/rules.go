package conflict

import (
	"fmt"
	"regexp"
	"strings"

	"sync-service/pkg/models"
)

// FieldRule is one constraint evaluated against an incoming record alone.
type FieldRule struct {
	Field     string
	Required  bool
	Email     bool
	Date      bool // "2006-01-02"
	TimeOfDay bool // "15:04"
	MaxLen    int
	Enum      []string
	Min, Max  *float64
}

// EntitySpec drives all four detection passes for one entity kind.
type EntitySpec struct {
	Kind models.EntityKind
	// UniqueKeys: exact equality on every field of any one key set against
	// any existing record means a duplicate.
	UniqueKeys [][]string
	// IdentifyingFields is the weaker match used by the field-mismatch pass.
	IdentifyingFields []string
	// CriticalFields escalate a mismatch to high severity.
	CriticalFields []string
	Constraints    []FieldRule
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
var timeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ignoredFields never participate in duplicate or mismatch comparison.
var ignoredFields = map[string]bool{
	"id":         true,
	"tenant_id":  true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

func floatPtr(f float64) *float64 { return &f }

var entitySpecs = map[models.EntityKind]EntitySpec{
	models.KindUsers: {
		Kind:              models.KindUsers,
		UniqueKeys:        [][]string{{"email"}},
		IdentifyingFields: []string{"username"},
		CriticalFields:    []string{"email", "role"},
		Constraints: []FieldRule{
			{Field: "username", Required: true, MaxLen: 100},
			{Field: "email", Required: true, Email: true, MaxLen: 255},
			{Field: "role", Enum: []string{"admin", "manager", "member"}},
			{Field: "phone", MaxLen: 30},
		},
	},
	models.KindTeams: {
		Kind:              models.KindTeams,
		UniqueKeys:        [][]string{{"name"}},
		IdentifyingFields: []string{"name"},
		CriticalFields:    []string{"name"},
		Constraints: []FieldRule{
			{Field: "name", Required: true, MaxLen: 100},
			{Field: "division", MaxLen: 50},
		},
	},
	models.KindFields: {
		Kind:              models.KindFields,
		UniqueKeys:        [][]string{{"name"}},
		IdentifyingFields: []string{"name"},
		CriticalFields:    []string{"name"},
		Constraints: []FieldRule{
			{Field: "name", Required: true, MaxLen: 100},
			{Field: "capacity", Min: floatPtr(0), Max: floatPtr(100000)},
		},
	},
	models.KindReservations: {
		Kind:              models.KindReservations,
		UniqueKeys:        [][]string{{"fieldId", "date", "startTime", "endTime"}},
		IdentifyingFields: []string{"fieldId", "date"},
		CriticalFields:    []string{"fieldId", "date", "startTime", "endTime"},
		Constraints: []FieldRule{
			{Field: "fieldId", Required: true},
			{Field: "date", Required: true, Date: true},
			{Field: "startTime", Required: true, TimeOfDay: true},
			{Field: "endTime", Required: true, TimeOfDay: true},
			{Field: "status", Enum: []string{"pending", "confirmed", "cancelled"}},
		},
	},
}

// SpecFor returns the detection spec for an entity kind.
func SpecFor(kind models.EntityKind) (EntitySpec, bool) {
	s, ok := entitySpecs[kind]
	return s, ok
}

// check evaluates the rule against one record and returns a violation
// message, or "" when the rule holds.
func (r FieldRule) check(rec models.Record) string {
	v, present := rec[r.Field]
	s, isStr := v.(string)

	if !present || v == nil || (isStr && strings.TrimSpace(s) == "") {
		if r.Required {
			return fmt.Sprintf("%s is required", r.Field)
		}
		return ""
	}

	if r.Email && (!isStr || !emailRe.MatchString(s)) {
		return fmt.Sprintf("%s is not a valid email address", r.Field)
	}
	if r.Date && (!isStr || !dateRe.MatchString(s)) {
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD form", r.Field)
	}
	if r.TimeOfDay && (!isStr || !timeRe.MatchString(s)) {
		return fmt.Sprintf("%s must be a time in HH:MM form", r.Field)
	}
	if r.MaxLen > 0 && isStr && len(s) > r.MaxLen {
		return fmt.Sprintf("%s exceeds max length %d", r.Field, r.MaxLen)
	}
	if len(r.Enum) > 0 {
		if !isStr || !containsString(r.Enum, s) {
			return fmt.Sprintf("%s must be one of %s", r.Field, strings.Join(r.Enum, ", "))
		}
	}
	if r.Min != nil || r.Max != nil {
		n, ok := asFloat(v)
		if !ok {
			return fmt.Sprintf("%s must be numeric", r.Field)
		}
		if r.Min != nil && n < *r.Min {
			return fmt.Sprintf("%s must be >= %v", r.Field, *r.Min)
		}
		if r.Max != nil && n > *r.Max {
			return fmt.Sprintf("%s must be <= %v", r.Field, *r.Max)
		}
	}
	return ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
