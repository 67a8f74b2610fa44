package conflict

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sync-service/pkg/models"
)

func alwaysTeam(exists bool) func(context.Context, uuid.UUID, string) (bool, error) {
	return func(context.Context, uuid.UUID, string) (bool, error) { return exists, nil }
}

func TestDetectDuplicateOnUniqueKey(t *testing.T) {
	d := NewDetector(alwaysTeam(true))
	existing := []models.Record{
		{"id": "u1", "username": "alice", "email": "alice@club.test", "role": "member"},
	}
	incoming := []models.Record{
		// Same email, everything else differs. Still exactly one duplicate.
		{"username": "completely-different", "email": "alice@club.test", "role": "manager"},
	}

	res, err := d.Detect(context.Background(), uuid.New(), models.KindUsers, incoming, existing, DetectOptions{})
	require.NoError(t, err)

	var dups []models.DataConflict
	for _, c := range res.Conflicts {
		if c.Type == models.ConflictDuplicate {
			dups = append(dups, c)
		}
	}
	require.Len(t, dups, 1)
	assert.Equal(t, models.SeverityHigh, dups[0].Severity)
	assert.Equal(t, "merge", dups[0].SuggestedResolution)
	assert.InDelta(t, 0.95, dups[0].Confidence, 0.001)
	assert.Equal(t, []string{"email"}, dups[0].ConflictingFields)
	assert.Equal(t, 1, res.ByType[models.ConflictDuplicate])
}

func TestDetectFieldMismatchSeverity(t *testing.T) {
	tests := []struct {
		name     string
		existing models.Record
		incoming models.Record
		severity models.ConflictSeverity
		auto     bool
	}{
		{
			name:     "critical field mismatch is high",
			existing: models.Record{"id": "u1", "username": "bob", "email": "bob@club.test", "role": "member"},
			incoming: models.Record{"username": "bob", "email": "bob@club.test", "role": "admin"},
			severity: models.SeverityHigh,
			auto:     false,
		},
		{
			name:     "single non-critical mismatch is low",
			existing: models.Record{"id": "u1", "username": "bob", "email": "bob@club.test", "phone": "111"},
			incoming: models.Record{"username": "bob", "email": "bob@club.test", "phone": "222"},
			severity: models.SeverityLow,
			auto:     true,
		},
	}

	d := NewDetector(alwaysTeam(true))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Detect(context.Background(), uuid.New(), models.KindUsers,
				[]models.Record{tt.incoming}, []models.Record{tt.existing}, DetectOptions{})
			require.NoError(t, err)

			var mismatches []models.DataConflict
			for _, c := range res.Conflicts {
				if c.Type == models.ConflictFieldMismatch {
					mismatches = append(mismatches, c)
				}
			}
			require.Len(t, mismatches, 1)
			assert.Equal(t, tt.severity, mismatches[0].Severity)
			assert.Equal(t, tt.auto, mismatches[0].AutoResolvable)
			assert.Equal(t, "update", mismatches[0].SuggestedResolution)
		})
	}
}

func TestDetectConstraintViolationInvalidEmail(t *testing.T) {
	d := NewDetector(alwaysTeam(true))
	incoming := []models.Record{
		{"username": "mallory", "email": "not-an-email"},
	}

	res, err := d.Detect(context.Background(), uuid.New(), models.KindUsers, incoming, nil, DetectOptions{})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)

	c := res.Conflicts[0]
	assert.Equal(t, models.ConflictConstraintViolation, c.Type)
	assert.Equal(t, models.SeverityHigh, c.Severity)
	assert.False(t, c.AutoResolvable)
	assert.Equal(t, "skip", c.SuggestedResolution)
	assert.Contains(t, c.ConflictingFields, "email")
	assert.InDelta(t, 1.0, c.Confidence, 0.001)
}

func TestDetectReservationOverlap(t *testing.T) {
	tests := []struct {
		name        string
		start, end  string
		wantOverlap bool
	}{
		{"overlapping ranges", "09:30", "10:30", true},
		{"adjacent ranges do not overlap", "10:00", "11:00", false},
		{"contained range", "09:15", "09:45", true},
		{"earlier adjacent", "08:00", "09:00", false},
	}

	existing := []models.Record{{
		"id": "r1", "fieldId": "field-a", "date": "2026-09-01",
		"startTime": "09:00", "endTime": "10:00", "status": "confirmed",
	}}

	d := NewDetector(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming := []models.Record{{
				"fieldId": "field-a", "date": "2026-09-01",
				"startTime": tt.start, "endTime": tt.end, "status": "pending",
			}}
			res, err := d.Detect(context.Background(), uuid.New(), models.KindReservations, incoming, existing, DetectOptions{})
			require.NoError(t, err)

			var overlaps []models.DataConflict
			for _, c := range res.Conflicts {
				if c.Type == models.ConflictBusinessRule {
					overlaps = append(overlaps, c)
				}
			}
			if tt.wantOverlap {
				require.Len(t, overlaps, 1)
				assert.Equal(t, models.SeverityHigh, overlaps[0].Severity)
				assert.False(t, overlaps[0].AutoResolvable)
				assert.Equal(t, "skip", overlaps[0].SuggestedResolution)
			} else {
				assert.Empty(t, overlaps)
			}
		})
	}
}

func TestDetectOverlapIgnoresCancelled(t *testing.T) {
	existing := []models.Record{{
		"id": "r1", "fieldId": "field-a", "date": "2026-09-01",
		"startTime": "09:00", "endTime": "10:00", "status": "cancelled",
	}}
	incoming := []models.Record{{
		"fieldId": "field-a", "date": "2026-09-01",
		"startTime": "09:30", "endTime": "10:30", "status": "pending",
	}}

	d := NewDetector(nil)
	res, err := d.Detect(context.Background(), uuid.New(), models.KindReservations, incoming, existing, DetectOptions{})
	require.NoError(t, err)
	for _, c := range res.Conflicts {
		assert.NotEqual(t, models.ConflictBusinessRule, c.Type)
	}
}

func TestDetectDanglingTeamReference(t *testing.T) {
	d := NewDetector(alwaysTeam(false))
	incoming := []models.Record{
		{"username": "carol", "email": "carol@club.test", "teamId": "ghost-team"},
	}

	res, err := d.Detect(context.Background(), uuid.New(), models.KindUsers, incoming, nil, DetectOptions{})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)

	c := res.Conflicts[0]
	assert.Equal(t, models.ConflictBusinessRule, c.Type)
	assert.Equal(t, models.SeverityMedium, c.Severity)
	assert.True(t, c.AutoResolvable)
	assert.Equal(t, []string{"teamId"}, c.ConflictingFields)
}

func TestDetectDanglingTeamReferenceOnStoredUserShape(t *testing.T) {
	// Store-loaded records are the models' JSON form; the team reference key
	// must match in both directions.
	teamID := uuid.New()
	user := models.User{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Username: "carol",
		Email:    "carol@club.test",
		Role:     "member",
		TeamID:   &teamID,
	}
	raw, err := json.Marshal(user)
	require.NoError(t, err)
	var rec models.Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, teamID.String(), rec["teamId"])

	d := NewDetector(alwaysTeam(false))
	res, err := d.Detect(context.Background(), user.TenantID, models.KindUsers, []models.Record{rec}, nil, DetectOptions{})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, models.ConflictBusinessRule, res.Conflicts[0].Type)
	assert.Equal(t, []string{"teamId"}, res.Conflicts[0].ConflictingFields)

	// And an incoming record carrying the canonical key fits the model.
	var parsed models.User
	require.NoError(t, json.Unmarshal([]byte(`{"teamId":"`+teamID.String()+`"}`), &parsed))
	require.NotNil(t, parsed.TeamID)
	assert.Equal(t, teamID, *parsed.TeamID)
}

func TestDetectSummaryCounts(t *testing.T) {
	d := NewDetector(alwaysTeam(true))
	existing := []models.Record{
		{"id": "u1", "username": "dave", "email": "dave@club.test"},
	}
	incoming := []models.Record{
		{"username": "dave2", "email": "dave@club.test"}, // duplicate
		{"username": "erin", "email": "erin@club.test"},  // clean
		{"username": "frank", "email": "bad"},            // constraint violation
	}

	res, err := d.Detect(context.Background(), uuid.New(), models.KindUsers, incoming, existing, DetectOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalRecords)
	assert.Equal(t, 2, res.RecordsWithConflicts)
	assert.Equal(t, 1, res.ByType[models.ConflictDuplicate])
	assert.Equal(t, 1, res.ByType[models.ConflictConstraintViolation])
}

func TestMinutesOfDay(t *testing.T) {
	m, ok := minutesOfDay("09:30")
	require.True(t, ok)
	assert.Equal(t, 570, m)

	_, ok = minutesOfDay("9:30")
	assert.False(t, ok)
	_, ok = minutesOfDay("24:00")
	assert.False(t, ok)
	_, ok = minutesOfDay(nil)
	assert.False(t, ok)
}
