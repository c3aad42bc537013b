package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cm "membership/internal/consent/models"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	"membership/pkg/testutil"
)

var today = testutil.Day(2026, time.March, 1)

func assignment(role mm.Role, start, end time.Time) mm.RoleAssignment {
	return mm.RoleAssignment{
		ID:        id.New[id.RoleAssignmentID](),
		Role:      role,
		StartDate: start,
		EndDate:   end,
		IsActive:  true,
		CreatedAt: start,
	}
}

func requirement(roles ...mm.Role) cm.Requirement {
	docID := id.New[id.DocumentID]()
	return cm.Requirement{
		Document: cm.LegalDocument{
			ID:                      docID,
			Slug:                    "privacy",
			IsRequiredForActivation: true,
			RequiredForRoles:        roles,
			IsActive:                true,
		},
		Current: &cm.DocumentVersion{ID: id.New[id.VersionID](), DocumentID: docID, IsCurrent: true},
	}
}

func consentFor(r cm.Requirement) cm.ConsentRecord {
	return cm.ConsentRecord{ID: id.New[id.ConsentID](), DocumentID: r.Document.ID, VersionID: r.Current.ID, IsActive: true}
}

func TestDeriveStatus_DocumentMonotonicity(t *testing.T) {
	valid := assignment(mm.RoleColaborador, today.AddDate(0, -1, 0), today.AddDate(1, 0, 0))

	testutil.Given(t, "a valid assignment and no required documents", func(t *testing.T) {
		facts := Facts{Assignments: []mm.RoleAssignment{valid}}
		require.Equal(t, mm.StatusActive, DeriveStatus(facts, today))

		testutil.When(t, "one non-compliant required document is added", func(t *testing.T) {
			facts.Requirements = []cm.Requirement{requirement()}
			testutil.Then(t, "status is approved pending documents", func(t *testing.T) {
				assert.Equal(t, mm.StatusApprovedPendingDocuments, DeriveStatus(facts, today))
			})
		})

		testutil.When(t, "the document is removed again", func(t *testing.T) {
			facts.Requirements = nil
			testutil.Then(t, "status is active", func(t *testing.T) {
				assert.Equal(t, mm.StatusActive, DeriveStatus(facts, today))
			})
		})
	})
}

func TestDeriveStatus_NoValidAssignment(t *testing.T) {
	expired := assignment(mm.RoleAsociado, today.AddDate(-2, 0, -1), today.AddDate(0, 0, -1))
	removed := assignment(mm.RoleAsociado, today.AddDate(0, -2, 0), today.AddDate(1, 0, 0))
	removed.ApplyRemoval(today, "conduct")
	future := assignment(mm.RoleAsociado, today.AddDate(0, 0, 1), today.AddDate(2, 0, 1))

	cases := []struct {
		name  string
		facts Facts
		want  mm.Status
	}{
		{"nothing at all", Facts{}, mm.StatusNone},
		{"open application", Facts{HasOpenApplication: true}, mm.StatusPending},
		{"open application wins over expiry", Facts{HasOpenApplication: true, Assignments: []mm.RoleAssignment{expired}}, mm.StatusPending},
		{"ended assignment", Facts{Assignments: []mm.RoleAssignment{expired}}, mm.StatusExpired},
		{"removed assignment", Facts{Assignments: []mm.RoleAssignment{removed}}, mm.StatusRemoved},
		{"expiry wins over removal", Facts{Assignments: []mm.RoleAssignment{removed, expired}}, mm.StatusExpired},
		{"not yet started", Facts{Assignments: []mm.RoleAssignment{future}}, mm.StatusNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.facts, today))
		})
	}
}

func TestDeriveStatus_ReConsent(t *testing.T) {
	valid := assignment(mm.RoleAsociado, today.AddDate(0, -6, 0), today.AddDate(1, 0, 0))
	v1 := requirement()
	oldConsent := consentFor(v1)

	deadline := today.AddDate(0, 0, 14)
	v2 := v1
	v2.Current = &cm.DocumentVersion{
		ID:                id.New[id.VersionID](),
		DocumentID:        v1.Document.ID,
		IsCurrent:         true,
		RequiresReConsent: true,
		ReConsentDeadline: &deadline,
	}

	testutil.Given(t, "an active consent for v1 and a new current v2 requiring re-consent", func(t *testing.T) {
		facts := Facts{Assignments: []mm.RoleAssignment{valid}, Requirements: []cm.Requirement{v2}, Consents: []cm.ConsentRecord{oldConsent}}

		testutil.Then(t, "status is approved pending documents before the deadline", func(t *testing.T) {
			assert.Equal(t, mm.StatusApprovedPendingDocuments, DeriveStatus(facts, today))
			assert.Equal(t, mm.StatusApprovedPendingDocuments, DeriveStatus(facts, deadline))
		})
		testutil.Then(t, "status is restricted once the deadline passed", func(t *testing.T) {
			assert.Equal(t, mm.StatusRestricted, DeriveStatus(facts, deadline.AddDate(0, 0, 1)))
		})
		testutil.Then(t, "accepting v2 restores active", func(t *testing.T) {
			facts.Consents = append(facts.Consents, consentFor(v2))
			assert.Equal(t, mm.StatusActive, DeriveStatus(facts, deadline.AddDate(0, 0, 1)))
		})
	})
}

func TestRequiredFor(t *testing.T) {
	everyone := requirement()
	boardOnly := requirement(mm.RoleBoardMember)
	noVersion := requirement()
	noVersion.Current = nil
	optional := requirement()
	optional.Document.IsRequiredForActivation = false

	got := RequiredFor([]cm.Requirement{everyone, boardOnly, noVersion, optional}, mm.RoleColaborador)
	require.Len(t, got, 1)
	assert.Equal(t, everyone.Document.ID, got[0].Document.ID)

	assert.Len(t, RequiredFor([]cm.Requirement{everyone, boardOnly}, mm.RoleBoardMember), 2)
}

func TestCurrentAssignment_Order(t *testing.T) {
	older := assignment(mm.RoleColaborador, today.AddDate(-1, 0, 0), today.AddDate(1, 0, 0))
	newer := assignment(mm.RoleAsociado, today.AddDate(0, -1, 0), today.AddDate(1, 0, 0))
	inactive := assignment(mm.RoleBoardMember, today, today.AddDate(2, 0, 0))
	inactive.IsActive = false

	got, ok := CurrentAssignment([]mm.RoleAssignment{older, inactive, newer}, today)
	require.True(t, ok)
	assert.Equal(t, mm.RoleAsociado, got.Role)

	_, ok = CurrentAssignment([]mm.RoleAssignment{inactive}, today)
	assert.False(t, ok)
}

func TestCurrentAssignment_BoundaryDays(t *testing.T) {
	ra := assignment(mm.RoleColaborador, today, today.AddDate(2, 0, 0))
	_, ok := CurrentAssignment([]mm.RoleAssignment{ra}, today)
	assert.True(t, ok, "start date is inclusive")
	_, ok = CurrentAssignment([]mm.RoleAssignment{ra}, ra.EndDate)
	assert.True(t, ok, "end date is inclusive")
	_, ok = CurrentAssignment([]mm.RoleAssignment{ra}, ra.EndDate.AddDate(0, 0, 1))
	assert.False(t, ok)
}

func TestAccessTransition(t *testing.T) {
	cases := []struct {
		before, after mm.Status
		want          Transition
	}{
		{mm.StatusApprovedPendingDocuments, mm.StatusActive, TransitionProvision},
		{mm.StatusRestricted, mm.StatusActive, TransitionProvision},
		{mm.StatusActive, mm.StatusRestricted, TransitionRevoke},
		{mm.StatusActive, mm.StatusExpired, TransitionRevoke},
		{mm.StatusActive, mm.StatusRemoved, TransitionRevoke},
		{mm.StatusActive, mm.StatusNone, TransitionRevoke},
		{mm.StatusActive, mm.StatusApprovedPendingDocuments, TransitionNone},
		{mm.StatusApprovedPendingDocuments, mm.StatusRestricted, TransitionRevoke},
		{mm.StatusPending, mm.StatusApprovedPendingDocuments, TransitionNone},
		{mm.StatusActive, mm.StatusActive, TransitionNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AccessTransition(tc.before, tc.after), "%s -> %s", tc.before, tc.after)
	}
}

func TestGrantsAccess(t *testing.T) {
	assert.True(t, GrantsAccess(mm.StatusActive))
	assert.False(t, GrantsAccess(mm.StatusApprovedPendingDocuments), "pending documents keeps access but gets no new grants")
	assert.True(t, HasAccess(mm.StatusApprovedPendingDocuments))
	assert.False(t, GrantsAccess(mm.StatusExpired))
}

func TestDaysUntil(t *testing.T) {
	assert.Equal(t, 7, DaysUntil(today, today.AddDate(0, 0, 7).Add(13*time.Hour)))
	assert.Equal(t, 0, DaysUntil(today.Add(20*time.Hour), today))
	assert.Equal(t, -1, DaysUntil(today, today.AddDate(0, 0, -1)))
}
