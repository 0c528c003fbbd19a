package trust

import (
	"errors"
	"testing"
	"time"
)

func TestAccessOrder(t *testing.T) {
	if !(AccessNone.Rank() < AccessRead.Rank() && AccessRead.Rank() < AccessSubscribe.Rank() &&
		AccessSubscribe.Rank() < AccessContribute.Rank() && AccessContribute.Rank() < AccessFull.Rank()) {
		t.Fatal("access levels out of order")
	}
	if AccessLevel("admin").Rank() != -1 {
		t.Fatal("unknown access level must rank -1")
	}
	lvl, err := ParseAccessLevel(" Subscribe ")
	if err != nil || lvl != AccessSubscribe {
		t.Fatalf("ParseAccessLevel = %q, %v", lvl, err)
	}
	if _, err := ParseAccessLevel("root"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestEffectiveAccess(t *testing.T) {
	cases := []struct {
		tag      string
		fallback AccessLevel
		want     AccessLevel
	}{
		{"complete", AccessRead, AccessFull},
		{"HIGH", AccessRead, AccessContribute},
		{"medium", AccessNone, AccessSubscribe},
		{"low", AccessFull, AccessRead},
		{"none", AccessFull, AccessNone},
		{"public", AccessRead, AccessRead},
		{"custom", "", AccessNone},
	}
	for _, tc := range cases {
		got := TrustLevel{Level: tc.tag, DefaultAccessLevel: tc.fallback}.EffectiveAccess()
		if got != tc.want {
			t.Errorf("%s: got %s want %s", tc.tag, got, tc.want)
		}
	}
}

func TestIsEffective(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)
	base := Relationship{Status: StatusActive, ApprovedBySource: true, ApprovedByTarget: true}

	if !base.IsEffective(now) {
		t.Fatal("open-ended active relationship should be effective")
	}
	r := base
	r.ValidUntil = &future
	if !r.IsEffective(now) {
		t.Fatal("relationship within validity should be effective")
	}
	r.ValidUntil = &past
	if r.IsEffective(now) {
		t.Fatal("relationship past valid_until must not be effective")
	}
	r = base
	r.ApprovedByTarget = false
	if r.IsEffective(now) {
		t.Fatal("half-approved relationship must not be effective")
	}
	r = base
	r.Status = StatusSuspended
	if r.IsEffective(now) {
		t.Fatal("suspended relationship must not be effective")
	}
}

func TestTransitions(t *testing.T) {
	now := time.Now()
	for _, terminal := range []RelationshipStatus{StatusRevoked, StatusExpired} {
		for _, to := range []RelationshipStatus{StatusPending, StatusActive, StatusSuspended, StatusRevoked, StatusExpired} {
			r := Relationship{ID: "r", Status: terminal}
			if err := r.moveTo(to, now); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("%s -> %s should fail with invalid state, got %v", terminal, to, err)
			}
		}
	}
	r := Relationship{ID: "r", Status: StatusPending}
	if err := r.suspend("u", now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("pending relationships cannot be suspended: %v", err)
	}
	if err := r.revoke("u", now); err != nil {
		t.Fatal(err)
	}
	if r.RevokedBy != "u" || r.RevokedAt == nil {
		t.Fatal("revoke should stamp who and when")
	}
}

func TestApproveActivatesOnce(t *testing.T) {
	now := time.Now()
	r := Relationship{ID: "r", Status: StatusPending}
	activated, err := r.approve(sideTarget, "t", now)
	if err != nil || activated {
		t.Fatalf("first approval: activated=%v err=%v", activated, err)
	}
	if _, err := r.approve(sideTarget, "t", now); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("expected already approved, got %v", err)
	}
	activated, err = r.approve(sideSource, "s", now)
	if err != nil || !activated {
		t.Fatalf("second approval: activated=%v err=%v", activated, err)
	}
	if r.Status != StatusActive {
		t.Fatalf("status = %s", r.Status)
	}
}

func TestUniqueRecipientsKeepsHighest(t *testing.T) {
	low := TrustLevel{Name: "Low", NumericalValue: 25}
	high := TrustLevel{Name: "High", NumericalValue: 75}
	in := []SharingPartner{
		{OrganizationID: "b", Level: low},
		{OrganizationID: "c", Level: low},
		{OrganizationID: "b", Level: high},
	}
	out := UniqueRecipients(in)
	if len(out) != 2 || out[0].OrganizationID != "b" || out[0].Level.Name != "High" || out[1].OrganizationID != "c" {
		t.Fatalf("unexpected recipients: %+v", out)
	}
}

func TestCanActFor(t *testing.T) {
	if !canActFor(Principal{Organization: "x", RoleName: RolePublisher}, "x") {
		t.Fatal("publisher may act for own org")
	}
	if canActFor(Principal{Organization: "x", RoleName: RoleViewer}, "x") {
		t.Fatal("viewer may not mutate")
	}
	if canActFor(Principal{Organization: "x", RoleName: RoleOrgAdmin}, "y") {
		t.Fatal("org admin may not act for another org")
	}
	if !canActFor(Principal{RoleName: RolePlatformAdmin}, "y") {
		t.Fatal("platform admin acts for any org")
	}
	if canActFor(nil, "x") {
		t.Fatal("nil actor")
	}
}

func TestKindOf(t *testing.T) {
	err := persistence("insert", errors.New("connection reset"))
	if KindOf(err) != KindUnexpectedPersistence {
		t.Fatalf("kind = %s", KindOf(err))
	}
	typed := newError(KindNotAMember, "nope")
	if persistence("op", typed) != error(typed) {
		t.Fatal("typed errors must pass through unchanged")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain errors have no kind")
	}
}
