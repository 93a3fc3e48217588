package membership

import (
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/model"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func intp(n int) *int       { return &n }
func strp(s string) *string { return &s }

func newGroup(t *testing.T, max int, private bool) *model.StudyGroup {
	t.Helper()
	code := ""
	if private {
		code = "ABC123"
	}
	g, rej := Create("creator", CreateInput{Name: "Algebra", ClassID: "class-1", MaxMembers: intp(max), IsPrivate: private}, code, now)
	if rej != nil {
		t.Fatalf("Create: %v", rej)
	}
	g.ID = "group-1"
	return g
}

func wantCode(t *testing.T, rej *apperr.Error, code apperr.Code) {
	t.Helper()
	if rej == nil {
		t.Fatalf("expected rejection %s, got success", code)
	}
	if rej.Code != code {
		t.Fatalf("rejection = %s (%s), want %s", rej.Code, rej.Message, code)
	}
}

func TestCreateDefaults(t *testing.T) {
	g, rej := Create("u1", CreateInput{Name: "  Calc study  ", ClassID: "c1"}, "IGNORE", now)
	if rej != nil {
		t.Fatalf("Create: %v", rej)
	}
	if g.MaxMembers != model.DefaultGroupMembers {
		t.Errorf("MaxMembers = %d, want %d", g.MaxMembers, model.DefaultGroupMembers)
	}
	if !slices.Equal(g.Members, []string{"u1"}) {
		t.Errorf("Members = %v, want [u1]", g.Members)
	}
	if g.Name != "Calc study" {
		t.Errorf("Name = %q, want trimmed", g.Name)
	}
	if g.InviteCode != "" {
		t.Errorf("public group must not carry invite code, got %q", g.InviteCode)
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
		code string
	}{
		{"missing name", CreateInput{ClassID: "c1"}, ""},
		{"blank name", CreateInput{Name: "   ", ClassID: "c1"}, ""},
		{"missing class", CreateInput{Name: "x"}, ""},
		{"capacity too small", CreateInput{Name: "x", ClassID: "c1", MaxMembers: intp(1)}, ""},
		{"capacity too large", CreateInput{Name: "x", ClassID: "c1", MaxMembers: intp(51)}, ""},
		{"private without code", CreateInput{Name: "x", ClassID: "c1", IsPrivate: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rej := Create("u1", tt.in, tt.code, now)
			wantCode(t, rej, apperr.CodeValidation)
		})
	}
}

func TestCreateBoundaries(t *testing.T) {
	for _, n := range []int{2, 50} {
		if _, rej := Create("u1", CreateInput{Name: "x", ClassID: "c1", MaxMembers: intp(n)}, "", now); rej != nil {
			t.Errorf("maxMembers=%d rejected: %v", n, rej)
		}
	}
}

func TestJoin(t *testing.T) {
	g := newGroup(t, 3, false)

	next, rej := Join(g, "u2", "")
	if rej != nil {
		t.Fatalf("Join u2: %v", rej)
	}
	if !slices.Equal(next.Members, []string{"creator", "u2"}) {
		t.Fatalf("Members = %v", next.Members)
	}
	if len(g.Members) != 1 {
		t.Fatal("Join must not mutate input snapshot")
	}

	_, rej = Join(next, "u2", "")
	wantCode(t, rej, apperr.CodeAlreadyMember)

	full, rej := Join(next, "u3", "")
	if rej != nil {
		t.Fatalf("Join u3: %v", rej)
	}
	_, rej = Join(full, "u4", "")
	wantCode(t, rej, apperr.CodeGroupFull)
}

func TestJoinPrivate(t *testing.T) {
	g := newGroup(t, 5, true)

	_, rej := Join(g, "u2", "")
	wantCode(t, rej, apperr.CodeInviteCodeRequired)

	_, rej = Join(g, "u2", "abc123")
	wantCode(t, rej, apperr.CodeInviteCodeInvalid)

	_, rej = Join(g, "u2", "ZZZ999")
	wantCode(t, rej, apperr.CodeInviteCodeInvalid)

	next, rej := Join(g, "u2", "ABC123")
	if rej != nil {
		t.Fatalf("Join with code: %v", rej)
	}
	if !next.HasMember("u2") {
		t.Fatal("u2 should be a member")
	}
}

func TestJoinCheckOrder(t *testing.T) {
	g := newGroup(t, 2, true)
	g.Members = append(g.Members, "u2")

	// Полная закрытая группа: GroupFull раньше проверки кода.
	_, rej := Join(g, "u3", "")
	wantCode(t, rej, apperr.CodeGroupFull)

	// Участник: AlreadyMember раньше GroupFull.
	_, rej = Join(g, "u2", "")
	wantCode(t, rej, apperr.CodeAlreadyMember)
}

func TestLeave(t *testing.T) {
	g := newGroup(t, 10, false)
	g.Members = []string{"creator", "u2", "u3", "u4"}

	next, rej := Leave(g, "u3")
	if rej != nil {
		t.Fatalf("Leave: %v", rej)
	}
	if !slices.Equal(next.Members, []string{"creator", "u2", "u4"}) {
		t.Fatalf("order not preserved: %v", next.Members)
	}

	_, rej = Leave(g, "creator")
	wantCode(t, rej, apperr.CodeCreatorCannotLeave)

	_, rej = Leave(g, "stranger")
	wantCode(t, rej, apperr.CodeNotAMember)
}

func TestEdit(t *testing.T) {
	g := newGroup(t, 10, false)
	g.Members = []string{"creator", "u2", "u3"}
	g.Description = "old"

	_, rej := Edit(g, "u2", EditInput{Name: strp("hijack")}, now)
	wantCode(t, rej, apperr.CodeForbidden)

	_, rej = Edit(g, "creator", EditInput{MaxMembers: intp(2)}, now)
	wantCode(t, rej, apperr.CodeCapacityBelowCurrentMembers)

	_, rej = Edit(g, "creator", EditInput{MaxMembers: intp(51)}, now)
	wantCode(t, rej, apperr.CodeValidation)

	later := now.Add(time.Hour)
	next, rej := Edit(g, "creator", EditInput{Name: strp(""), Description: strp(""), MaxMembers: intp(3)}, later)
	if rej != nil {
		t.Fatalf("Edit: %v", rej)
	}
	if next.Name != "Algebra" {
		t.Errorf("empty name must be ignored, got %q", next.Name)
	}
	if next.Description != "" {
		t.Errorf("description should be cleared, got %q", next.Description)
	}
	if next.MaxMembers != 3 {
		t.Errorf("MaxMembers = %d, want 3", next.MaxMembers)
	}
	if !next.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt not bumped")
	}
}

func TestDisband(t *testing.T) {
	g := newGroup(t, 10, false)
	if rej := Disband(g, "u2"); rej == nil || rej.Code != apperr.CodeForbidden {
		t.Fatalf("non-creator disband: %v", rej)
	}
	if rej := Disband(g, "creator"); rej != nil {
		t.Fatalf("creator disband: %v", rej)
	}
}

// Случайная последовательность операций не нарушает инварианты группы.
func TestRandomSequenceKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"creator", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	g := newGroup(t, 4, true)

	for i := 0; i < 5000; i++ {
		u := users[rng.Intn(len(users))]
		var next *model.StudyGroup
		switch rng.Intn(3) {
		case 0:
			code := ""
			if rng.Intn(2) == 0 {
				code = g.InviteCode
			}
			next, _ = Join(g, u, code)
		case 1:
			next, _ = Leave(g, u)
		case 2:
			next, _ = Edit(g, u, EditInput{MaxMembers: intp(2 + rng.Intn(6))}, now)
		}
		if next != nil {
			g = next
		}
		if len(g.Members) > g.MaxMembers {
			t.Fatalf("step %d: %d members > max %d", i, len(g.Members), g.MaxMembers)
		}
		if !g.HasMember(g.CreatedBy) {
			t.Fatalf("step %d: creator missing from %v", i, g.Members)
		}
		if len(g.Members) != len(slices.Compact(slices.Sorted(slices.Values(g.Members)))) {
			t.Fatalf("step %d: duplicate members %v", i, g.Members)
		}
		if g.IsPrivate != (g.InviteCode != "") {
			t.Fatalf("step %d: privacy/invite mismatch", i)
		}
	}
}
