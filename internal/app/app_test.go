package app

import (
	"strings"
	"testing"
	"time"

	"reviewboard/internal/mailer"
	"reviewboard/pkg/domain"
	"reviewboard/pkg/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *mailer.MemoryMailer) {
	t.Helper()
	st := store.NewMemoryStore()
	mm := mailer.NewMemoryMailer()
	a, err := New(Config{
		Store:         st,
		Mail:          mm,
		TokenSecret:   "test-token-secret",
		TokenTTL:      time.Hour,
		ConfirmSecret: "test-confirm-secret",
		ConfirmTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, st, mm
}

// lastCode extracts the confirmation code from the most recent email.
func lastCode(t *testing.T, mm *mailer.MemoryMailer) string {
	t.Helper()
	sent := mm.Sent()
	if len(sent) == 0 {
		t.Fatalf("no email delivered")
	}
	body := sent[len(sent)-1].Body
	_, rest, ok := strings.Cut(body, `"`)
	if !ok {
		t.Fatalf("unexpected email body %q", body)
	}
	code, _, ok := strings.Cut(rest, `"`)
	if !ok {
		t.Fatalf("unexpected email body %q", body)
	}
	return code
}

func mustKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v, got nil", want)
	}
	kind, ok := KindOf(err)
	if !ok || kind != want {
		t.Fatalf("expected kind %v, got %v (ok=%v) from %v", want, kind, ok, err)
	}
}

func TestRegisterIsIdempotentForExactPair(t *testing.T) {
	a, _, mm := newTestApp(t)

	first, err := a.Register("alice", "a@x.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.Role != domain.RoleUser {
		t.Fatalf("new users get the user role, got %q", first.Role)
	}
	if len(mm.Sent()) != 1 {
		t.Fatalf("expected one confirmation email, got %d", len(mm.Sent()))
	}

	second, err := a.Register("alice", "a@x.com")
	if err != nil {
		t.Fatalf("repeat register: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("repeat register must return the existing user")
	}
	if len(mm.Sent()) != 2 {
		t.Fatalf("repeat register re-issues the code, got %d emails", len(mm.Sent()))
	}
}

func TestRegisterRejectsReservedUsername(t *testing.T) {
	a, _, _ := newTestApp(t)
	_, err := a.Register("me", "m@x.com")
	mustKind(t, err, KindValidation)
}

func TestRegisterRejectsPartialCollision(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.Register("alice", "a@x.com"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Same username, different email.
	_, err := a.Register("alice", "other@x.com")
	mustKind(t, err, KindValidation)

	// Same email, different username.
	_, err = a.Register("alicia", "a@x.com")
	mustKind(t, err, KindValidation)
}

func TestRegisterValidatesInput(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.Register("", "a@x.com"); err == nil {
		t.Fatalf("empty username must be rejected")
	}
	if _, err := a.Register("alice", "not-an-email"); err == nil {
		t.Fatalf("malformed email must be rejected")
	}
	if _, err := a.Register("bad name", "a@x.com"); err == nil {
		t.Fatalf("username with spaces must be rejected")
	}
}

func TestExchangeTokenHappyPath(t *testing.T) {
	a, _, mm := newTestApp(t)
	user, err := a.Register("alice", "a@x.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token, err := a.ExchangeToken("alice", lastCode(t, mm))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	resolved, ok := a.UserFromToken(token)
	if !ok || resolved.ID != user.ID {
		t.Fatalf("token must resolve back to the registered user")
	}
}

func TestExchangeTokenUnknownUser(t *testing.T) {
	a, _, _ := newTestApp(t)
	_, err := a.ExchangeToken("ghost", "whatever-code")
	mustKind(t, err, KindNotFound)
}

func TestExchangeTokenWrongCode(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.Register("alice", "a@x.com"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := a.ExchangeToken("alice", "1abc-deadbeefdeadbeefdeadbeefdeadbeef")
	mustKind(t, err, KindInvalidCredential)
}

func TestStateChangeInvalidatesIssuedCode(t *testing.T) {
	a, _, mm := newTestApp(t)
	if _, err := a.Register("alice", "a@x.com"); err != nil {
		t.Fatalf("register: %v", err)
	}
	stale := lastCode(t, mm)

	newEmail := "moved@x.com"
	if _, err := a.UpdateUser("alice", UserUpdate{Email: &newEmail}, false); err != nil {
		t.Fatalf("update email: %v", err)
	}

	_, err := a.ExchangeToken("alice", stale)
	mustKind(t, err, KindInvalidCredential)
}

func TestUpdateUserRoleOnlyAsAdmin(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.Register("bob", "b@x.com"); err != nil {
		t.Fatalf("register: %v", err)
	}

	moderator := domain.RoleModerator
	updated, err := a.UpdateUser("bob", UserUpdate{Role: &moderator}, false)
	if err != nil {
		t.Fatalf("self update: %v", err)
	}
	if updated.Role != domain.RoleUser {
		t.Fatalf("role must stay read-only for non-admin updates, got %q", updated.Role)
	}

	updated, err = a.UpdateUser("bob", UserUpdate{Role: &moderator}, true)
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.Role != domain.RoleModerator {
		t.Fatalf("admin role change not applied, got %q", updated.Role)
	}
}

func TestCreateUserWithRole(t *testing.T) {
	a, _, _ := newTestApp(t)
	user, err := a.CreateUser("mod", "mod@x.com", domain.RoleModerator)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Role != domain.RoleModerator {
		t.Fatalf("expected moderator role, got %q", user.Role)
	}
	if _, err := a.CreateUser("odd", "odd@x.com", domain.UserRole("owner")); err == nil {
		t.Fatalf("unknown role must be rejected")
	}
}

func TestDeleteUserCascadesReviews(t *testing.T) {
	a, _, _ := newTestApp(t)
	bob, err := a.Register("bob", "b@x.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	title, err := a.CreateTitle(TitleDraft{Name: "Solaris", Year: 1972})
	if err != nil {
		t.Fatalf("create title: %v", err)
	}
	if _, err := a.CreateReview(bob, title.ID, 7, "dense but rewarding"); err != nil {
		t.Fatalf("create review: %v", err)
	}

	if err := a.DeleteUser("bob"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	reviews, total, err := a.ListReviews(title.ID, 10, 0)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if total != 0 || len(reviews) != 0 {
		t.Fatalf("reviews must cascade with their author, got %d", total)
	}
}

func TestListUsersSearch(t *testing.T) {
	a, _, _ := newTestApp(t)
	for _, u := range []struct{ name, email string }{
		{"alice", "a@x.com"},
		{"alicia", "al@x.com"},
		{"bob", "b@x.com"},
	} {
		if _, err := a.Register(u.name, u.email); err != nil {
			t.Fatalf("register %s: %v", u.name, err)
		}
	}
	users, total, err := a.ListUsers("ali", 10, 0)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if total != 2 || len(users) != 2 {
		t.Fatalf("expected two matches, got total=%d len=%d", total, len(users))
	}
}
