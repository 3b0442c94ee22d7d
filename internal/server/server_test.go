package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"reviewboard/internal/app"
	"reviewboard/internal/mailer"
	"reviewboard/pkg/domain"
	"reviewboard/pkg/store"
)

type testEnv struct {
	srv  *httptest.Server
	app  *app.App
	mail *mailer.MemoryMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mm := mailer.NewMemoryMailer()
	a, err := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Mail:          mm,
		TokenSecret:   "test-token-secret",
		TokenTTL:      time.Hour,
		ConfirmSecret: "test-confirm-secret",
		ConfirmTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{App: a})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, app: a, mail: mm}
}

// tokenFor registers the user through the application core and walks
// the code-for-token exchange.
func (e *testEnv) tokenFor(t *testing.T, username, email string) string {
	t.Helper()
	if _, err := e.app.Register(username, email); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	token, err := e.app.ExchangeToken(username, e.lastCode(t))
	if err != nil {
		t.Fatalf("exchange token for %s: %v", username, err)
	}
	return token
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	if _, err := e.app.CreateUser("root", "root@x.com", domain.RoleAdmin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	token, err := e.app.ExchangeToken("root", e.lastCode(t))
	if err != nil {
		t.Fatalf("exchange admin token: %v", err)
	}
	return token
}

func (e *testEnv) lastCode(t *testing.T) string {
	t.Helper()
	sent := e.mail.Sent()
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

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, resp, http.StatusOK)
}

func TestSignupAndTokenFlow(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username": "alice", "email": "a@x.com",
	})
	var signup map[string]string
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &signup)
	if signup["username"] != "alice" || signup["email"] != "a@x.com" {
		t.Fatalf("unexpected signup response %v", signup)
	}

	resp = e.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{
		"username": "alice", "confirmation_code": e.lastCode(t),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token expected 200, got %d", resp.StatusCode)
	}
	var tok map[string]string
	decodeBody(t, resp, &tok)
	if tok["token"] == "" {
		t.Fatalf("empty token in response")
	}

	resp = e.do(t, http.MethodGet, "/api/v1/users/me", tok["token"], nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me expected 200, got %d", resp.StatusCode)
	}
	var me map[string]any
	decodeBody(t, resp, &me)
	if me["username"] != "alice" || me["role"] != "user" {
		t.Fatalf("unexpected profile %v", me)
	}
}

func TestRepeatedSignupSucceeds(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]string{"username": "alice", "email": "a@x.com"}
	wantStatus(t, e.do(t, http.MethodPost, "/api/v1/auth/signup", "", body), http.StatusOK)
	wantStatus(t, e.do(t, http.MethodPost, "/api/v1/auth/signup", "", body), http.StatusOK)
	if got := len(e.mail.Sent()); got != 2 {
		t.Fatalf("expected a code per signup, got %d emails", got)
	}
}

func TestTokenErrors(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{
		"username": "ghost", "confirmation_code": "whatever",
	})
	wantStatus(t, resp, http.StatusNotFound)

	if _, err := e.app.Register("alice", "a@x.com"); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp = e.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{
		"username": "alice", "confirmation_code": "1-deadbeef",
	})
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestCatalogAuthorization(t *testing.T) {
	e := newTestEnv(t)
	payload := map[string]string{"name": "Movies", "slug": "movies"}

	// anonymous write
	wantStatus(t, e.do(t, http.MethodPost, "/api/v1/categories", "", payload), http.StatusUnauthorized)

	// plain user write
	user := e.tokenFor(t, "bob", "b@x.com")
	wantStatus(t, e.do(t, http.MethodPost, "/api/v1/categories", user, payload), http.StatusForbidden)

	// admin write
	admin := e.adminToken(t)
	wantStatus(t, e.do(t, http.MethodPost, "/api/v1/categories", admin, payload), http.StatusCreated)

	// anonymous read
	resp := e.do(t, http.MethodGet, "/api/v1/categories", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public list expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Count int               `json:"count"`
		Items []domain.Category `json:"items"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 || list.Items[0].Slug != "movies" {
		t.Fatalf("unexpected category list %+v", list)
	}

	// admin delete
	wantStatus(t, e.do(t, http.MethodDelete, "/api/v1/categories/movies", admin, nil), http.StatusNoContent)
}

func TestReviewLifecycle(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)
	bob := e.tokenFor(t, "bob", "b@x.com")

	resp := e.do(t, http.MethodPost, "/api/v1/titles", admin, map[string]any{
		"name": "Solaris", "year": 1972,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create title expected 201, got %d", resp.StatusCode)
	}
	var title domain.Title
	decodeBody(t, resp, &title)

	reviewsPath := fmt.Sprintf("/api/v1/titles/%s/reviews", title.ID)
	resp = e.do(t, http.MethodPost, reviewsPath, bob, map[string]any{"score": 7, "text": "dense"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create review expected 201, got %d", resp.StatusCode)
	}
	var review domain.Review
	decodeBody(t, resp, &review)

	// second review by the same author on the same title
	wantStatus(t, e.do(t, http.MethodPost, reviewsPath, bob, map[string]any{"score": 3, "text": "again"}), http.StatusBadRequest)

	// rating reflects the single review
	resp = e.do(t, http.MethodGet, "/api/v1/titles/"+title.ID, "", nil)
	var rated domain.Title
	decodeBody(t, resp, &rated)
	if rated.Rating == nil || *rated.Rating != 7 {
		t.Fatalf("expected rating 7, got %v", rated.Rating)
	}

	// another user cannot edit bob's review
	eve := e.tokenFor(t, "eve", "e@x.com")
	reviewPath := reviewsPath + "/" + review.ID
	wantStatus(t, e.do(t, http.MethodPatch, reviewPath, eve, map[string]any{"score": 1}), http.StatusForbidden)

	// the author can
	resp = e.do(t, http.MethodPatch, reviewPath, bob, map[string]any{"score": 9})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("author patch expected 200, got %d", resp.StatusCode)
	}
	var updated domain.Review
	decodeBody(t, resp, &updated)
	if updated.Score != 9 {
		t.Fatalf("score not updated, got %d", updated.Score)
	}

	// a moderator can delete someone else's review
	if _, err := e.app.CreateUser("mod", "mod@x.com", domain.RoleModerator); err != nil {
		t.Fatalf("create moderator: %v", err)
	}
	mod, err := e.app.ExchangeToken("mod", e.lastCode(t))
	if err != nil {
		t.Fatalf("moderator token: %v", err)
	}
	wantStatus(t, e.do(t, http.MethodDelete, reviewPath, mod, nil), http.StatusNoContent)

	wantStatus(t, e.do(t, http.MethodGet, reviewPath, "", nil), http.StatusNotFound)
}

func TestCommentLifecycle(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)
	bob := e.tokenFor(t, "bob", "b@x.com")
	eve := e.tokenFor(t, "eve", "e@x.com")

	resp := e.do(t, http.MethodPost, "/api/v1/titles", admin, map[string]any{"name": "Stalker", "year": 1979})
	var title domain.Title
	decodeBody(t, resp, &title)

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/titles/%s/reviews", title.ID), bob,
		map[string]any{"score": 8, "text": "slow burn"})
	var review domain.Review
	decodeBody(t, resp, &review)

	commentsPath := fmt.Sprintf("/api/v1/titles/%s/reviews/%s/comments", title.ID, review.ID)

	// anonymous comment
	wantStatus(t, e.do(t, http.MethodPost, commentsPath, "", map[string]any{"text": "nope"}), http.StatusUnauthorized)

	resp = e.do(t, http.MethodPost, commentsPath, eve, map[string]any{"text": "agreed"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create comment expected 201, got %d", resp.StatusCode)
	}
	var comment domain.Comment
	decodeBody(t, resp, &comment)

	// bob cannot edit eve's comment
	commentPath := commentsPath + "/" + comment.ID
	wantStatus(t, e.do(t, http.MethodPatch, commentPath, bob, map[string]any{"text": "mine now"}), http.StatusForbidden)

	// but eve can
	wantStatus(t, e.do(t, http.MethodPatch, commentPath, eve, map[string]any{"text": "still agreed"}), http.StatusOK)

	// public read
	resp = e.do(t, http.MethodGet, commentsPath, "", nil)
	var list struct {
		Count int              `json:"count"`
		Items []domain.Comment `json:"items"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 || list.Items[0].Text != "still agreed" {
		t.Fatalf("unexpected comment list %+v", list)
	}
}

func TestAdminUserManagement(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)
	bob := e.tokenFor(t, "bob", "b@x.com")

	// plain users cannot list users
	wantStatus(t, e.do(t, http.MethodGet, "/api/v1/users", bob, nil), http.StatusForbidden)

	resp := e.do(t, http.MethodPost, "/api/v1/users", admin, map[string]any{
		"username": "carol", "email": "c@x.com", "role": "moderator",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user expected 201, got %d", resp.StatusCode)
	}
	var created domain.User
	decodeBody(t, resp, &created)
	if created.Role != domain.RoleModerator {
		t.Fatalf("expected moderator role, got %s", created.Role)
	}

	// admin promotes bob
	resp = e.do(t, http.MethodPatch, "/api/v1/users/bob", admin, map[string]any{"role": "admin"})
	var promoted domain.User
	decodeBody(t, resp, &promoted)
	if promoted.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", promoted.Role)
	}

	wantStatus(t, e.do(t, http.MethodDelete, "/api/v1/users/carol", admin, nil), http.StatusNoContent)
	wantStatus(t, e.do(t, http.MethodGet, "/api/v1/users/carol", admin, nil), http.StatusNotFound)
}

func TestMePatchKeepsRoleReadOnly(t *testing.T) {
	e := newTestEnv(t)
	bob := e.tokenFor(t, "bob", "b@x.com")

	resp := e.do(t, http.MethodPatch, "/api/v1/users/me", bob, map[string]any{
		"bio": "reader of long novels", "role": "admin",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me patch expected 200, got %d", resp.StatusCode)
	}
	var me domain.User
	decodeBody(t, resp, &me)
	if me.Role != domain.RoleUser {
		t.Fatalf("role must stay read-only on the profile endpoint, got %s", me.Role)
	}
	if me.Bio != "reader of long novels" {
		t.Fatalf("bio not updated: %q", me.Bio)
	}
}

func TestSignupRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	mm := mailer.NewMemoryMailer()
	a, err := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Mail:          mm,
		TokenSecret:   "test-token-secret",
		TokenTTL:      time.Hour,
		ConfirmSecret: "test-confirm-secret",
		ConfirmTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{
		App:                      a,
		RedisAddr:                redis.Addr(),
		SignupRateLimitPerMinute: 1,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body := []byte(`{"username":"alice","email":"a@x.com"}`)
	resp1, err := http.Post(srv.URL+"/api/v1/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("first signup request failed: %v", err)
	}
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", resp1.StatusCode)
	}

	resp2, err := http.Post(srv.URL+"/api/v1/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("second signup request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp2.StatusCode)
	}
}

func TestTitleFilters(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)

	wantStatus(t, e.do(t, http.MethodPost, "/api/v1/genres", admin, map[string]string{"name": "Drama", "slug": "drama"}), http.StatusCreated)
	wantStatus(t, e.do(t, http.MethodPost, "/api/v1/titles", admin, map[string]any{
		"name": "Solaris", "year": 1972, "genre": []string{"drama"},
	}), http.StatusCreated)
	wantStatus(t, e.do(t, http.MethodPost, "/api/v1/titles", admin, map[string]any{
		"name": "Alien", "year": 1979,
	}), http.StatusCreated)

	resp := e.do(t, http.MethodGet, "/api/v1/titles?genre=drama", "", nil)
	var list struct {
		Count int            `json:"count"`
		Items []domain.Title `json:"items"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 || list.Items[0].Name != "Solaris" {
		t.Fatalf("unexpected filtered list %+v", list)
	}
}
