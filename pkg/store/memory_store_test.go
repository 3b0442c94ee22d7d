package store

import (
	"errors"
	"testing"
	"time"

	"reviewboard/pkg/domain"
)

func seedUser(t *testing.T, m *MemoryStore, id, username, email string) {
	t.Helper()
	if err := m.SaveUser(domain.User{ID: id, Username: username, Email: email, Role: domain.RoleUser}); err != nil {
		t.Fatalf("save user %s: %v", username, err)
	}
}

func TestSaveUserUniqueness(t *testing.T) {
	m := NewMemoryStore()
	seedUser(t, m, "u1", "alice", "a@x.com")

	if err := m.SaveUser(domain.User{ID: "u2", Username: "alice", Email: "other@x.com"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username must conflict, got %v", err)
	}
	if err := m.SaveUser(domain.User{ID: "u3", Username: "other", Email: "a@x.com"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email must conflict, got %v", err)
	}
	// update of the same record is not a conflict with itself
	if err := m.SaveUser(domain.User{ID: "u1", Username: "alice", Email: "a@x.com", Bio: "updated"}); err != nil {
		t.Fatalf("self update: %v", err)
	}
}

func TestCreateReviewUniquePerAuthorTitle(t *testing.T) {
	m := NewMemoryStore()
	seedUser(t, m, "u1", "alice", "a@x.com")
	if err := m.SaveTitle(domain.Title{ID: "t1", Name: "Solaris", Year: 1972}, "", nil); err != nil {
		t.Fatalf("save title: %v", err)
	}

	first := domain.Review{ID: "r1", TitleID: "t1", Score: 7, CreatedAt: time.Now()}
	if err := m.CreateReview(first, "u1"); err != nil {
		t.Fatalf("first review: %v", err)
	}
	second := domain.Review{ID: "r2", TitleID: "t1", Score: 3, CreatedAt: time.Now()}
	if err := m.CreateReview(second, "u1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second review by the same author must conflict, got %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	m := NewMemoryStore()
	seedUser(t, m, "u1", "alice", "a@x.com")
	seedUser(t, m, "u2", "bob", "b@x.com")
	if err := m.SaveTitle(domain.Title{ID: "t1", Name: "Solaris", Year: 1972}, "", nil); err != nil {
		t.Fatalf("save title: %v", err)
	}
	if err := m.CreateReview(domain.Review{ID: "r1", TitleID: "t1", Score: 7}, "u1"); err != nil {
		t.Fatalf("create review: %v", err)
	}
	// bob comments on alice's review, and authors a review of his own
	if err := m.CreateComment(domain.Comment{ID: "c1", ReviewID: "r1"}, "u2"); err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if err := m.CreateReview(domain.Review{ID: "r2", TitleID: "t1", Score: 9}, "u2"); err != nil {
		t.Fatalf("create second review: %v", err)
	}

	if err := m.DeleteUser("u1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, found, _ := m.GetReview("t1", "r1"); found {
		t.Fatalf("review must cascade with its author")
	}
	if _, found, _ := m.GetComment("r1", "c1"); found {
		t.Fatalf("comments must cascade with their review")
	}
	if _, found, _ := m.GetReview("t1", "r2"); !found {
		t.Fatalf("other authors' reviews must survive")
	}
}

func TestDeleteCategoryKeepsTitles(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveCategory(domain.Category{Name: "Movies", Slug: "movies"}); err != nil {
		t.Fatalf("save category: %v", err)
	}
	if err := m.SaveTitle(domain.Title{ID: "t1", Name: "Solaris", Year: 1972}, "movies", nil); err != nil {
		t.Fatalf("save title: %v", err)
	}
	if err := m.DeleteCategory("movies"); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	title, found, err := m.GetTitle("t1")
	if err != nil || !found {
		t.Fatalf("title must survive, found=%v err=%v", found, err)
	}
	if title.Category != nil {
		t.Fatalf("category link must be cleared, got %+v", title.Category)
	}
}

func TestRatingAggregation(t *testing.T) {
	m := NewMemoryStore()
	seedUser(t, m, "u1", "alice", "a@x.com")
	seedUser(t, m, "u2", "bob", "b@x.com")
	if err := m.SaveTitle(domain.Title{ID: "t1", Name: "Solaris", Year: 1972}, "", nil); err != nil {
		t.Fatalf("save title: %v", err)
	}

	title, _, _ := m.GetTitle("t1")
	if title.Rating != nil {
		t.Fatalf("rating must be absent before reviews")
	}

	_ = m.CreateReview(domain.Review{ID: "r1", TitleID: "t1", Score: 6}, "u1")
	_ = m.CreateReview(domain.Review{ID: "r2", TitleID: "t1", Score: 9}, "u2")

	title, _, _ = m.GetTitle("t1")
	if title.Rating == nil || *title.Rating != 7.5 {
		t.Fatalf("expected rating 7.5, got %v", title.Rating)
	}

	if err := m.DeleteReview("r2"); err != nil {
		t.Fatalf("delete review: %v", err)
	}
	title, _, _ = m.GetTitle("t1")
	if title.Rating == nil || *title.Rating != 6 {
		t.Fatalf("expected rating 6 after delete, got %v", title.Rating)
	}
}

func TestPagination(t *testing.T) {
	m := NewMemoryStore()
	for _, g := range []string{"a", "b", "c", "d"} {
		if err := m.SaveGenre(domain.Genre{Name: g, Slug: g}); err != nil {
			t.Fatalf("save genre %s: %v", g, err)
		}
	}
	genres, total, err := m.ListGenres("", 2, 1)
	if err != nil {
		t.Fatalf("list genres: %v", err)
	}
	if total != 4 || len(genres) != 2 || genres[0].Slug != "b" {
		t.Fatalf("unexpected page total=%d items=%v", total, genres)
	}
	genres, total, err = m.ListGenres("", 10, 10)
	if err != nil {
		t.Fatalf("list genres: %v", err)
	}
	if total != 4 || len(genres) != 0 {
		t.Fatalf("offset past end must yield an empty page, got %v", genres)
	}
}
