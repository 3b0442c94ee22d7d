package store

import (
	"errors"

	"reviewboard/pkg/domain"
)

// ErrConflict is returned when a write collides with a storage-level
// uniqueness constraint. Callers translate it into the same validation
// shape as their own pre-checks so the error contract does not depend on
// which layer detected the violation.
var ErrConflict = errors.New("record already exists")

// TitleFilter narrows title listings.
type TitleFilter struct {
	Name         string
	Year         int
	CategorySlug string
	GenreSlug    string
}

// Store defines persistence operations for users, catalog records,
// reviews, and comments. Uniqueness of (username, email) per user and
// (author, title) per review is enforced by the backing storage, not by
// callers.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	ListUsers(search string, limit, offset int) ([]domain.User, int, error)
	DeleteUser(id string) error

	// categories and genres
	SaveCategory(domain.Category) error
	GetCategory(slug string) (domain.Category, bool, error)
	ListCategories(search string, limit, offset int) ([]domain.Category, int, error)
	DeleteCategory(slug string) error
	SaveGenre(domain.Genre) error
	GetGenre(slug string) (domain.Genre, bool, error)
	ListGenres(search string, limit, offset int) ([]domain.Genre, int, error)
	DeleteGenre(slug string) error

	// titles
	SaveTitle(t domain.Title, categorySlug string, genreSlugs []string) error
	GetTitle(id string) (domain.Title, bool, error)
	ListTitles(filter TitleFilter, limit, offset int) ([]domain.Title, int, error)
	DeleteTitle(id string) error

	// reviews
	CreateReview(r domain.Review, authorID string) error
	UpdateReview(r domain.Review) error
	GetReview(titleID, reviewID string) (domain.Review, bool, error)
	HasReview(authorID, titleID string) (bool, error)
	ListReviews(titleID string, limit, offset int) ([]domain.Review, int, error)
	DeleteReview(id string) error

	// comments
	CreateComment(c domain.Comment, authorID string) error
	UpdateComment(c domain.Comment) error
	GetComment(reviewID, commentID string) (domain.Comment, bool, error)
	ListComments(reviewID string, limit, offset int) ([]domain.Comment, int, error)
	DeleteComment(id string) error
}

// SessionStore issues and validates bearer tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
}
