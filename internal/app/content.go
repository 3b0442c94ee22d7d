package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewboard/pkg/domain"
	"reviewboard/pkg/store"
)

const (
	maxNameLength = 256
	maxSlugLength = 50

	minScore = 1
	maxScore = 10
)

var slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

// CreateCategory stores a new category.
func (a *App) CreateCategory(name, slug string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	slug = strings.TrimSpace(slug)
	if err := validateNameSlug(name, slug); err != nil {
		return domain.Category{}, err
	}
	category := domain.Category{Name: name, Slug: slug}
	if err := a.store.SaveCategory(category); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Category{}, validationErr("slug", "category with this name or slug already exists")
		}
		return domain.Category{}, fmt.Errorf("save category: %w", err)
	}
	return category, nil
}

// ListCategories returns categories matching an optional name search, paged.
func (a *App) ListCategories(search string, limit, offset int) ([]domain.Category, int, error) {
	return a.store.ListCategories(search, normalizeLimit(limit), max(offset, 0))
}

// DeleteCategory removes a category. Titles that referenced it are left
// uncategorized rather than deleted.
func (a *App) DeleteCategory(slug string) error {
	if _, found, err := a.store.GetCategory(slug); err != nil {
		return fmt.Errorf("fetch category: %w", err)
	} else if !found {
		return notFoundErr("category")
	}
	if err := a.store.DeleteCategory(slug); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

// CreateGenre stores a new genre.
func (a *App) CreateGenre(name, slug string) (domain.Genre, error) {
	name = strings.TrimSpace(name)
	slug = strings.TrimSpace(slug)
	if err := validateNameSlug(name, slug); err != nil {
		return domain.Genre{}, err
	}
	genre := domain.Genre{Name: name, Slug: slug}
	if err := a.store.SaveGenre(genre); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Genre{}, validationErr("slug", "genre with this name or slug already exists")
		}
		return domain.Genre{}, fmt.Errorf("save genre: %w", err)
	}
	return genre, nil
}

// ListGenres returns genres matching an optional name search, paged.
func (a *App) ListGenres(search string, limit, offset int) ([]domain.Genre, int, error) {
	return a.store.ListGenres(search, normalizeLimit(limit), max(offset, 0))
}

// DeleteGenre removes a genre and detaches it from titles.
func (a *App) DeleteGenre(slug string) error {
	if _, found, err := a.store.GetGenre(slug); err != nil {
		return fmt.Errorf("fetch genre: %w", err)
	} else if !found {
		return notFoundErr("genre")
	}
	if err := a.store.DeleteGenre(slug); err != nil {
		return fmt.Errorf("delete genre: %w", err)
	}
	return nil
}

// TitleDraft carries the writable fields of a title.
type TitleDraft struct {
	Name         string
	Year         int
	Description  string
	CategorySlug string
	GenreSlugs   []string
}

// CreateTitle validates and stores a new title.
func (a *App) CreateTitle(draft TitleDraft) (domain.Title, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	if draft.Name == "" {
		return domain.Title{}, validationErr("name", "name is required")
	}
	if len(draft.Name) > maxNameLength {
		return domain.Title{}, validationErr("name", "name must be at most %d characters", maxNameLength)
	}
	if err := validateYear(draft.Year); err != nil {
		return domain.Title{}, err
	}
	if err := a.checkTitleRefs(draft.CategorySlug, draft.GenreSlugs); err != nil {
		return domain.Title{}, err
	}
	now := time.Now().UTC()
	title := domain.Title{
		ID:          uuid.NewString(),
		Name:        draft.Name,
		Year:        draft.Year,
		Description: draft.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveTitle(title, draft.CategorySlug, draft.GenreSlugs); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Title{}, validationErr("name", "title with this name already exists")
		}
		return domain.Title{}, fmt.Errorf("save title: %w", err)
	}
	return a.GetTitle(title.ID)
}

// TitleUpdate carries optional changes to a title. Nil fields are left
// untouched.
type TitleUpdate struct {
	Name         *string
	Year         *int
	Description  *string
	CategorySlug *string
	GenreSlugs   *[]string
}

// UpdateTitle applies a partial update.
func (a *App) UpdateTitle(id string, update TitleUpdate) (domain.Title, error) {
	current, err := a.GetTitle(id)
	if err != nil {
		return domain.Title{}, err
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return domain.Title{}, validationErr("name", "name is required")
		}
		current.Name = name
	}
	if update.Year != nil {
		if err := validateYear(*update.Year); err != nil {
			return domain.Title{}, err
		}
		current.Year = *update.Year
	}
	if update.Description != nil {
		current.Description = *update.Description
	}
	categorySlug := ""
	if current.Category != nil {
		categorySlug = current.Category.Slug
	}
	if update.CategorySlug != nil {
		categorySlug = strings.TrimSpace(*update.CategorySlug)
	}
	genreSlugs := make([]string, 0, len(current.Genres))
	for _, g := range current.Genres {
		genreSlugs = append(genreSlugs, g.Slug)
	}
	if update.GenreSlugs != nil {
		genreSlugs = *update.GenreSlugs
	}
	if err := a.checkTitleRefs(categorySlug, genreSlugs); err != nil {
		return domain.Title{}, err
	}
	current.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveTitle(current, categorySlug, genreSlugs); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Title{}, validationErr("name", "title with this name already exists")
		}
		return domain.Title{}, fmt.Errorf("update title: %w", err)
	}
	return a.GetTitle(id)
}

// GetTitle returns a title with its category, genres, and live rating.
func (a *App) GetTitle(id string) (domain.Title, error) {
	title, found, err := a.store.GetTitle(strings.TrimSpace(id))
	if err != nil {
		return domain.Title{}, fmt.Errorf("fetch title: %w", err)
	}
	if !found {
		return domain.Title{}, notFoundErr("title")
	}
	return title, nil
}

// ListTitles returns titles matching the filter, paged.
func (a *App) ListTitles(filter store.TitleFilter, limit, offset int) ([]domain.Title, int, error) {
	return a.store.ListTitles(filter, normalizeLimit(limit), max(offset, 0))
}

// DeleteTitle removes a title together with its reviews and their
// comments.
func (a *App) DeleteTitle(id string) error {
	if _, err := a.GetTitle(id); err != nil {
		return err
	}
	if err := a.store.DeleteTitle(id); err != nil {
		return fmt.Errorf("delete title: %w", err)
	}
	return nil
}

// CreateReview stores the author's review of a title. At most one
// review may exist per (author, title): the existence check here is a
// fast path, and the storage unique constraint is the real guarantee
// under concurrency. Both failure paths surface as the same validation
// error.
func (a *App) CreateReview(author domain.User, titleID string, score int, text string) (domain.Review, error) {
	if _, err := a.GetTitle(titleID); err != nil {
		return domain.Review{}, err
	}
	if err := validateScore(score); err != nil {
		return domain.Review{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.Review{}, validationErr("text", "text is required")
	}
	exists, err := a.store.HasReview(author.ID, titleID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("check review: %w", err)
	}
	if exists {
		return domain.Review{}, validationErr("title", "review already written")
	}
	review := domain.Review{
		ID:        uuid.NewString(),
		TitleID:   titleID,
		Author:    author.Username,
		Score:     score,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateReview(review, author.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Review{}, validationErr("title", "review already written")
		}
		return domain.Review{}, fmt.Errorf("save review: %w", err)
	}
	return review, nil
}

// UpdateReview changes score and/or text. The duplicate check does not
// apply here: the (author, title) pair is already fixed.
func (a *App) UpdateReview(titleID, reviewID string, score *int, text *string) (domain.Review, error) {
	review, err := a.GetReview(titleID, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if score != nil {
		if err := validateScore(*score); err != nil {
			return domain.Review{}, err
		}
		review.Score = *score
	}
	if text != nil {
		if strings.TrimSpace(*text) == "" {
			return domain.Review{}, validationErr("text", "text is required")
		}
		review.Text = *text
	}
	if err := a.store.UpdateReview(review); err != nil {
		return domain.Review{}, fmt.Errorf("update review: %w", err)
	}
	return review, nil
}

// GetReview returns a review scoped to its parent title.
func (a *App) GetReview(titleID, reviewID string) (domain.Review, error) {
	if _, err := a.GetTitle(titleID); err != nil {
		return domain.Review{}, err
	}
	review, found, err := a.store.GetReview(titleID, reviewID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("fetch review: %w", err)
	}
	if !found {
		return domain.Review{}, notFoundErr("review")
	}
	return review, nil
}

// ListReviews returns a title's reviews, newest first, paged.
func (a *App) ListReviews(titleID string, limit, offset int) ([]domain.Review, int, error) {
	if _, err := a.GetTitle(titleID); err != nil {
		return nil, 0, err
	}
	return a.store.ListReviews(titleID, normalizeLimit(limit), max(offset, 0))
}

// DeleteReview removes a review and its comments.
func (a *App) DeleteReview(titleID, reviewID string) error {
	review, err := a.GetReview(titleID, reviewID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteReview(review.ID); err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return nil
}

// CreateComment stores a comment on a review.
func (a *App) CreateComment(author domain.User, titleID, reviewID, text string) (domain.Comment, error) {
	review, err := a.GetReview(titleID, reviewID)
	if err != nil {
		return domain.Comment{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, validationErr("text", "text is required")
	}
	comment := domain.Comment{
		ID:        uuid.NewString(),
		ReviewID:  review.ID,
		Author:    author.Username,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateComment(comment, author.ID); err != nil {
		return domain.Comment{}, fmt.Errorf("save comment: %w", err)
	}
	return comment, nil
}

// UpdateComment changes the comment text.
func (a *App) UpdateComment(titleID, reviewID, commentID, text string) (domain.Comment, error) {
	comment, err := a.GetComment(titleID, reviewID, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, validationErr("text", "text is required")
	}
	comment.Text = text
	if err := a.store.UpdateComment(comment); err != nil {
		return domain.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return comment, nil
}

// GetComment returns a comment scoped to its parent review and title.
func (a *App) GetComment(titleID, reviewID, commentID string) (domain.Comment, error) {
	review, err := a.GetReview(titleID, reviewID)
	if err != nil {
		return domain.Comment{}, err
	}
	comment, found, err := a.store.GetComment(review.ID, commentID)
	if err != nil {
		return domain.Comment{}, fmt.Errorf("fetch comment: %w", err)
	}
	if !found {
		return domain.Comment{}, notFoundErr("comment")
	}
	return comment, nil
}

// ListComments returns a review's comments, newest first, paged.
func (a *App) ListComments(titleID, reviewID string, limit, offset int) ([]domain.Comment, int, error) {
	review, err := a.GetReview(titleID, reviewID)
	if err != nil {
		return nil, 0, err
	}
	return a.store.ListComments(review.ID, normalizeLimit(limit), max(offset, 0))
}

// DeleteComment removes a single comment.
func (a *App) DeleteComment(titleID, reviewID, commentID string) error {
	comment, err := a.GetComment(titleID, reviewID, commentID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteComment(comment.ID); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func (a *App) checkTitleRefs(categorySlug string, genreSlugs []string) error {
	if slug := strings.TrimSpace(categorySlug); slug != "" {
		_, found, err := a.store.GetCategory(slug)
		if err != nil {
			return fmt.Errorf("fetch category: %w", err)
		}
		if !found {
			return validationErr("category", "category %q does not exist", slug)
		}
	}
	for _, slug := range genreSlugs {
		_, found, err := a.store.GetGenre(slug)
		if err != nil {
			return fmt.Errorf("fetch genre: %w", err)
		}
		if !found {
			return validationErr("genre", "genre %q does not exist", slug)
		}
	}
	return nil
}

// validateYear rejects titles dated outside [0, current year], naming
// the violated bound.
func validateYear(year int) error {
	if year < 0 {
		return validationErr("year", "year cannot be negative")
	}
	if current := time.Now().UTC().Year(); year > current {
		return validationErr("year", "year cannot be later than %d", current)
	}
	return nil
}

func validateScore(score int) error {
	if score < minScore {
		return validationErr("score", "score must be at least %d", minScore)
	}
	if score > maxScore {
		return validationErr("score", "score must be at most %d", maxScore)
	}
	return nil
}

func validateNameSlug(name, slug string) error {
	if name == "" {
		return validationErr("name", "name is required")
	}
	if len(name) > maxNameLength {
		return validationErr("name", "name must be at most %d characters", maxNameLength)
	}
	if slug == "" {
		return validationErr("slug", "slug is required")
	}
	if len(slug) > maxSlugLength {
		return validationErr("slug", "slug must be at most %d characters", maxSlugLength)
	}
	if !slugPattern.MatchString(slug) {
		return validationErr("slug", "slug may contain only letters, digits, hyphens, and underscores")
	}
	return nil
}
