package store

import (
	"sort"
	"strings"
	"sync"

	"reviewboard/pkg/domain"
)

// MemoryStore keeps all records in-process. It mirrors the constraints
// the Postgres store enforces (unique username/email/pair, unique
// (author, title) review, cascade deletes) so the application core can
// be exercised without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User     // key: user ID
	categories map[string]domain.Category // key: slug
	genres     map[string]domain.Genre    // key: slug
	titles     map[string]memTitle        // key: title ID
	reviews    map[string]memReview       // key: review ID
	comments   map[string]memComment      // key: comment ID
}

type memTitle struct {
	title        domain.Title
	categorySlug string
	genreSlugs   []string
}

type memReview struct {
	review   domain.Review
	authorID string
}

type memComment struct {
	comment  domain.Comment
	authorID string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		categories: make(map[string]domain.Category),
		genres:     make(map[string]domain.Genre),
		titles:     make(map[string]memTitle),
		reviews:    make(map[string]memReview),
		comments:   make(map[string]memComment),
	}
}

// SaveUser registers or updates a user, enforcing username and email
// uniqueness against other records.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.users {
		if id == u.ID {
			continue
		}
		if existing.Username == u.Username || existing.Email == u.Email {
			return ErrConflict
		}
	}
	m.users[u.ID] = u
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// ListUsers returns users matching an optional username search, paged.
func (m *MemoryStore) ListUsers(search string, limit, offset int) ([]domain.User, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if search == "" || strings.Contains(strings.ToLower(u.Username), strings.ToLower(search)) {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	total := len(matched)
	return page(matched, limit, offset), total, nil
}

// DeleteUser removes a user, their reviews (with comments), and their
// own comments.
func (m *MemoryStore) DeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	for reviewID, r := range m.reviews {
		if r.authorID == id {
			m.deleteReviewLocked(reviewID)
		}
	}
	for commentID, c := range m.comments {
		if c.authorID == id {
			delete(m.comments, commentID)
		}
	}
	return nil
}

// SaveCategory stores a category.
func (m *MemoryStore) SaveCategory(c domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.categories[c.Slug]; exists {
		return ErrConflict
	}
	for _, existing := range m.categories {
		if existing.Name == c.Name {
			return ErrConflict
		}
	}
	m.categories[c.Slug] = c
	return nil
}

// GetCategory returns a category by slug.
func (m *MemoryStore) GetCategory(slug string) (domain.Category, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[slug]
	return c, ok, nil
}

// ListCategories returns categories matching an optional name search, paged.
func (m *MemoryStore) ListCategories(search string, limit, offset int) ([]domain.Category, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		if search == "" || strings.Contains(strings.ToLower(c.Name), strings.ToLower(search)) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Slug < matched[j].Slug })
	total := len(matched)
	return page(matched, limit, offset), total, nil
}

// DeleteCategory removes a category; titles referencing it keep living
// without one.
func (m *MemoryStore) DeleteCategory(slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.categories, slug)
	for id, t := range m.titles {
		if t.categorySlug == slug {
			t.categorySlug = ""
			m.titles[id] = t
		}
	}
	return nil
}

// SaveGenre stores a genre.
func (m *MemoryStore) SaveGenre(g domain.Genre) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.genres[g.Slug]; exists {
		return ErrConflict
	}
	for _, existing := range m.genres {
		if existing.Name == g.Name {
			return ErrConflict
		}
	}
	m.genres[g.Slug] = g
	return nil
}

// GetGenre returns a genre by slug.
func (m *MemoryStore) GetGenre(slug string) (domain.Genre, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.genres[slug]
	return g, ok, nil
}

// ListGenres returns genres matching an optional name search, paged.
func (m *MemoryStore) ListGenres(search string, limit, offset int) ([]domain.Genre, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Genre, 0, len(m.genres))
	for _, g := range m.genres {
		if search == "" || strings.Contains(strings.ToLower(g.Name), strings.ToLower(search)) {
			matched = append(matched, g)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Slug < matched[j].Slug })
	total := len(matched)
	return page(matched, limit, offset), total, nil
}

// DeleteGenre removes a genre and drops it from every title.
func (m *MemoryStore) DeleteGenre(slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.genres, slug)
	for id, t := range m.titles {
		kept := t.genreSlugs[:0]
		for _, s := range t.genreSlugs {
			if s != slug {
				kept = append(kept, s)
			}
		}
		t.genreSlugs = kept
		m.titles[id] = t
	}
	return nil
}

// SaveTitle stores or updates a title and replaces its genre set.
func (m *MemoryStore) SaveTitle(t domain.Title, categorySlug string, genreSlugs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.titles {
		if id != t.ID && existing.title.Name == t.Name {
			return ErrConflict
		}
	}
	m.titles[t.ID] = memTitle{
		title:        t,
		categorySlug: strings.TrimSpace(categorySlug),
		genreSlugs:   append([]string(nil), genreSlugs...),
	}
	return nil
}

// GetTitle retrieves a title with category, genres, and live rating.
func (m *MemoryStore) GetTitle(id string) (domain.Title, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.titles[id]
	if !ok {
		return domain.Title{}, false, nil
	}
	return m.titleViewLocked(t), true, nil
}

// ListTitles returns titles matching the filter, paged, each with its
// live rating.
func (m *MemoryStore) ListTitles(filter TitleFilter, limit, offset int) ([]domain.Title, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Title, 0, len(m.titles))
	for _, t := range m.titles {
		if filter.Name != "" && !strings.Contains(strings.ToLower(t.title.Name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.Year != 0 && t.title.Year != filter.Year {
			continue
		}
		if filter.CategorySlug != "" && t.categorySlug != filter.CategorySlug {
			continue
		}
		if filter.GenreSlug != "" && !containsString(t.genreSlugs, filter.GenreSlug) {
			continue
		}
		matched = append(matched, m.titleViewLocked(t))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	total := len(matched)
	return page(matched, limit, offset), total, nil
}

// DeleteTitle removes a title, its reviews, and their comments.
func (m *MemoryStore) DeleteTitle(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.titles, id)
	for reviewID, r := range m.reviews {
		if r.review.TitleID == id {
			m.deleteReviewLocked(reviewID)
		}
	}
	return nil
}

// CreateReview inserts a review, enforcing one review per (author, title).
func (m *MemoryStore) CreateReview(r domain.Review, authorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reviews {
		if existing.authorID == authorID && existing.review.TitleID == r.TitleID {
			return ErrConflict
		}
	}
	m.reviews[r.ID] = memReview{review: r, authorID: authorID}
	return nil
}

// UpdateReview changes text and score in place.
func (m *MemoryStore) UpdateReview(r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.reviews[r.ID]
	if !ok {
		return nil
	}
	existing.review.Score = r.Score
	existing.review.Text = r.Text
	m.reviews[r.ID] = existing
	return nil
}

// GetReview retrieves a review scoped to its parent title.
func (m *MemoryStore) GetReview(titleID, reviewID string) (domain.Review, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[reviewID]
	if !ok || r.review.TitleID != titleID {
		return domain.Review{}, false, nil
	}
	return m.reviewViewLocked(r), true, nil
}

// HasReview reports whether the author already reviewed the title.
func (m *MemoryStore) HasReview(authorID, titleID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reviews {
		if r.authorID == authorID && r.review.TitleID == titleID {
			return true, nil
		}
	}
	return false, nil
}

// ListReviews returns a title's reviews, newest first, paged.
func (m *MemoryStore) ListReviews(titleID string, limit, offset int) ([]domain.Review, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Review, 0)
	for _, r := range m.reviews {
		if r.review.TitleID == titleID {
			matched = append(matched, m.reviewViewLocked(r))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	return page(matched, limit, offset), total, nil
}

// DeleteReview removes a review and its comments.
func (m *MemoryStore) DeleteReview(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteReviewLocked(id)
	return nil
}

// CreateComment inserts a comment on a review.
func (m *MemoryStore) CreateComment(c domain.Comment, authorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.ID] = memComment{comment: c, authorID: authorID}
	return nil
}

// UpdateComment changes the comment text in place.
func (m *MemoryStore) UpdateComment(c domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.comments[c.ID]
	if !ok {
		return nil
	}
	existing.comment.Text = c.Text
	m.comments[c.ID] = existing
	return nil
}

// GetComment retrieves a comment scoped to its parent review.
func (m *MemoryStore) GetComment(reviewID, commentID string) (domain.Comment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[commentID]
	if !ok || c.comment.ReviewID != reviewID {
		return domain.Comment{}, false, nil
	}
	return m.commentViewLocked(c), true, nil
}

// ListComments returns a review's comments, newest first, paged.
func (m *MemoryStore) ListComments(reviewID string, limit, offset int) ([]domain.Comment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Comment, 0)
	for _, c := range m.comments {
		if c.comment.ReviewID == reviewID {
			matched = append(matched, m.commentViewLocked(c))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	return page(matched, limit, offset), total, nil
}

// DeleteComment removes a single comment.
func (m *MemoryStore) DeleteComment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comments, id)
	return nil
}

func (m *MemoryStore) deleteReviewLocked(id string) {
	delete(m.reviews, id)
	for commentID, c := range m.comments {
		if c.comment.ReviewID == id {
			delete(m.comments, commentID)
		}
	}
}

func (m *MemoryStore) titleViewLocked(t memTitle) domain.Title {
	title := t.title
	title.Category = nil
	if c, ok := m.categories[t.categorySlug]; ok {
		category := c
		title.Category = &category
	}
	title.Genres = make([]domain.Genre, 0, len(t.genreSlugs))
	for _, slug := range t.genreSlugs {
		if g, ok := m.genres[slug]; ok {
			title.Genres = append(title.Genres, g)
		}
	}
	title.Rating = nil
	var sum, count int
	for _, r := range m.reviews {
		if r.review.TitleID == t.title.ID {
			sum += r.review.Score
			count++
		}
	}
	if count > 0 {
		rating := float64(sum) / float64(count)
		title.Rating = &rating
	}
	return title
}

func (m *MemoryStore) reviewViewLocked(r memReview) domain.Review {
	review := r.review
	if u, ok := m.users[r.authorID]; ok {
		review.Author = u.Username
	}
	return review
}

func (m *MemoryStore) commentViewLocked(c memComment) domain.Comment {
	comment := c.comment
	if u, ok := m.users[c.authorID]; ok {
		comment.Author = u.Username
	}
	return comment
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsString(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
