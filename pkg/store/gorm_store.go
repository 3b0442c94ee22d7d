package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"reviewboard/pkg/domain"
)

const migrateLockID int64 = 48104810

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&CategoryModel{},
			&GenreModel{},
			&TitleModel{},
			&ReviewModel{},
			&CommentModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func translateDuplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "first_name", "last_name", "bio", "role", "superuser", "updated_at"}),
	}).Create(&model).Error
	return translateDuplicate(err)
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns users matching an optional username search, paged.
func (s *GormStore) ListUsers(search string, limit, offset int) ([]domain.User, int, error) {
	query := s.db.Model(&UserModel{})
	if search = strings.TrimSpace(search); search != "" {
		query = query.Where("username ILIKE ?", "%"+search+"%")
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []UserModel
	if err := query.Order("username ASC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	users := make([]domain.User, 0, len(models))
	for _, m := range models {
		users = append(users, userFromModel(m))
	}
	return users, int(total), nil
}

// DeleteUser removes a user. Reviews authored by the user, comments on
// those reviews, and the user's own comments go with it via FK cascade.
func (s *GormStore) DeleteUser(id string) error {
	return s.db.Delete(&UserModel{}, "id = ?", id).Error
}

// SaveCategory stores a category.
func (s *GormStore) SaveCategory(c domain.Category) error {
	model := CategoryModel{Slug: c.Slug, Name: c.Name, CreatedAt: time.Now().UTC()}
	return translateDuplicate(s.db.Create(&model).Error)
}

// GetCategory returns a category by slug.
func (s *GormStore) GetCategory(slug string) (domain.Category, bool, error) {
	var model CategoryModel
	if err := s.db.First(&model, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Category{}, false, nil
		}
		return domain.Category{}, false, err
	}
	return domain.Category{Name: model.Name, Slug: model.Slug}, true, nil
}

// ListCategories returns categories matching an optional name search, paged.
func (s *GormStore) ListCategories(search string, limit, offset int) ([]domain.Category, int, error) {
	query := s.db.Model(&CategoryModel{})
	if search = strings.TrimSpace(search); search != "" {
		query = query.Where("name ILIKE ?", "%"+search+"%")
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []CategoryModel
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	items := make([]domain.Category, 0, len(models))
	for _, m := range models {
		items = append(items, domain.Category{Name: m.Name, Slug: m.Slug})
	}
	return items, int(total), nil
}

// DeleteCategory removes a category. Titles referencing it keep living
// with a null category via the SET NULL constraint.
func (s *GormStore) DeleteCategory(slug string) error {
	return s.db.Delete(&CategoryModel{}, "slug = ?", slug).Error
}

// SaveGenre stores a genre.
func (s *GormStore) SaveGenre(g domain.Genre) error {
	model := GenreModel{Slug: g.Slug, Name: g.Name, CreatedAt: time.Now().UTC()}
	return translateDuplicate(s.db.Create(&model).Error)
}

// GetGenre returns a genre by slug.
func (s *GormStore) GetGenre(slug string) (domain.Genre, bool, error) {
	var model GenreModel
	if err := s.db.First(&model, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Genre{}, false, nil
		}
		return domain.Genre{}, false, err
	}
	return domain.Genre{Name: model.Name, Slug: model.Slug}, true, nil
}

// ListGenres returns genres matching an optional name search, paged.
func (s *GormStore) ListGenres(search string, limit, offset int) ([]domain.Genre, int, error) {
	query := s.db.Model(&GenreModel{})
	if search = strings.TrimSpace(search); search != "" {
		query = query.Where("name ILIKE ?", "%"+search+"%")
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []GenreModel
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	items := make([]domain.Genre, 0, len(models))
	for _, m := range models {
		items = append(items, domain.Genre{Name: m.Name, Slug: m.Slug})
	}
	return items, int(total), nil
}

// DeleteGenre removes a genre and its title associations.
func (s *GormStore) DeleteGenre(slug string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM title_genres WHERE genre_model_slug = ?", slug).Error; err != nil {
			return err
		}
		return tx.Delete(&GenreModel{}, "slug = ?", slug).Error
	})
}

// SaveTitle stores or updates a title and replaces its genre set.
func (s *GormStore) SaveTitle(t domain.Title, categorySlug string, genreSlugs []string) error {
	model := TitleModel{
		ID:          t.ID,
		Name:        t.Name,
		Year:        t.Year,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if slug := strings.TrimSpace(categorySlug); slug != "" {
		model.CategorySlug = &slug
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Genres", "Category").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "year", "description", "category_slug", "updated_at"}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM title_genres WHERE title_model_id = ?", t.ID).Error; err != nil {
			return err
		}
		for _, slug := range genreSlugs {
			if err := tx.Exec(
				"INSERT INTO title_genres (title_model_id, genre_model_slug) VALUES (?, ?)",
				t.ID, slug,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return translateDuplicate(err)
}

// GetTitle retrieves a title with category, genres, and live rating.
func (s *GormStore) GetTitle(id string) (domain.Title, bool, error) {
	var model TitleModel
	if err := s.db.Preload("Category").Preload("Genres").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Title{}, false, nil
		}
		return domain.Title{}, false, err
	}
	ratings, err := s.ratingsFor([]string{id})
	if err != nil {
		return domain.Title{}, false, err
	}
	return titleFromModel(model, ratings), true, nil
}

// ListTitles returns titles matching the filter, paged, each with its
// live rating.
func (s *GormStore) ListTitles(filter TitleFilter, limit, offset int) ([]domain.Title, int, error) {
	query := s.db.Model(&TitleModel{})
	if name := strings.TrimSpace(filter.Name); name != "" {
		query = query.Where("title_models.name ILIKE ?", "%"+name+"%")
	}
	if filter.Year != 0 {
		query = query.Where("title_models.year = ?", filter.Year)
	}
	if slug := strings.TrimSpace(filter.CategorySlug); slug != "" {
		query = query.Where("title_models.category_slug = ?", slug)
	}
	if slug := strings.TrimSpace(filter.GenreSlug); slug != "" {
		query = query.Joins("JOIN title_genres ON title_genres.title_model_id = title_models.id").
			Where("title_genres.genre_model_slug = ?", slug)
	}
	// Count on a detached clone: Distinct would otherwise stick to the
	// builder and clobber the column selection of the Find below.
	var total int64
	if err := query.Session(&gorm.Session{}).Distinct("title_models.id").Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []TitleModel
	if err := query.Preload("Category").Preload("Genres").
		Order("title_models.created_at DESC").
		Limit(limit).Offset(offset).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	ratings, err := s.ratingsFor(ids)
	if err != nil {
		return nil, 0, err
	}
	titles := make([]domain.Title, 0, len(models))
	for _, m := range models {
		titles = append(titles, titleFromModel(m, ratings))
	}
	return titles, int(total), nil
}

// DeleteTitle removes a title. Its reviews and their comments go with it
// via FK cascade.
func (s *GormStore) DeleteTitle(id string) error {
	return s.db.Delete(&TitleModel{}, "id = ?", id).Error
}

// ratingsFor computes the mean review score per title in one grouped
// query. Titles without reviews simply have no entry in the result.
func (s *GormStore) ratingsFor(titleIDs []string) (map[string]float64, error) {
	if len(titleIDs) == 0 {
		return map[string]float64{}, nil
	}
	type ratingRow struct {
		TitleID string
		Rating  float64
	}
	var rows []ratingRow
	if err := s.db.Model(&ReviewModel{}).
		Select("title_id, AVG(score) AS rating").
		Where("title_id IN ?", titleIDs).
		Group("title_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[row.TitleID] = row.Rating
	}
	return out, nil
}

// CreateReview inserts a review. A second review by the same author for
// the same title trips the (author, title) unique index and surfaces as
// ErrConflict.
func (s *GormStore) CreateReview(r domain.Review, authorID string) error {
	model := ReviewModel{
		ID:        r.ID,
		TitleID:   r.TitleID,
		AuthorID:  authorID,
		Score:     r.Score,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
	}
	return translateDuplicate(s.db.Create(&model).Error)
}

// UpdateReview changes text and score. CreatedAt and the (author, title)
// pair are fixed at creation and never touched.
func (s *GormStore) UpdateReview(r domain.Review) error {
	return s.db.Model(&ReviewModel{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{"score": r.Score, "text": r.Text}).Error
}

// GetReview retrieves a review scoped to its parent title.
func (s *GormStore) GetReview(titleID, reviewID string) (domain.Review, bool, error) {
	var model ReviewModel
	if err := s.db.Preload("Author").
		First(&model, "id = ? AND title_id = ?", reviewID, titleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Review{}, false, nil
		}
		return domain.Review{}, false, err
	}
	return reviewFromModel(model), true, nil
}

// HasReview reports whether the author already reviewed the title.
func (s *GormStore) HasReview(authorID, titleID string) (bool, error) {
	var count int64
	if err := s.db.Model(&ReviewModel{}).
		Where("author_id = ? AND title_id = ?", authorID, titleID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListReviews returns a title's reviews, newest first, paged.
func (s *GormStore) ListReviews(titleID string, limit, offset int) ([]domain.Review, int, error) {
	query := s.db.Model(&ReviewModel{}).Where("title_id = ?", titleID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []ReviewModel
	if err := s.db.Preload("Author").
		Where("title_id = ?", titleID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	reviews := make([]domain.Review, 0, len(models))
	for _, m := range models {
		reviews = append(reviews, reviewFromModel(m))
	}
	return reviews, int(total), nil
}

// DeleteReview removes a review and, via FK cascade, its comments.
func (s *GormStore) DeleteReview(id string) error {
	return s.db.Delete(&ReviewModel{}, "id = ?", id).Error
}

// CreateComment inserts a comment on a review.
func (s *GormStore) CreateComment(c domain.Comment, authorID string) error {
	model := CommentModel{
		ID:        c.ID,
		ReviewID:  c.ReviewID,
		AuthorID:  authorID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
	return translateDuplicate(s.db.Create(&model).Error)
}

// UpdateComment changes the comment text.
func (s *GormStore) UpdateComment(c domain.Comment) error {
	return s.db.Model(&CommentModel{}).
		Where("id = ?", c.ID).
		Update("text", c.Text).Error
}

// GetComment retrieves a comment scoped to its parent review.
func (s *GormStore) GetComment(reviewID, commentID string) (domain.Comment, bool, error) {
	var model CommentModel
	if err := s.db.Preload("Author").
		First(&model, "id = ? AND review_id = ?", commentID, reviewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Comment{}, false, nil
		}
		return domain.Comment{}, false, err
	}
	return commentFromModel(model), true, nil
}

// ListComments returns a review's comments, newest first, paged.
func (s *GormStore) ListComments(reviewID string, limit, offset int) ([]domain.Comment, int, error) {
	query := s.db.Model(&CommentModel{}).Where("review_id = ?", reviewID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []CommentModel
	if err := s.db.Preload("Author").
		Where("review_id = ?", reviewID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	comments := make([]domain.Comment, 0, len(models))
	for _, m := range models {
		comments = append(comments, commentFromModel(m))
	}
	return comments, int(total), nil
}

// DeleteComment removes a single comment.
func (s *GormStore) DeleteComment(id string) error {
	return s.db.Delete(&CommentModel{}, "id = ?", id).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Bio:       u.Bio,
		Role:      string(u.Role),
		Superuser: u.Superuser,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if !role.Valid() {
		role = domain.RoleUser
	}
	return domain.User{
		ID:        m.ID,
		Username:  m.Username,
		Email:     m.Email,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Bio:       m.Bio,
		Role:      role,
		Superuser: m.Superuser,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func titleFromModel(m TitleModel, ratings map[string]float64) domain.Title {
	title := domain.Title{
		ID:          m.ID,
		Name:        m.Name,
		Year:        m.Year,
		Description: m.Description,
		Genres:      make([]domain.Genre, 0, len(m.Genres)),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.Category != nil {
		title.Category = &domain.Category{Name: m.Category.Name, Slug: m.Category.Slug}
	}
	for _, g := range m.Genres {
		title.Genres = append(title.Genres, domain.Genre{Name: g.Name, Slug: g.Slug})
	}
	if rating, ok := ratings[m.ID]; ok {
		title.Rating = &rating
	}
	return title
}

func reviewFromModel(m ReviewModel) domain.Review {
	review := domain.Review{
		ID:        m.ID,
		TitleID:   m.TitleID,
		Score:     m.Score,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
	if m.Author != nil {
		review.Author = m.Author.Username
	}
	return review
}

func commentFromModel(m CommentModel) domain.Comment {
	comment := domain.Comment{
		ID:        m.ID,
		ReviewID:  m.ReviewID,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
	if m.Author != nil {
		comment.Author = m.Author.Username
	}
	return comment
}
