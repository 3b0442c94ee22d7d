package store

import "time"

// GORM models used for persistence. Uniqueness and referential rules
// live here so concurrent writers are serialized by the database, not by
// application pre-checks.
type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	Username  string    `gorm:"uniqueIndex;uniqueIndex:idx_username_email;not null"`
	Email     string    `gorm:"uniqueIndex;uniqueIndex:idx_username_email;not null"`
	FirstName string
	LastName  string
	Bio       string
	Role      string    `gorm:"not null"`
	Superuser bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type CategoryModel struct {
	Slug      string    `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type GenreModel struct {
	Slug      string    `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type TitleModel struct {
	ID           string         `gorm:"primaryKey"`
	Name         string         `gorm:"uniqueIndex;not null"`
	Year         int            `gorm:"not null"`
	Description  string
	CategorySlug *string        `gorm:"index"`
	Category     *CategoryModel `gorm:"foreignKey:CategorySlug;references:Slug;constraint:OnDelete:SET NULL"`
	Genres       []GenreModel   `gorm:"many2many:title_genres;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time
}

type ReviewModel struct {
	ID        string      `gorm:"primaryKey"`
	TitleID   string      `gorm:"not null;uniqueIndex:idx_author_title;index"`
	Title     *TitleModel `gorm:"foreignKey:TitleID;constraint:OnDelete:CASCADE"`
	AuthorID  string      `gorm:"not null;uniqueIndex:idx_author_title;index"`
	Author    *UserModel  `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
	Score     int         `gorm:"not null"`
	Text      string      `gorm:"type:text;not null"`
	CreatedAt time.Time   `gorm:"not null;index"`
}

type CommentModel struct {
	ID        string       `gorm:"primaryKey"`
	ReviewID  string       `gorm:"not null;index"`
	Review    *ReviewModel `gorm:"foreignKey:ReviewID;constraint:OnDelete:CASCADE"`
	AuthorID  string       `gorm:"not null;index"`
	Author    *UserModel   `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
	Text      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;index"`
}
