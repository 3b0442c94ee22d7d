package domain

import "time"

type UserRole string

const (
	RoleUser      UserRole = "user"
	RoleModerator UserRole = "moderator"
	RoleAdmin     UserRole = "admin"
)

var roleRank = map[UserRole]int{
	RoleUser:      0,
	RoleModerator: 1,
	RoleAdmin:     2,
}

// AtLeast reports whether the role carries at least the privilege of other.
// Unknown roles rank below every known role.
func (r UserRole) AtLeast(other UserRole) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	return rank >= roleRank[other]
}

// Valid reports whether the role is one of the closed set of variants.
func (r UserRole) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

type User struct {
	ID        string    `json:"-"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Bio       string    `json:"bio"`
	Role      UserRole  `json:"role"`
	Superuser bool      `json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u User) IsModerator() bool {
	return u.Role == RoleModerator
}

type Category struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Genre struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Title is a reviewable work. Rating is the live arithmetic mean of the
// title's review scores and is nil while the title has no reviews; it is
// computed on read and never stored.
type Title struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Year        int       `json:"year"`
	Description string    `json:"description"`
	Category    *Category `json:"category"`
	Genres      []Genre   `json:"genre"`
	Rating      *float64  `json:"rating"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// Review holds one user's verdict on a title. At most one review may
// exist per (author, title) pair. CreatedAt is immutable once set.
type Review struct {
	ID        string    `json:"id"`
	TitleID   string    `json:"-"`
	Author    string    `json:"author"`
	Score     int       `json:"score"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"pub_date"`
}

type Comment struct {
	ID        string    `json:"id"`
	ReviewID  string    `json:"-"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"pub_date"`
}

// OwnedBy returns the review author's username for object-level
// authorization checks.
func (r Review) OwnedBy() string { return r.Author }

// OwnedBy returns the comment author's username for object-level
// authorization checks.
func (c Comment) OwnedBy() string { return c.Author }
