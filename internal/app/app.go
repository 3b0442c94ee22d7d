package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewboard/internal/confirm"
	"reviewboard/internal/mailer"
	"reviewboard/pkg/domain"
	"reviewboard/pkg/store"
)

const (
	// reservedUsername is blocked at signup because /users/me addresses
	// the calling user.
	reservedUsername = "me"

	maxUsernameLength = 150
	maxEmailLength    = 254

	confirmationSubject = "Confirmation of registration"
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	TokenSecret   string
	TokenTTL      time.Duration
	ConfirmSecret string
	ConfirmTTL    time.Duration
	Store         store.Store
	Sessions      store.SessionStore
	Codes         *confirm.Issuer
	Mail          mailer.Mailer
}

// App is the core application service wiring together storage, code
// derivation, token issuance, and notification delivery.
type App struct {
	store    store.Store
	sessions store.SessionStore
	codes    *confirm.Issuer
	mail     mailer.Mailer
}

// New constructs the application with database storage and stateless
// token management.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	sessions := cfg.Sessions
	if sessions == nil {
		var err error
		sessions, err = store.NewJWTSessionStore(cfg.TokenSecret, cfg.TokenTTL, store.JWTOptions{})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
	}
	codes := cfg.Codes
	if codes == nil {
		var err error
		codes, err = confirm.NewIssuer(cfg.ConfirmSecret, cfg.ConfirmTTL)
		if err != nil {
			return nil, fmt.Errorf("init confirmation issuer: %w", err)
		}
	}
	mail := cfg.Mail
	if mail == nil {
		mail = mailer.LogMailer{}
	}
	return &App{
		store:    dataStore,
		sessions: sessions,
		codes:    codes,
		mail:     mail,
	}, nil
}

// Register creates the user for an unseen (username, email) pair, or
// returns the existing record when the exact pair is already known so a
// retrying client can obtain a fresh confirmation code. A username or
// email colliding with a different pair is rejected rather than
// silently merged. Either way a confirmation code is sent out of band.
func (a *App) Register(username, email string) (domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateUsername(username); err != nil {
		return domain.User{}, err
	}
	if err := validateEmail(email); err != nil {
		return domain.User{}, err
	}

	byUsername, usernameTaken, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup username: %w", err)
	}
	if usernameTaken && byUsername.Email == email {
		a.sendConfirmationCode(byUsername)
		return byUsername, nil
	}
	if usernameTaken {
		return domain.User{}, validationErr("username", "user with this username already exists")
	}
	_, emailTaken, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup email: %w", err)
	}
	if emailTaken {
		return domain.User{}, validationErr("email", "user with this email already exists")
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Role:      domain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveUser(user); err != nil {
		// A concurrent registration may have won the race; the unique
		// constraint reports it the same way the pre-check would have.
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, validationErr("username", "user with this username or email already exists")
		}
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	a.sendConfirmationCode(user)
	return user, nil
}

// ExchangeToken validates a confirmation code and mints a bearer token
// asserting the user's identity. Codes are not tracked server-side;
// they stop verifying when they expire or when the user's state
// changes.
func (a *App) ExchangeToken(username, code string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", validationErr("username", "username is required")
	}
	if strings.TrimSpace(code) == "" {
		return "", validationErr("confirmation_code", "confirmation code is required")
	}
	user, found, err := a.store.GetUserByUsername(username)
	if err != nil {
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		return "", notFoundErr("user")
	}
	if !a.codes.Check(user, code) {
		return "", invalidCredentialErr("invalid confirmation code")
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return token, nil
}

// UserFromToken resolves a user from a bearer token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// UserUpdate carries optional changes to a user record. Nil fields are
// left untouched.
type UserUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Bio       *string
	Role      *domain.UserRole
}

// CreateUser registers a user on behalf of an administrator, with an
// explicit role.
func (a *App) CreateUser(username, email string, role domain.UserRole) (domain.User, error) {
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return domain.User{}, validationErr("role", "unknown role %q", role)
	}
	user, err := a.Register(username, email)
	if err != nil {
		return domain.User{}, err
	}
	if user.Role != role {
		user.Role = role
		user.UpdatedAt = time.Now().UTC()
		if err := a.store.SaveUser(user); err != nil {
			return domain.User{}, fmt.Errorf("update role: %w", err)
		}
	}
	return user, nil
}

// GetUser returns a user by username.
func (a *App) GetUser(username string) (domain.User, error) {
	user, found, err := a.store.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		return domain.User{}, notFoundErr("user")
	}
	return user, nil
}

// ListUsers returns users matching an optional username search, paged.
func (a *App) ListUsers(search string, limit, offset int) ([]domain.User, int, error) {
	return a.store.ListUsers(search, normalizeLimit(limit), max(offset, 0))
}

// UpdateUser applies a partial update. Role changes are accepted only
// when asAdmin is set; other callers get role silently ignored to match
// the read-only role contract of the self-service profile.
func (a *App) UpdateUser(username string, update UserUpdate, asAdmin bool) (domain.User, error) {
	user, err := a.GetUser(username)
	if err != nil {
		return domain.User{}, err
	}
	if update.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*update.Email))
		if err := validateEmail(email); err != nil {
			return domain.User{}, err
		}
		if email != user.Email {
			other, taken, err := a.store.GetUserByEmail(email)
			if err != nil {
				return domain.User{}, fmt.Errorf("lookup email: %w", err)
			}
			if taken && other.ID != user.ID {
				return domain.User{}, validationErr("email", "user with this email already exists")
			}
			user.Email = email
		}
	}
	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if update.Bio != nil {
		user.Bio = *update.Bio
	}
	if update.Role != nil && asAdmin {
		if !update.Role.Valid() {
			return domain.User{}, validationErr("role", "unknown role %q", *update.Role)
		}
		user.Role = *update.Role
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, validationErr("email", "user with this email already exists")
		}
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// DeleteUser removes a user; their reviews and comments cascade away.
func (a *App) DeleteUser(username string) error {
	user, err := a.GetUser(username)
	if err != nil {
		return err
	}
	if err := a.store.DeleteUser(user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// sendConfirmationCode derives a code for the user's current state and
// hands it to the notification channel. Delivery failures are logged
// and never retried.
func (a *App) sendConfirmationCode(user domain.User) {
	code := a.codes.Issue(user)
	body := fmt.Sprintf("confirmation_code : %q", code)
	if err := a.mail.Send(user.Email, confirmationSubject, body); err != nil {
		slog.Warn("confirmation email not delivered", "username", user.Username, "err", err)
	}
}

func validateUsername(username string) error {
	if username == "" {
		return validationErr("username", "username is required")
	}
	if username == reservedUsername {
		return validationErr("username", "username %q is reserved", reservedUsername)
	}
	if len(username) > maxUsernameLength {
		return validationErr("username", "username must be at most %d characters", maxUsernameLength)
	}
	if !usernamePattern.MatchString(username) {
		return validationErr("username", "username may contain only letters, digits, and @/./+/-/_")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return validationErr("email", "email is required")
	}
	if len(email) > maxEmailLength {
		return validationErr("email", "email must be at most %d characters", maxEmailLength)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return validationErr("email", "email format is invalid")
	}
	return nil
}

func normalizeLimit(limit int) int {
	const defaultLimit = 20
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
