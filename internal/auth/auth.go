// Package auth checks credentials for the user and admin views and owns
// the account operations: registration, profile edits and password changes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/badoux/checkmail"
	"golang.org/x/crypto/bcrypt"

	"budgetly/internal/core"
	"budgetly/internal/log"
	"budgetly/internal/store"
)

const MinPasswordLength = 6

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserInactive       = errors.New("account is deactivated")
	ErrInvalidOldPassword = errors.New("invalid old password")
)

// Credentials is the admin username/password pair.
type Credentials struct {
	Username string
	Password string
}

type Service struct {
	users  store.UserStore
	admin  Credentials
	cost   int
	logger *log.Logger
}

type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l.WithComponent(log.ComponentAuth) }
}

func NewService(users store.UserStore, admin Credentials, opts ...Option) *Service {
	s := &Service{
		users:  users,
		admin:  admin,
		cost:   bcrypt.DefaultCost,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AdminLogin compares the pair in constant time.
func (s *Service) AdminLogin(username, password string) error {
	errs := core.FieldErrors{}
	if strings.TrimSpace(username) == "" {
		errs.Add("username", "Please enter the username.")
	}
	if password == "" {
		errs.Add("password", "Please enter the password.")
	}
	if err := errs.Err(); err != nil {
		return err
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(s.admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.admin.Password)) == 1
	if !userOK || !passOK {
		return core.NewFieldError(ErrInvalidCredentials, core.FieldForm, "Incorrect username or password.")
	}
	return nil
}

// Login checks an email/password pair. Unknown email and wrong password
// are reported on their own fields.
func (s *Service) Login(ctx context.Context, email, password string) (core.User, error) {
	email = strings.TrimSpace(email)
	errs := core.FieldErrors{}
	if email == "" {
		errs.Add("email", "Please enter your email.")
	}
	if strings.TrimSpace(password) == "" {
		errs.Add("password", "Please enter your password.")
	}
	if err := errs.Err(); err != nil {
		return core.User{}, err
	}

	u, found, err := s.findByEmail(ctx, email)
	if err != nil {
		return core.User{}, err
	}
	if !found {
		return core.User{}, core.NewFieldError(ErrInvalidCredentials, "email", "This email is not registered.")
	}
	if !passwordMatches(u.Password, password) {
		s.logger.InfoContext(ctx, "Login rejected", log.FieldUserID, u.ID.String(), "reason", "password")
		return core.User{}, core.NewFieldError(ErrInvalidCredentials, "password", "Incorrect password.")
	}
	if !u.IsActive() {
		return core.User{}, core.NewFieldError(ErrUserInactive, core.FieldForm, "This account has been deactivated.")
	}
	return u, nil
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

func (in RegisterInput) Validate() error {
	errs := core.FieldErrors{}
	email := strings.TrimSpace(in.Email)
	switch {
	case email == "":
		errs.Add("email", "Email is required.")
	case checkmail.ValidateFormat(email) != nil:
		errs.Add("email", "Email address is not valid.")
	}
	switch {
	case in.Password == "":
		errs.Add("password", "Password is required.")
	case len(in.Password) < MinPasswordLength:
		errs.Add("password", fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength))
	}
	switch {
	case in.Confirm == "":
		errs.Add("confirm", "Please repeat the password.")
	case in.Confirm != in.Password:
		errs.Add("confirm", "Passwords do not match.")
	}
	return errs.Err()
}

// Register creates an active account after checking the email is free.
// The store enforces no uniqueness, so the check is best effort.
func (s *Service) Register(ctx context.Context, in RegisterInput) (core.User, error) {
	if err := in.Validate(); err != nil {
		return core.User{}, err
	}
	email := strings.TrimSpace(in.Email)
	if _, found, err := s.findByEmail(ctx, email); err != nil {
		return core.User{}, err
	} else if found {
		return core.User{}, core.NewFieldError(ErrEmailTaken, "email", "This email is already registered.")
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return core.User{}, err
	}
	u, err := s.users.CreateUser(ctx, core.User{Email: email, Password: hash, Status: core.Bool(true)})
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, u.ID.String())
	u.Password = ""
	return u, nil
}

// Profile returns the stored user without the password.
func (s *Service) Profile(ctx context.Context, id core.ID) (core.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Password = ""
	return u, nil
}

// ProfileInput holds the editable profile fields.
type ProfileInput struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Gender string `json:"gender"`
}

// UpdateProfile writes name, email, phone and gender with a full PUT,
// keeping the stored password and status.
func (s *Service) UpdateProfile(ctx context.Context, id core.ID, in ProfileInput) (core.User, error) {
	current, err := s.users.GetUser(ctx, id)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	next := current
	next.Name = strings.TrimSpace(in.Name)
	next.Email = strings.TrimSpace(in.Email)
	next.Phone = strings.TrimSpace(in.Phone)
	next.Gender = strings.TrimSpace(in.Gender)
	if err := next.ValidateProfile(); err != nil {
		return core.User{}, err
	}
	if next.Email != current.Email {
		if checkmail.ValidateFormat(next.Email) != nil {
			return core.User{}, core.FieldErrors{"email": "Email address is not valid."}
		}
		if other, found, err := s.findByEmail(ctx, next.Email); err != nil {
			return core.User{}, err
		} else if found && other.ID != id {
			return core.User{}, core.NewFieldError(ErrEmailTaken, "email", "This email is already registered.")
		}
	}
	saved, err := s.users.UpdateUser(ctx, next)
	if err != nil {
		return core.User{}, fmt.Errorf("update user %s: %w", id, err)
	}
	saved.Password = ""
	return saved, nil
}

// PasswordInput is the change-password form.
type PasswordInput struct {
	Old     string `json:"oldPassword"`
	New     string `json:"newPassword"`
	Confirm string `json:"confirm"`
}

// ChangePassword re-fetches the user, checks the old password and stores
// the new hash with a partial update.
func (s *Service) ChangePassword(ctx context.Context, id core.ID, in PasswordInput) error {
	errs := core.FieldErrors{}
	if in.Old == "" {
		errs.Add("oldPassword", "Please enter your current password.")
	}
	if len(in.New) < MinPasswordLength {
		errs.Add("newPassword", fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength))
	}
	if in.Confirm != in.New {
		errs.Add("confirm", "Passwords do not match.")
	}
	if err := errs.Err(); err != nil {
		return err
	}

	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("get user %s: %w", id, err)
	}
	if !passwordMatches(u.Password, in.Old) {
		return core.NewFieldError(ErrInvalidOldPassword, "oldPassword", "Current password is incorrect.")
	}
	hash, err := s.hash(in.New)
	if err != nil {
		return err
	}
	if err := s.users.SetUserPassword(ctx, id, hash); err != nil {
		return fmt.Errorf("set password for user %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Password changed", log.FieldUserID, id.String())
	return nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (core.User, bool, error) {
	page, err := s.users.ListUsers(ctx, store.Query{Filters: map[string]string{"email": email}})
	if err != nil {
		return core.User{}, false, fmt.Errorf("look up email: %w", err)
	}
	for _, u := range page.Items {
		if strings.EqualFold(u.Email, email) {
			return u, true, nil
		}
	}
	return core.User{}, false, nil
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// passwordMatches accepts bcrypt hashes and, for records written before
// hashing was introduced, plain text.
func passwordMatches(stored, given string) bool {
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return stored != "" && subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func isBcrypt(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}
