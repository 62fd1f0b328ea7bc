package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
	MaxFullNameLength = 255
	MaxEmailLength    = 255
)

// Role is the marketplace persona a user signs in as.
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
	RoleGuest    Role = "guest"
)

var roles = []Role{RoleBuyer, RoleSupplier, RoleGuest}

// ParseRole normalises a role string. An empty value defaults to buyer.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return RoleBuyer, nil
	}
	for _, known := range roles {
		if r == known {
			return r, nil
		}
	}
	return "", apperrors.ErrInvalidRole
}

type User struct {
	ID             uuid.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           Role
	AvatarURL      string
	CreatedAt      time.Time
}

// CanChat reports whether the user may open chats and send messages.
// Guests can browse but not talk.
func (u *User) CanChat() bool {
	return u.Role == RoleBuyer || u.Role == RoleSupplier
}

func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) == nil
}

type UserRegistrationParams struct {
	FullName string
	Email    string
	Password string
	Role     string
}

// Validate reports every field problem at once.
func (p *UserRegistrationParams) Validate() error {
	errs := apperrors.NewValidationErrors()

	if msg := checkFullName(p.FullName); msg != "" {
		errs.Add("fullName", msg)
	}
	if msg := checkEmail(p.Email); msg != "" {
		errs.Add("email", msg)
	}
	for _, msg := range ValidatePassword(p.Password) {
		errs.Add("password", msg)
	}
	if _, err := ParseRole(p.Role); err != nil {
		errs.Add("role", "Role must be one of: buyer, supplier, guest")
	}

	if !errs.HasErrors() {
		return nil
	}
	return errs
}

func checkFullName(name string) string {
	switch {
	case name == "":
		return "Full name is required"
	case len(name) > MaxFullNameLength:
		return fmt.Sprintf("Full name must be %d characters or less", MaxFullNameLength)
	}
	return ""
}

func checkEmail(email string) string {
	switch {
	case email == "":
		return "Email is required"
	case len(email) > MaxEmailLength:
		return fmt.Sprintf("Email must be %d characters or less", MaxEmailLength)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "Invalid email format"
	}
	return ""
}

// passwordRules run in order; every failing rule contributes a message.
var passwordRules = []struct {
	ok  func(string) bool
	msg string
}{
	{func(s string) bool { return len(s) >= MinPasswordLength },
		fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength)},
	{func(s string) bool { return len(s) <= MaxPasswordLength },
		fmt.Sprintf("Password must be %d characters or less", MaxPasswordLength)},
	{func(s string) bool { return strings.IndexFunc(s, unicode.IsUpper) >= 0 },
		"Password must contain at least one uppercase letter"},
	{func(s string) bool { return strings.IndexFunc(s, unicode.IsLower) >= 0 },
		"Password must contain at least one lowercase letter"},
	{func(s string) bool { return strings.IndexFunc(s, unicode.IsNumber) >= 0 },
		"Password must contain at least one number"},
}

// ValidatePassword returns the rules the password breaks, or nil.
func ValidatePassword(password string) []string {
	var problems []string
	for _, rule := range passwordRules {
		if !rule.ok(password) {
			problems = append(problems, rule.msg)
		}
	}
	return problems
}

// HashPassword refuses weak passwords before spending bcrypt work on them.
func HashPassword(password string) (string, error) {
	if len(ValidatePassword(password)) > 0 {
		return "", apperrors.ErrPasswordTooWeak
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// NewUser validates params and returns a user ready to persist. The email
// is stored lower-cased.
func NewUser(params UserRegistrationParams) (*User, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	role, err := ParseRole(params.Role)
	if err != nil {
		return nil, err
	}
	hashed, err := HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	return &User{
		ID:             uuid.New(),
		FullName:       params.FullName,
		Email:          strings.ToLower(params.Email),
		HashedPassword: hashed,
		Role:           role,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
