// Package errors holds the marketplace's domain errors. Each sentinel knows
// its Kind, a stable machine code and a message that is safe to show users;
// transports map Kind to their own status codes.
package errors

import (
	"errors"
	"fmt"
)

// Kind groups domain errors by how a transport should answer them.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTooLarge
	KindUnsupportedMedia
	KindRateLimited
)

// Error is a domain sentinel. Compare with errors.Is.
type Error struct {
	kind   Kind
	code   string
	msg    string
	public string
}

func (e *Error) Error() string { return e.msg }

// Kind reports the error's group.
func (e *Error) Kind() Kind { return e.kind }

// Code is the machine-readable code sent in error bodies.
func (e *Error) Code() string { return e.code }

// Public is the user-facing message.
func (e *Error) Public() string { return e.public }

func define(kind Kind, code, msg, public string) *Error {
	return &Error{kind: kind, code: code, msg: msg, public: public}
}

// invalid errors use their own text as the public message.
func invalid(msg, public string) *Error { return define(KindInvalid, "VALIDATION_ERROR", msg, public) }

var (
	// Accounts and sessions
	ErrInvalidCredentials = define(KindUnauthorized, "INVALID_CREDENTIALS", "invalid credentials", "Invalid email or password")
	ErrUnauthorized       = define(KindUnauthorized, "UNAUTHORIZED", "unauthorized", "Authentication required")
	ErrForbidden          = define(KindForbidden, "FORBIDDEN", "action forbidden", "You do not have permission to perform this action")
	ErrUserExists         = define(KindConflict, "USER_EXISTS", "user already exists", "A user with this email already exists")
	ErrUserNotFound       = define(KindNotFound, "USER_NOT_FOUND", "user not found", "User not found")

	ErrEmailRequired    = invalid("email is required", "Email is required")
	ErrPasswordTooWeak  = invalid("password does not meet security requirements", "Password does not meet security requirements")
	ErrPasswordRequired = invalid("password is required", "Password is required")
	ErrInvalidRole      = invalid("invalid user role", "Role must be buyer, supplier or guest")

	// Notifications
	ErrNotificationNotFound = define(KindNotFound, "NOTIFICATION_NOT_FOUND", "notification not found", "Notification not found")
	ErrInvalidEntityType    = invalid("invalid related entity type", "Unknown related entity type")
	ErrRecipientRequired    = invalid("recipient ID is required", "Recipient is required")
	ErrTitleRequired        = invalid("title is required", "Title is required")

	// Chats
	ErrChatNotFound         = define(KindNotFound, "CHAT_NOT_FOUND", "chat not found", "Chat not found")
	ErrNotParticipant       = define(KindForbidden, "NOT_PARTICIPANT", "user is not a participant of this chat", "You are not a participant of this chat")
	ErrGuestCannotChat      = define(KindForbidden, "GUEST_CANNOT_CHAT", "guest accounts cannot use chat", "Guest accounts cannot use chat")
	ErrSelfChat             = invalid("cannot open a chat with yourself", "You cannot open a chat with yourself")
	ErrMessageEmpty         = invalid("message must contain text or an image", "Message must contain text or an image")
	ErrMessageTooLong       = invalid("message text exceeds maximum length", "Message is too long")
	ErrImageTooLarge        = define(KindTooLarge, "IMAGE_TOO_LARGE", "image exceeds maximum upload size", "Image must be 5 MB or smaller")
	ErrUnsupportedImageType = define(KindUnsupportedMedia, "UNSUPPORTED_IMAGE_TYPE", "unsupported image type", "Only PNG, JPEG and WebP images are allowed")

	// Storage
	ErrObjectNotFound = define(KindNotFound, "NOT_FOUND", "object not found", "Resource not found")
	ErrObjectExists   = define(KindConflict, "CONFLICT", "object already exists", "Resource conflict")

	// Generic
	ErrNotFound    = define(KindNotFound, "NOT_FOUND", "resource not found", "Resource not found")
	ErrConflict    = define(KindConflict, "CONFLICT", "resource conflict", "Resource conflict")
	ErrBadRequest  = define(KindInvalid, "BAD_REQUEST", "bad request", "Bad request")
	ErrRateLimited = define(KindRateLimited, "RATE_LIMITED", "rate limit exceeded", "Too many requests. Please try again later.")
	ErrInternal    = define(KindInternal, "INTERNAL_ERROR", "internal server error", GenericMessage)
)

// GenericMessage is shown for anything that is not a known domain error.
const GenericMessage = "An unexpected error occurred"

// Describe finds the first domain sentinel in err's chain. Unknown errors
// describe as ErrInternal, so their text never reaches users.
func Describe(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}

// PublicMessage is Describe(err).Public().
func PublicMessage(err error) string {
	return Describe(err).Public()
}

// AppError attaches an explicit response to an error, overriding Describe.
type AppError struct {
	Err        error
	Message    string
	Code       string
	StatusCode int
	Details    map[string]any
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// NewBadRequestError reports a malformed request, e.g. an undecodable body.
func NewBadRequestError(err error, message string) *AppError {
	return &AppError{Err: err, Message: message, Code: "BAD_REQUEST", StatusCode: 400}
}

func NewValidationError(err error, message string, details map[string]any) *AppError {
	return &AppError{Err: err, Message: message, Code: "VALIDATION_ERROR", StatusCode: 422, Details: details}
}

// ValidationErrors collects per-field messages.
type ValidationErrors struct {
	Errors map[string][]string `json:"errors"`
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make(map[string][]string)}
}

func (v *ValidationErrors) Add(field, message string) {
	v.Errors[field] = append(v.Errors[field], message)
}

func (v *ValidationErrors) HasErrors() bool { return len(v.Errors) > 0 }

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) have errors", len(v.Errors))
}
