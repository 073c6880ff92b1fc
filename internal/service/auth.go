// AuthService is the business logic layer for authentication. It sits between
// the HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT)
//	                   ↘ PasswordService (bcrypt)
//
// KEY RESPONSIBILITIES:
//   - Register and log in password accounts
//   - Orchestrate the GitHub OAuth callback
//   - Issue tokens; the handler decides how they travel (cookie + body)

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sakif/scene-capture/internal/apperror"
	"github.com/sakif/scene-capture/internal/auth"
	"github.com/sakif/scene-capture/internal/model"
	"github.com/sakif/scene-capture/internal/repository"
)

// maxUsernameAttempts bounds the search for a free username when a GitHub
// login collides with an existing account.
const maxUsernameAttempts = 20

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → generate/validate JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report the JSON name ("email") instead of the Go name ("Email") so
	// error bodies point at the field the client actually sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		validate:  v,
		logger:    logger,
	}
}

// AuthResult is returned by authentication operations.
// It bundles the user record and the issued JWT together so the caller
// (the HTTP handler) can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// RegisterInput is what a new account needs. The struct tags drive
// validator/v10; Register normalises the values before validating.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8"`
}

// Register creates a password account and logs it in.
//
// NORMALISATION:
// Emails are trimmed and lowercased, usernames trimmed. Passwords are used
// exactly as given.
//
// Returns InvalidInput for missing or malformed fields and Conflict when the
// email or username is already taken.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)

	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.Internal("hashing password", err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, s.userStoreError("creating user", err)
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID.String()),
		slog.String("username", user.Username),
	)
	return s.issue(user)
}

// Login checks an email/password pair.
//
// ONE ERROR FOR EVERY BAD CREDENTIAL:
// Unknown email, wrong password, and GitHub-only account (no password) all
// return the same Unauthenticated "invalid credentials". The unknown-email
// path still runs a bcrypt comparison so it takes as long as the others.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			s.passwords.BurnTime(password)
			return nil, errInvalidCredentials()
		}
		return nil, s.userStoreError("looking up user", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) || errors.Is(err, auth.ErrNoPassword) {
			s.logger.Info("login failed", slog.String("user_id", user.ID.String()))
			return nil, errInvalidCredentials()
		}
		return nil, apperror.Internal("verifying password", err)
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID.String()))
	return s.issue(user)
}

// CurrentUser returns the account behind an already-authenticated identity.
// A token can outlive its account; that case is NotFound.
func (s *AuthService) CurrentUser(ctx context.Context, id model.UserID) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthenticated("authentication required")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, s.userStoreError("fetching user", err)
	}
	return user, nil
}

// LoginOrRegisterGitHub handles the GitHub OAuth callback.
//
// After the handler exchanges the GitHub code for a GitHubUser profile:
//
//  1. An account already linked to this GitHub id → log it in
//  2. Otherwise create one: username from the GitHub login (suffixed if
//     taken), email from GitHub or a noreply fallback, no password
//  3. Issue a JWT for the account
//
// An email that already belongs to a password account is a Conflict. We
// never link accounts silently on email alone.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, apperror.Internal("github login", errors.New("GitHub user must not be nil"))
	}

	existing, err := s.users.GetUserByGitHubID(ctx, ghUser.ID)
	switch {
	case err == nil:
		s.logger.Info("user authenticated via GitHub",
			slog.String("user_id", existing.ID.String()),
			slog.Int64("github_id", ghUser.ID),
		)
		return s.issue(existing)
	case apperror.KindOf(err) != apperror.KindNotFound:
		return nil, s.userStoreError("looking up GitHub user", err)
	}

	username, err := s.freeUsername(ctx, ghUser.Login)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(ghUser.Email))
	if email == "" {
		email = strings.ToLower(ghUser.Login) + "@users.noreply.github.com"
	}

	githubID := ghUser.ID
	user := &model.User{
		Username: username,
		Email:    email,
		GitHubID: &githubID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, s.userStoreError("creating GitHub user", err)
	}

	s.logger.Info("user registered via GitHub",
		slog.String("user_id", user.ID.String()),
		slog.Int64("github_id", ghUser.ID),
	)
	return s.issue(user)
}

// ValidateToken validates a JWT string and returns the user it names.
//
// A thin delegation to TokenService.Validate, reported as Unauthenticated.
func (s *AuthService) ValidateToken(tokenStr string) (model.UserID, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", &apperror.AppError{
			Err:     fmt.Errorf("%w: %w", apperror.ErrUnauthenticated, err),
			Message: "invalid or expired token",
		}
	}
	return userID, nil
}

// TokenTTL is how long issued tokens stay valid; the handler uses it as the
// cookie lifetime.
func (s *AuthService) TokenTTL() int {
	return int(s.tokens.TTL().Seconds())
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, apperror.Internal("generating token", err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// freeUsername returns login, or login-2, login-3, ... whichever is unused.
func (s *AuthService) freeUsername(ctx context.Context, login string) (string, error) {
	base := strings.TrimSpace(login)
	if base == "" {
		base = "github-user"
	}
	for i := 1; i <= maxUsernameAttempts; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := s.users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", s.userStoreError("checking username", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apperror.Conflict("user", "username")
}

// userStoreError mirrors SceneService.storeError for the user store.
func (s *AuthService) userStoreError(op string, err error) error {
	if apperror.KindOf(err) != apperror.KindInternal {
		return err
	}
	s.logger.Error("user store failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return apperror.Internal(op, err)
}

func errInvalidCredentials() error {
	return apperror.Unauthenticated("invalid credentials")
}

// validationError turns the first validator failure into an InvalidInput
// error naming the field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.ValidationFailed("", "invalid input")
	}

	fe := verrs[0]
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "email":
		msg = field + " must be a valid email address"
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		msg = field + " is invalid"
	}
	return apperror.ValidationFailed(field, msg)
}
