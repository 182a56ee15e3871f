package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/repomanager"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RegisterRequest is the input of AuthService.Register.
type RegisterRequest struct {
	UserName string `validate:"required,alphanum,min=3,max=64"`
	FullName string `validate:"max=128"`
	Password string `validate:"required,min=8,max=256"`
	Role     string `validate:"required,oneof=worker doctor admin"`
}

// Session is a signed-in user: a session id, its tokens and the profile.
type Session struct {
	ID      string
	Tokens  *auth.TokenPair
	Profile auth.Profile
}

// AuthService registers accounts, signs users in and out and authorizes
// their requests.
type AuthService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	authority   *auth.Authority
	sessions    auth.SessionStore
	auditor     AuditLogger
	validate    *validator.Validate
	guard       auth.RouteGuard
	log         logging.Logger

	// dummy credentials verified when the user does not exist so both
	// branches cost one PBKDF2 run
	dummy cryptox.PasswordHash
}

func NewAuthService(db dbx.DBTX, rm repomanager.RepositoryManager, authority *auth.Authority,
	sessions auth.SessionStore, auditor AuditLogger, log logging.Logger) (*AuthService, error) {
	if log == nil {
		log = logging.Discard()
	}
	dummy, err := cryptox.HashPassword("medkeeper-dummy-password", "")
	if err != nil {
		return nil, err
	}
	return &AuthService{
		db:          db,
		repomanager: rm,
		authority:   authority,
		sessions:    sessions,
		auditor:     auditor,
		validate:    validator.New(),
		log:         log.With("component", "auth_service"),
		dummy:       dummy,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrorValidation, describeValidation(err))
	}

	repo := s.repomanager.Users(s.db)
	if _, err := repo.GetByUserName(ctx, req.UserName); err == nil {
		return nil, fmt.Errorf("%w: user name %q is taken", common.ErrorValidation, req.UserName)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}

	ph, err := cryptox.HashPassword(req.Password, "")
	if err != nil {
		return nil, err
	}

	created, err := repo.Create(ctx, &models.User{
		ID:           uuid.NewString(),
		UserName:     req.UserName,
		FullName:     req.FullName,
		Role:         req.Role,
		PasswordHash: ph.Hash,
		PasswordSalt: ph.Salt,
		Active:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	u, err := toAuthUser(created)
	if err != nil {
		return nil, err
	}
	sess, err := s.startSession(ctx, u)
	if err != nil {
		return nil, err
	}

	ctx = audit.WithSessionID(ctx, sess.ID)
	_, err = s.auditor.LogAccess(ctx, "user_registration", u.ID, string(u.Role), map[string]any{"user_name": req.UserName})
	recordAudit(ctx, s.log, err, "user_registration")
	return sess, nil
}

// Login checks the password and opens a session. Unknown user and wrong
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, userName, password string) (*Session, error) {
	repo := s.repomanager.Users(s.db)
	mu, err := repo.GetByUserName(ctx, userName)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}

	if mu == nil {
		cryptox.VerifyPassword(password, s.dummy.Hash, s.dummy.Salt)
		s.loginFailed(ctx, "", userName, "unknown_user")
		return nil, common.ErrorUnauthorized
	}
	if !cryptox.VerifyPassword(password, mu.PasswordHash, mu.PasswordSalt) {
		s.loginFailed(ctx, mu.ID, userName, "bad_password")
		return nil, common.ErrorUnauthorized
	}
	if !mu.Active {
		s.loginFailed(ctx, mu.ID, userName, "inactive")
		return nil, common.ErrUserInactive
	}

	u, err := toAuthUser(mu)
	if err != nil {
		return nil, err
	}
	sess, err := s.startSession(ctx, u)
	if err != nil {
		return nil, err
	}

	ctx = audit.WithSessionID(ctx, sess.ID)
	_, err = s.auditor.LogAccess(ctx, "login_success", u.ID, string(u.Role), nil)
	recordAudit(ctx, s.log, err, "login_success")
	return sess, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID, userName, reason string) {
	_, err := s.auditor.LogAccess(ctx, "login_failed", userID, "anonymous", map[string]any{
		"user_name": userName,
		"reason":    reason,
	})
	recordAudit(ctx, s.log, err, "login_failed")
}

func (s *AuthService) startSession(ctx context.Context, u *auth.User) (*Session, error) {
	pair, err := s.authority.IssueTokens(u)
	if err != nil {
		return nil, err
	}
	id, err := cryptox.GenerateSecureID("sess")
	if err != nil {
		return nil, err
	}

	sess := &Session{ID: id, Tokens: pair, Profile: auth.ProfileOf(u)}
	if err := s.sessions.SaveTokens(ctx, id, pair); err != nil {
		return nil, fmt.Errorf("save session tokens: %w", err)
	}
	if err := s.sessions.SaveProfile(ctx, id, sess.Profile); err != nil {
		return nil, fmt.Errorf("save session profile: %w", err)
	}
	return sess, nil
}

// Refresh exchanges the refresh token for a new pair and, when sessionID is
// set, stores the new pair and the re-derived profile under it.
func (s *AuthService) Refresh(ctx context.Context, sessionID, refreshToken string) (*auth.TokenPair, error) {
	ctx = audit.WithSessionID(ctx, sessionID)

	pair, err := s.authority.Refresh(ctx, refreshToken, s)
	if err != nil {
		_, aerr := s.auditor.LogAccess(ctx, "token_refresh_failed", "", "anonymous", map[string]any{"reason": err.Error()})
		recordAudit(ctx, s.log, aerr, "token_refresh_failed")
		if errors.Is(err, common.ErrTokenInvalid) || errors.Is(err, common.ErrUserInactive) {
			return nil, err
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}

	claims := s.authority.VerifyToken(pair.AccessToken)
	if claims == nil {
		return nil, common.ErrorInternal
	}
	if sessionID != "" {
		if err := s.ownsSession(ctx, claims.Subject, string(claims.Role), sessionID); err != nil {
			return nil, err
		}
		if err := s.sessions.SaveTokens(ctx, sessionID, pair); err != nil {
			return nil, fmt.Errorf("save session tokens: %w", err)
		}
		if u, err := s.LookupUser(ctx, claims.Subject); err == nil {
			if err := s.sessions.SaveProfile(ctx, sessionID, auth.ProfileOf(u)); err != nil {
				return nil, fmt.Errorf("save session profile: %w", err)
			}
		}
	}

	_, err = s.auditor.LogAccess(ctx, "token_refresh", claims.Subject, string(claims.Role), nil)
	recordAudit(ctx, s.log, err, "token_refresh")
	return pair, nil
}

// ownsSession fails when sessionID holds the profile of a user other than
// subject. An unknown or expired session belongs to nobody.
func (s *AuthService) ownsSession(ctx context.Context, subject, role, sessionID string) error {
	p, err := s.sessions.Profile(ctx, sessionID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session profile: %w", err)
	}
	if p.ID != subject {
		s.denied(ctx, subject, role, "session:"+sessionID, nil)
		return fmt.Errorf("%w: session belongs to another user", common.ErrInsufficientPermission)
	}
	return nil
}

// Logout drops the caller's session tokens and profile. Tokens already
// handed out stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, actor *auth.Claims, sessionID string) error {
	ctx = audit.WithSessionID(ctx, sessionID)
	if actor == nil {
		return common.ErrTokenInvalid
	}
	if err := s.ownsSession(ctx, actor.Subject, string(actor.Role), sessionID); err != nil {
		return err
	}
	if err := s.sessions.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	_, err := s.auditor.LogAccess(ctx, "logout", actor.Subject, string(actor.Role), nil)
	recordAudit(ctx, s.log, err, "logout")
	return nil
}

// Authorize lets claims through when they hold any of required. A denial is
// audited as unauthorized_access_attempt.
func (s *AuthService) Authorize(ctx context.Context, claims *auth.Claims, resource string, required ...auth.Permission) error {
	if claims == nil {
		s.denied(ctx, "", "anonymous", resource, required)
		return common.ErrTokenInvalid
	}
	if s.guard.CanAccess(required, claims.Role, claims.Permissions...) {
		return nil
	}
	s.denied(ctx, claims.Subject, string(claims.Role), resource, required)
	return common.ErrInsufficientPermission
}

func (s *AuthService) denied(ctx context.Context, subject, role, resource string, required []auth.Permission) {
	perms := make([]string, len(required))
	for i, p := range required {
		perms[i] = string(p)
	}
	_, err := s.auditor.LogAccess(ctx, "unauthorized_access_attempt", resource, role, map[string]any{
		"actor_id": subject,
		"required": perms,
	})
	recordAudit(ctx, s.log, err, "unauthorized_access_attempt")
}

// LookupUser implements auth.UserLookup over the users repository.
func (s *AuthService) LookupUser(ctx context.Context, id string) (*auth.User, error) {
	mu, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toAuthUser(mu)
}

// manageTarget checks that actor may administer userID and, when newRole is
// set, move it to newRole. Accounts that are or become doctors need
// manage:doctors, admins can only be managed by admins, and nobody manages
// their own account.
func (s *AuthService) manageTarget(ctx context.Context, actor *auth.Claims, userID string, newRole auth.Role) error {
	if actor == nil {
		return s.Authorize(ctx, nil, userID, auth.PermManageWorkers)
	}
	if actor.Subject == userID {
		s.denied(ctx, actor.Subject, string(actor.Role), userID, nil)
		return fmt.Errorf("%w: own account", common.ErrInsufficientPermission)
	}
	if newRole != "" && !newRole.Valid() {
		return fmt.Errorf("%w: unknown role %q", common.ErrorValidation, newRole)
	}

	target, err := s.LookupUser(ctx, userID)
	if err != nil {
		return err
	}

	if target.Role == auth.RoleAdmin || newRole == auth.RoleAdmin {
		if actor.Role != auth.RoleAdmin {
			s.denied(ctx, actor.Subject, string(actor.Role), userID, nil)
			return common.ErrInsufficientPermission
		}
		return nil
	}

	required := auth.PermManageWorkers
	if target.Role != auth.RoleWorker || (newRole != "" && newRole != auth.RoleWorker) {
		required = auth.PermManageDoctors
	}
	return s.Authorize(ctx, actor, userID, required)
}

func holds(c *auth.Claims, p auth.Permission) bool {
	return auth.HasPermission(c.Role, p) || slices.Contains(c.Permissions, p)
}

// ChangeRole replaces the role and custom grants of userID. The actor can
// only grant permissions it holds itself. The change reaches the user's
// tokens on their next refresh.
func (s *AuthService) ChangeRole(ctx context.Context, actor *auth.Claims, userID string, role auth.Role, custom []auth.Permission) error {
	if role == "" {
		return fmt.Errorf("%w: role is required", common.ErrorValidation)
	}
	if err := s.manageTarget(ctx, actor, userID, role); err != nil {
		return err
	}

	perms := make([]string, 0, len(custom))
	for _, p := range custom {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown permission %q", common.ErrorValidation, p)
		}
		if !holds(actor, p) {
			s.denied(ctx, actor.Subject, string(actor.Role), userID, []auth.Permission{p})
			return fmt.Errorf("%w: cannot grant %s", common.ErrInsufficientPermission, p)
		}
		perms = append(perms, string(p))
	}
	if err := s.repomanager.Users(s.db).UpdateRole(ctx, userID, string(role), perms); err != nil {
		return fmt.Errorf("error updating role: %w", err)
	}

	_, err := s.auditor.LogAccess(ctx, "user_role_update", userID, string(actor.Role), map[string]any{
		"actor_id": actor.Subject,
		"new_role": string(role),
		"granted":  perms,
	})
	recordAudit(ctx, s.log, err, "user_role_update")
	return nil
}

// SetActive enables or disables an account. A disabled account cannot log
// in or refresh.
func (s *AuthService) SetActive(ctx context.Context, actor *auth.Claims, userID string, active bool) error {
	if err := s.manageTarget(ctx, actor, userID, ""); err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).SetActive(ctx, userID, active); err != nil {
		return fmt.Errorf("error updating account: %w", err)
	}

	action := "user_account_update"
	if !active {
		action = "user_account_remove"
	}
	_, err := s.auditor.LogAccess(ctx, action, userID, string(actor.Role), map[string]any{"actor_id": actor.Subject})
	recordAudit(ctx, s.log, err, action)
	return nil
}

func toAuthUser(m *models.User) (*auth.User, error) {
	role, err := auth.ParseRole(m.Role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", m.ID, err)
	}
	custom, err := auth.ParsePermissions(m.CustomPermissions)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", m.ID, err)
	}
	name := m.FullName
	if name == "" {
		name = m.UserName
	}
	return &auth.User{ID: m.ID, Name: name, Role: role, CustomPermissions: custom, Active: m.Active}, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
