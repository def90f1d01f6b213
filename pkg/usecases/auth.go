package usecases

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/notify"
	"github.com/pnocera/accounts/pkg/security"
	"github.com/pnocera/accounts/pkg/users"
)

// LoginRequest holds the credentials of a password login
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=5,max=100"`
}

type loginUseCase struct{ *Dependencies }

func (uc *loginUseCase) Handle(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := uc.Store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, storeError("failed to load user", err)
	}
	if user == nil {
		uc.Passwords.VerifyMissing(req.Password)
		return nil, apperrors.NewInvalidCredentialsError()
	}
	if !uc.Passwords.Verify(user.Password, req.Password) || !user.Active {
		return nil, apperrors.NewInvalidCredentialsError()
	}

	token, _, err := uc.Tokens.Issue(security.NewSessionUser(user, false))
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to issue token", err)
	}
	if err := uc.record(ctx, uc.Store, user, user.ID, users.EventLoggedIn); err != nil {
		return nil, err
	}
	return &TokenResponse{Token: token}, nil
}

// SignupRequest registers a new account and logs it in
type SignupRequest struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	Avatar   *string `json:"avatar"`
	Cover    *string `json:"cover"`
}

type signupUseCase struct{ *Dependencies }

func (uc *signupUseCase) Handle(ctx context.Context, req *SignupRequest) (*TokenResponse, error) {
	create := &createUserUseCase{uc.Dependencies}
	_, err := create.Handle(ctx, &CreateUserRequest{
		Operator:  uc.Config.API.SystemUser,
		EventName: users.EventSignedUp,
		Name:      req.Name,
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		Avatar:    req.Avatar,
		Cover:     req.Cover,
	})
	if err != nil {
		return nil, err
	}

	login := &loginUseCase{uc.Dependencies}
	return login.Handle(ctx, &LoginRequest{Username: req.Username, Password: req.Password})
}

// LogoutRequest revokes the session token identified by TokenID
type LogoutRequest struct {
	Username  string    `json:"username" validate:"required"`
	TokenID   string    `json:"tokenId" validate:"required"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LogoutResponse confirms a logout
type LogoutResponse struct {
	LoggedOut bool `json:"loggedOut"`
}

type logoutUseCase struct{ *Dependencies }

func (uc *logoutUseCase) Handle(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	until := req.ExpiresAt
	if until.IsZero() {
		until = uc.now().Add(uc.Config.API.Auth.Token.Expiration)
	}
	if err := uc.Revocation.Revoke(ctx, req.TokenID, until); err != nil {
		return nil, apperrors.NewServiceUnavailableError("revocation", err)
	}

	user, err := requireUser(ctx, uc.Store, req.Username)
	if err != nil {
		return nil, err
	}
	if err := uc.record(ctx, uc.Store, user, user.ID, users.EventLoggedOut); err != nil {
		return nil, err
	}
	return &LogoutResponse{LoggedOut: true}, nil
}

// recoveryPayload is the plaintext of a password recovery token
type recoveryPayload struct {
	Username string `json:"username"`
	Moment   int64  `json:"moment"` // expiry, unix milliseconds
}

// RequestPasswordRecoveryRequest asks for a recovery link
type RequestPasswordRecoveryRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
}

// RequestPasswordRecoveryResponse is intentionally empty
type RequestPasswordRecoveryResponse struct{}

type requestPasswordRecoveryUseCase struct{ *Dependencies }

func (uc *requestPasswordRecoveryUseCase) Handle(ctx context.Context, req *RequestPasswordRecoveryRequest) (*RequestPasswordRecoveryResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := uc.Store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, storeError("failed to load user", err)
	}
	// unknown and inactive accounts get the same answer as real ones
	if user == nil || !user.Active {
		uc.Logger.Debug("Password recovery requested for unknown account", map[string]interface{}{
			"username": req.Username,
		})
		return &RequestPasswordRecoveryResponse{}, nil
	}

	expiresAt := uc.now().Add(uc.Config.API.RecoveryTTL)
	plaintext, err := json.Marshal(recoveryPayload{Username: user.Username, Moment: expiresAt.UnixMilli()})
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to encode recovery token", err)
	}
	token, err := uc.Crypt.Encrypt(plaintext)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to encrypt recovery token", err)
	}

	err = uc.transaction(ctx, func(store users.Store) error {
		user.PasswordRecoveryToken = &token
		if _, err := store.UpdateUser(ctx, user); err != nil {
			return storeError("failed to store recovery token", err)
		}
		return uc.record(ctx, store, user, user.ID, users.EventPasswordRecoveryRequested)
	})
	if err != nil {
		return nil, err
	}

	uc.notify(ctx, notify.KindPasswordRecovery, user, notify.Data{
		RecoveryURL: uc.Config.App.URI + "/auth/password-recovery/" + token,
		ExpiresAt:   expiresAt.UTC().Format("2006-01-02 15:04 MST"),
	})
	return &RequestPasswordRecoveryResponse{}, nil
}

// ChangePasswordRequest sets a new password using a recovery token
type ChangePasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=128,password"`
}

// ChangePasswordResponse is intentionally empty
type ChangePasswordResponse struct{}

type changePasswordUseCase struct{ *Dependencies }

func (uc *changePasswordUseCase) Handle(ctx context.Context, req *ChangePasswordRequest) (*ChangePasswordResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	invalid := apperrors.NewInvalidTokenError("invalid recovery token")

	plaintext, err := uc.Crypt.Decrypt(req.Token)
	if err != nil {
		return nil, invalid
	}
	var payload recoveryPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil || payload.Username == "" {
		return nil, invalid
	}
	if uc.now().UnixMilli() >= payload.Moment {
		return nil, invalid
	}

	user, err := uc.Store.GetUserByUsername(ctx, payload.Username)
	if err != nil {
		return nil, storeError("failed to load user", err)
	}
	if user == nil || user.PasswordRecoveryToken == nil || *user.PasswordRecoveryToken != req.Token {
		return nil, invalid
	}

	hash, err := uc.Passwords.Hash(req.Password)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to hash password", err)
	}

	err = uc.transaction(ctx, func(store users.Store) error {
		user.Password = hash
		user.PasswordRecoveryToken = nil
		if _, err := store.UpdateUser(ctx, user); err != nil {
			return storeError("failed to update password", err)
		}
		return uc.record(ctx, store, user, user.ID, users.EventPasswordChanged)
	})
	if err != nil {
		return nil, err
	}

	uc.notify(ctx, notify.KindPasswordChanged, user, notify.Data{})
	return &ChangePasswordResponse{}, nil
}
