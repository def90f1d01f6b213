package usecases

import (
	"context"

	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/security"
	"github.com/pnocera/accounts/pkg/users"
)

// OTPRequest identifies the caller of an OTP operation by token subject
type OTPRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
}

// OTPCodeRequest carries a code typed by the caller
type OTPCodeRequest struct {
	Username string  `json:"username" validate:"required,min=3,max=32"`
	Code     OTPCode `json:"code" validate:"required,len=6,numeric"`
}

// DisableOTPResponse confirms the second factor was removed
type DisableOTPResponse struct {
	Disabled bool `json:"disabled"`
}

type startOTPRegistrationUseCase struct{ *Dependencies }

func (uc *startOTPRegistrationUseCase) Handle(ctx context.Context, req *OTPRequest) (*OTPURIResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := requireUser(ctx, uc.Store, req.Username)
	if err != nil {
		return nil, err
	}
	if user.OTPEnabled || user.OTPVerified {
		return nil, apperrors.NewConflictError("2FA is already registered")
	}

	secret, uri, err := uc.OTP.Generate(user.Username)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to generate 2FA secret", err)
	}

	err = uc.transaction(ctx, func(store users.Store) error {
		user.OTPSecret = &secret
		user.OTPURI = &uri
		user.OTPEnabled = false
		user.OTPVerified = false
		if _, err := store.UpdateUser(ctx, user); err != nil {
			return storeError("failed to store 2FA secret", err)
		}
		return uc.record(ctx, store, user, user.ID, users.EventOTPRegistered)
	})
	if err != nil {
		return nil, err
	}
	return &OTPURIResponse{TokenURI: uri}, nil
}

type finishOTPRegistrationUseCase struct{ *Dependencies }

func (uc *finishOTPRegistrationUseCase) Handle(ctx context.Context, req *OTPCodeRequest) (*TokenResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := requireUser(ctx, uc.Store, req.Username)
	if err != nil {
		return nil, err
	}
	if user.OTPSecret == nil || *user.OTPSecret == "" {
		return nil, apperrors.NewValidationError("no pending 2FA registration")
	}
	if !uc.OTP.Validate(string(req.Code), *user.OTPSecret) {
		return nil, apperrors.NewInvalidOTPError()
	}

	err = uc.transaction(ctx, func(store users.Store) error {
		user.OTPEnabled = true
		user.OTPVerified = true
		if _, err := store.UpdateUser(ctx, user); err != nil {
			return storeError("failed to enable 2FA", err)
		}
		return uc.record(ctx, store, user, user.ID, users.EventOTPVerified)
	})
	if err != nil {
		return nil, err
	}
	return uc.issue(user)
}

type getOTPURIUseCase struct{ *Dependencies }

func (uc *getOTPURIUseCase) Handle(ctx context.Context, req *OTPRequest) (*OTPURIResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := requireUser(ctx, uc.Store, req.Username)
	if err != nil {
		return nil, err
	}
	// every request for the URI is audited, including refused ones
	if err := uc.record(ctx, uc.Store, user, user.ID, users.EventRequestedOTPURI); err != nil {
		return nil, err
	}
	if !user.OTPEnabled || !user.OTPVerified || user.OTPURI == nil {
		return nil, apperrors.NewForbiddenError(apperrors.ErrCodeOTPRequired, "user does not have 2FA enabled")
	}
	return &OTPURIResponse{TokenURI: *user.OTPURI}, nil
}

type validateOTPUseCase struct{ *Dependencies }

func (uc *validateOTPUseCase) Handle(ctx context.Context, req *OTPCodeRequest) (*TokenResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := requireUser(ctx, uc.Store, req.Username)
	if err != nil {
		return nil, err
	}
	if !user.OTPEnabled || !user.OTPVerified || user.OTPSecret == nil {
		return nil, apperrors.NewForbiddenError(apperrors.ErrCodeVerifiedOTPRequired, "token pending verification")
	}
	if !uc.OTP.Validate(string(req.Code), *user.OTPSecret) {
		return nil, apperrors.NewInvalidOTPError()
	}

	if err := uc.record(ctx, uc.Store, user, user.ID, users.EventLoggedInWithOTP); err != nil {
		return nil, err
	}
	return uc.issue(user)
}

type disableOTPUseCase struct{ *Dependencies }

func (uc *disableOTPUseCase) Handle(ctx context.Context, req *OTPRequest) (*DisableOTPResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := requireUser(ctx, uc.Store, req.Username)
	if err != nil {
		return nil, err
	}

	err = uc.transaction(ctx, func(store users.Store) error {
		user.OTPSecret = nil
		user.OTPURI = nil
		user.OTPEnabled = false
		user.OTPVerified = false
		if _, err := store.UpdateUser(ctx, user); err != nil {
			return storeError("failed to disable 2FA", err)
		}
		return uc.record(ctx, store, user, user.ID, users.EventOTPDisabled)
	})
	if err != nil {
		return nil, err
	}
	return &DisableOTPResponse{Disabled: true}, nil
}

// issue signs a token marking the second factor as validated
func (d *Dependencies) issue(user *users.User) (*TokenResponse, error) {
	token, _, err := d.Tokens.Issue(security.NewSessionUser(user, true))
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to issue token", err)
	}
	return &TokenResponse{Token: token}, nil
}
