// Package usecases holds the application operations of the accounts service
// and the mediator that dispatches requests to them by name.
package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pnocera/accounts/pkg/config"
	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/interfaces"
	"github.com/pnocera/accounts/pkg/notify"
	"github.com/pnocera/accounts/pkg/revocation"
	"github.com/pnocera/accounts/pkg/security"
	"github.com/pnocera/accounts/pkg/users"
)

// Registered use case names
const (
	DoLogin                     = "uc.do.login"
	DoSignup                    = "uc.do.signup"
	DoLogout                    = "uc.do.logout"
	ChangePassword              = "uc.change.password"
	RequestPasswordRecovery     = "uc.request.password.recovery"
	StartOTPRegistration        = "uc.start.otp.registration"
	FinishOTPRegistration       = "uc.finish.otp.registration"
	GetOTPURI                   = "uc.get.otp.uri"
	ValidateOTP                 = "uc.validate.otp"
	DisableOTP                  = "uc.disable.otp"
	CreateUser                  = "uc.create.user"
	GetUser                     = "uc.get.user"
	ListUsers                   = "uc.list.users"
	UpdateUser                  = "uc.update.user"
	ListUserHistories           = "uc.list.user.histories"
	ListUserHistoriesByUsername = "uc.list.user.histories.by.user"
)

// Dependencies are the services shared by every use case
type Dependencies struct {
	Config     *config.Config
	Store      users.Store
	Passwords  *security.PasswordService
	Tokens     *security.TokenService
	OTP        *security.OTPService
	Crypt      *security.Encryptor
	Renderer   *notify.Renderer
	Notifier   notify.Notifier
	Revocation revocation.Store
	Logger     interfaces.Logger
	Metrics    interfaces.Metrics

	// Now defaults to time.Now
	Now func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// TokenResponse carries a session token
type TokenResponse struct {
	Token string `json:"token"`
}

// OTPURIResponse carries the otpauth:// URI of a user
type OTPURIResponse struct {
	TokenURI string `json:"tokenUri"`
}

// UserResponse carries the public view of one user
type UserResponse struct {
	User users.UserView `json:"user"`
}

// OTPCode is a six digit code sent either as a JSON string or number
type OTPCode string

// UnmarshalJSON accepts "012345" as well as 12345
func (c *OTPCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = OTPCode(strings.TrimSpace(s))
		return nil
	}
	n, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return fmt.Errorf("otp code must be a string or a positive integer")
	}
	*c = OTPCode(fmt.Sprintf("%06d", n))
	return nil
}

// storeError keeps application errors and wraps everything else
func storeError(message string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	if errors.Is(err, users.ErrDuplicateUser) {
		return apperrors.NewAlreadyExistsError("user")
	}
	return apperrors.NewDatabaseErrorWithCause(message, err)
}

// txStore holds the history events of a transaction until it commits
type txStore struct {
	users.Store
	events []string
}

// transaction runs fn in a database transaction and counts its history events once committed
func (d *Dependencies) transaction(ctx context.Context, fn func(store users.Store) error) error {
	var events []string
	err := d.Store.Transaction(ctx, func(store users.Store) error {
		tx := &txStore{Store: store}
		if err := fn(tx); err != nil {
			return err
		}
		events = tx.events
		return nil
	})
	if err != nil {
		return err
	}
	for _, event := range events {
		d.Metrics.IncHistoryEvent(event)
	}
	return nil
}

// record appends a history row describing user at event time
func (d *Dependencies) record(ctx context.Context, store users.Store, user *users.User, operatorID uint, event string) error {
	_, err := store.CreateUserHistory(ctx, &users.UserHistory{
		UserID:     user.ID,
		OperatorID: operatorID,
		Event:      event,
		Data:       user.Snapshot(),
	})
	if err != nil {
		return storeError("failed to record history", err)
	}
	if tx, ok := store.(*txStore); ok {
		tx.events = append(tx.events, event)
		return nil
	}
	d.Metrics.IncHistoryEvent(event)
	return nil
}

// requireUser loads username or fails with a not found error
func requireUser(ctx context.Context, store users.Store, username string) (*users.User, error) {
	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, storeError("failed to load user", err)
	}
	if user == nil {
		return nil, apperrors.NewNotFoundError("user")
	}
	return user, nil
}

// notify renders and delivers a notification, logging failures
func (d *Dependencies) notify(ctx context.Context, kind notify.Kind, user *users.User, data notify.Data) {
	if d.Renderer == nil || d.Notifier == nil {
		return
	}
	data.AppName = d.Config.API.Name
	data.AppURL = d.Config.App.URI
	data.UserName = user.Name
	data.Username = user.Username

	n, err := d.Renderer.Render(kind, user.Email, data)
	if err != nil {
		d.Logger.Error("Failed to render notification", err, map[string]interface{}{"kind": string(kind)})
		return
	}
	if err := d.Notifier.Notify(ctx, n); err != nil {
		d.Logger.Error("Failed to deliver notification", err, map[string]interface{}{
			"kind":     string(kind),
			"username": user.Username,
		})
	}
}
