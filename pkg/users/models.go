package users

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

// History events
const (
	EventCreated                   = "user.created"
	EventSignedUp                  = "user.signed_up"
	EventUpdated                   = "user.updated"
	EventPasswordRecoveryRequested = "user.password_recovery_requested"
	EventPasswordChanged           = "user.password_changed"
	EventLoggedIn                  = "user.logged_in"
	EventLoggedInWithOTP           = "user.logged_in_with_otp"
	EventLoggedOut                 = "user.logged_out"
	EventOTPRegistered             = "user.otp_registered"
	EventRequestedOTPURI           = "user.requested_otp_uri"
	EventOTPVerified               = "user.otp_verified"
	EventOTPDisabled               = "user.otp_disabled"
)

// User represents an account
type User struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Name                  string    `gorm:"size:32;not null" json:"name"`
	Username              string    `gorm:"size:32;not null;uniqueIndex" json:"username"`
	Email                 string    `gorm:"size:128;not null;index" json:"email"`
	Password              string    `gorm:"size:255;not null" json:"-"` // bcrypt hash
	PasswordRecoveryToken *string   `gorm:"size:512" json:"-"`
	Avatar                *string   `gorm:"size:512" json:"avatar"`
	Cover                 *string   `gorm:"size:512" json:"cover"`
	OTPSecret             *string   `gorm:"column:otp_secret;size:64" json:"-"`
	OTPURI                *string   `gorm:"column:otp_uri;size:512" json:"-"`
	OTPEnabled            bool      `gorm:"column:otp_enabled;not null;default:false" json:"otpEnabled"`
	OTPVerified           bool      `gorm:"column:otp_verified;not null;default:false" json:"otpVerified"`
	Active                bool      `gorm:"not null" json:"active"`
	CreatedAt             time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt             time.Time `gorm:"not null" json:"updatedAt"`
}

// BeforeSave normalizes the case-insensitive identifiers
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return nil
}

// UserHistory is an audit row describing one change made to a user
type UserHistory struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"userId"`
	OperatorID uint      `gorm:"not null;index" json:"operatorId"`
	CreatedAt  time.Time `gorm:"not null;index" json:"createdAt"`
	Event      string    `gorm:"size:64;not null;index" json:"event"`
	Data       string    `gorm:"type:text" json:"-"`

	// Relationships
	User     *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Operator *User `gorm:"foreignKey:OperatorID" json:"-"`
}

// BeforeCreate hook for UserHistory model
func (h *UserHistory) BeforeCreate(tx *gorm.DB) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	return nil
}

// UserView is the public representation of a user
type UserView struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Avatar      *string   `json:"avatar"`
	Cover       *string   `json:"cover"`
	OTPEnabled  bool      `json:"otpEnabled"`
	OTPVerified bool      `json:"otpVerified"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// View returns the public representation of u
func (u *User) View() UserView {
	return UserView{
		ID:          u.ID,
		Name:        u.Name,
		Username:    u.Username,
		Email:       u.Email,
		Avatar:      u.Avatar,
		Cover:       u.Cover,
		OTPEnabled:  u.OTPEnabled,
		OTPVerified: u.OTPVerified,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// Snapshot serializes the public view for the history data column
func (u *User) Snapshot() string {
	data, err := json.Marshal(u.View())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UserRef identifies a user inside a history row without sensitive fields
type UserRef struct {
	ID       uint    `json:"id"`
	Name     string  `json:"name"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar"`
}

func refOf(u *User) *UserRef {
	if u == nil {
		return nil
	}
	return &UserRef{ID: u.ID, Name: u.Name, Username: u.Username, Avatar: u.Avatar}
}

// HistoryView is the public representation of a history row
type HistoryView struct {
	ID        uint      `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"createdAt"`
	User      *UserRef  `json:"user"`
	Operator  *UserRef  `json:"operator"`
}

// View returns the public representation of h
func (h *UserHistory) View() HistoryView {
	return HistoryView{
		ID:        h.ID,
		Event:     h.Event,
		CreatedAt: h.CreatedAt,
		User:      refOf(h.User),
		Operator:  refOf(h.Operator),
	}
}
