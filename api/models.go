package api

import (
	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/pnocera/accounts/pkg/usecases"
)

// BaseResponse represents the base structure for all API responses
type BaseResponse[T any] struct {
	Code    int    `json:"code" example:"200"`
	Message string `json:"message" example:"Operation successful"`
	Data    *T     `json:"data,omitempty"`
}

// SigninRequest is the body of the signin route
type SigninRequest struct {
	Username string `json:"username" example:"jane"`
	Password string `json:"password" example:"Secret123"`
}

// RecoveryRequest is the body of the password recovery route
type RecoveryRequest struct {
	Username string `json:"username" example:"jane"`
}

// ChangePasswordRequest is the body of the change password route
type ChangePasswordRequest struct {
	Password string `json:"password" example:"NewSecret123"`
}

// OTPCodeRequest is the body of the OTP verification routes
type OTPCodeRequest struct {
	Code usecases.OTPCode `json:"code" example:"123456"`
}

// UserCreate is the body of the create user route
type UserCreate struct {
	Name     string  `json:"name" example:"Jane Doe"`
	Email    string  `json:"email" example:"jane@example.com"`
	Username string  `json:"username" example:"jane"`
	Password string  `json:"password" example:"Secret123"`
	Avatar   *string `json:"avatar,omitempty"`
	Cover    *string `json:"cover,omitempty"`
}

// UserPatch is the body of the update user route
type UserPatch struct {
	Patches jsonpatch.Patch `json:"patches"`
}

// PingResponse answers the liveness check
type PingResponse struct {
	Message string `json:"message"`
	Date    string `json:"date"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Response types
type TokenResponse = BaseResponse[usecases.TokenResponse]
type OTPURIResponse = BaseResponse[usecases.OTPURIResponse]
type UserResponse = BaseResponse[usecases.UserResponse]
type UserListResponse = BaseResponse[usecases.ListUsersResponse]
type HistoryListResponse = BaseResponse[usecases.ListUserHistoriesResponse]
type LogoutResponse = BaseResponse[usecases.LogoutResponse]
type DisableOTPResponse = BaseResponse[usecases.DisableOTPResponse]
