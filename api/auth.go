package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pnocera/accounts/pkg/usecases"
)

// signin exchanges credentials for a session token; every failure is a 401
func (s *Server) signin(c *gin.Context) {
	var req SigninRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, http.StatusUnauthorized, err)
		return
	}

	resp, err := usecases.Send[usecases.LoginRequest, usecases.TokenResponse](c.Request.Context(), s.mediator, usecases.DoLogin,
		&usecases.LoginRequest{Username: req.Username, Password: req.Password})
	if err != nil {
		s.respondError(c, http.StatusUnauthorized, err)
		return
	}

	ok(c, http.StatusOK, "Signed in", resp)
}

// signup registers an account and signs it in; every failure is a 400
func (s *Server) signup(c *gin.Context) {
	var req UserCreate
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	resp, err := usecases.Send[usecases.SignupRequest, usecases.TokenResponse](c.Request.Context(), s.mediator, usecases.DoSignup,
		&usecases.SignupRequest{
			Name:     req.Name,
			Email:    req.Email,
			Username: req.Username,
			Password: req.Password,
			Avatar:   req.Avatar,
			Cover:    req.Cover,
		})
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	ok(c, http.StatusOK, "Signed up", resp)
}

func (s *Server) signout(c *gin.Context) {
	claims := claimsFrom(c)
	req := &usecases.LogoutRequest{Username: claims.Subject, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		req.ExpiresAt = claims.ExpiresAt.Time
	}

	resp, err := usecases.Send[usecases.LogoutRequest, usecases.LogoutResponse](c.Request.Context(), s.mediator, usecases.DoLogout, req)
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "Signed out", resp)
}

// requestPasswordRecovery answers 200 with an empty body, known user or not
func (s *Server) requestPasswordRecovery(c *gin.Context) {
	var req RecoveryRequest
	if err := bindJSON(c, &req); err != nil {
		s.handleError(c, err)
		return
	}

	_, err := usecases.Send[usecases.RequestPasswordRecoveryRequest, usecases.RequestPasswordRecoveryResponse](c.Request.Context(),
		s.mediator, usecases.RequestPasswordRecovery, &usecases.RequestPasswordRecoveryRequest{Username: req.Username})
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) changePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := bindJSON(c, &req); err != nil {
		s.handleError(c, err)
		return
	}

	_, err := usecases.Send[usecases.ChangePasswordRequest, usecases.ChangePasswordResponse](c.Request.Context(), s.mediator,
		usecases.ChangePassword, &usecases.ChangePasswordRequest{Token: c.Param("token"), Password: req.Password})
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) startOTPRegistration(c *gin.Context) {
	resp, err := usecases.Send[usecases.OTPRequest, usecases.OTPURIResponse](c.Request.Context(), s.mediator,
		usecases.StartOTPRegistration, &usecases.OTPRequest{Username: claimsFrom(c).Subject})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "2FA registration started", resp)
}

func (s *Server) finishOTPRegistration(c *gin.Context) {
	var req OTPCodeRequest
	if err := bindJSON(c, &req); err != nil {
		s.handleError(c, err)
		return
	}

	resp, err := usecases.Send[usecases.OTPCodeRequest, usecases.TokenResponse](c.Request.Context(), s.mediator,
		usecases.FinishOTPRegistration, &usecases.OTPCodeRequest{Username: claimsFrom(c).Subject, Code: req.Code})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "2FA enabled", resp)
}

func (s *Server) getOTPURI(c *gin.Context) {
	resp, err := usecases.Send[usecases.OTPRequest, usecases.OTPURIResponse](c.Request.Context(), s.mediator,
		usecases.GetOTPURI, &usecases.OTPRequest{Username: claimsFrom(c).Subject})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "2FA URI retrieved", resp)
}

func (s *Server) validateOTP(c *gin.Context) {
	var req OTPCodeRequest
	if err := bindJSON(c, &req); err != nil {
		s.handleError(c, err)
		return
	}

	resp, err := usecases.Send[usecases.OTPCodeRequest, usecases.TokenResponse](c.Request.Context(), s.mediator,
		usecases.ValidateOTP, &usecases.OTPCodeRequest{Username: claimsFrom(c).Subject, Code: req.Code})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "2FA code validated", resp)
}

func (s *Server) disableOTP(c *gin.Context) {
	resp, err := usecases.Send[usecases.OTPRequest, usecases.DisableOTPResponse](c.Request.Context(), s.mediator,
		usecases.DisableOTP, &usecases.OTPRequest{Username: claimsFrom(c).Subject})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "2FA disabled", resp)
}
