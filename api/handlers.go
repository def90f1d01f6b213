package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pnocera/accounts/pkg/datatable"
	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/usecases"
	"github.com/pnocera/accounts/pkg/users"
)

// ping is the liveness check
func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, PingResponse{
		Message: "Pong",
		Date:    time.Now().UTC().Format(time.RFC3339),
	})
}

// healthCheck pings every dependency; any failure turns the answer into a 503
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Checks:    make(map[string]string, len(s.checks)),
	}
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn("Health check failed", map[string]interface{}{"check": name, "error": err.Error()})
			health.Checks[name] = err.Error()
			health.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		health.Checks[name] = "ok"
	}

	c.JSON(status, health)
}

func (s *Server) listUsers(c *gin.Context) {
	req, err := parseListRequest(c)
	if err != nil {
		s.handleError(c, err)
		return
	}

	resp, err := usecases.Send[usecases.ListRequest, usecases.ListUsersResponse](c.Request.Context(), s.mediator, usecases.ListUsers, req)
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "Users retrieved successfully", resp)
}

func (s *Server) createUser(c *gin.Context) {
	var req UserCreate
	if err := bindJSON(c, &req); err != nil {
		s.handleError(c, err)
		return
	}

	resp, err := usecases.Send[usecases.CreateUserRequest, usecases.UserResponse](c.Request.Context(), s.mediator, usecases.CreateUser,
		&usecases.CreateUserRequest{
			Operator:  claimsFrom(c).Subject,
			EventName: users.EventCreated,
			Name:      req.Name,
			Email:     req.Email,
			Username:  req.Username,
			Password:  req.Password,
			Avatar:    req.Avatar,
			Cover:     req.Cover,
		})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusCreated, "User created successfully", resp)
}

func (s *Server) getUser(c *gin.Context) {
	resp, err := usecases.Send[usecases.GetUserRequest, usecases.UserResponse](c.Request.Context(), s.mediator, usecases.GetUser,
		&usecases.GetUserRequest{Username: c.Param("username")})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "User retrieved successfully", resp)
}

func (s *Server) updateUser(c *gin.Context) {
	var req UserPatch
	if err := bindJSON(c, &req); err != nil {
		s.handleError(c, err)
		return
	}

	resp, err := usecases.Send[usecases.UpdateUserRequest, usecases.UserResponse](c.Request.Context(), s.mediator, usecases.UpdateUser,
		&usecases.UpdateUserRequest{
			Operator:  claimsFrom(c).Subject,
			Username:  c.Param("username"),
			Patches:   req.Patches,
			EventName: users.EventUpdated,
		})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "User updated successfully", resp)
}

func (s *Server) listUserHistories(c *gin.Context) {
	req, err := parseListRequest(c)
	if err != nil {
		s.handleError(c, err)
		return
	}

	resp, err := usecases.Send[usecases.ListRequest, usecases.ListUserHistoriesResponse](c.Request.Context(), s.mediator,
		usecases.ListUserHistories, req)
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "User histories retrieved successfully", resp)
}

func (s *Server) listUserHistoriesByUser(c *gin.Context) {
	page, err := intQuery(c, "page")
	if err != nil {
		s.handleError(c, err)
		return
	}
	size, err := intQuery(c, "size")
	if err != nil {
		s.handleError(c, err)
		return
	}

	resp, err := usecases.Send[usecases.ListUserHistoriesByUsernameRequest, usecases.ListUserHistoriesResponse](c.Request.Context(),
		s.mediator, usecases.ListUserHistoriesByUsername, &usecases.ListUserHistoriesByUsernameRequest{
			Username: c.Param("username"),
			Page:     page,
			Size:     size,
		})
	if err != nil {
		s.handleError(c, err)
		return
	}

	ok(c, http.StatusOK, "User histories retrieved successfully", resp)
}

// parseListRequest reads page, size, filters and sorting from the query string
func parseListRequest(c *gin.Context) (*usecases.ListRequest, error) {
	page, err := intQuery(c, "page")
	if err != nil {
		return nil, err
	}
	size, err := intQuery(c, "size")
	if err != nil {
		return nil, err
	}
	filters, err := datatable.ParseFilters(c.Query("filters"))
	if err != nil {
		return nil, err
	}
	sorting, err := datatable.ParseSorting(c.Query("sorting"))
	if err != nil {
		return nil, err
	}

	return &usecases.ListRequest{
		Page:  page,
		Size:  size,
		Query: datatable.Query{Filters: filters, Sorting: sorting},
	}, nil
}

// intQuery parses an optional integer query parameter
func intQuery(c *gin.Context, name string) (*int, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.NewFieldValidationError(map[string]string{name: "must be an integer"})
	}
	return &value, nil
}

// bindJSON decodes the request body, an empty body leaves out untouched
func bindJSON(c *gin.Context, out interface{}) error {
	if err := c.ShouldBindJSON(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.NewInvalidInputError("invalid request body").WithDetail("cause", err.Error())
	}
	return nil
}

// ok writes a success envelope
func ok[T any](c *gin.Context, status int, message string, data *T) {
	c.JSON(status, BaseResponse[T]{
		Code:    status,
		Message: message,
		Data:    data,
	})
}

// handleError logs server side failures and writes the error envelope
func (s *Server) handleError(c *gin.Context, err error) {
	s.respondError(c, apperrors.HTTPStatus(err), err)
}

// respondError writes err with an explicit status
func (s *Server) respondError(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", err, map[string]interface{}{
			"request_id": c.GetString(requestIDKey),
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		})
	}
	c.AbortWithStatusJSON(status, errorResponse(status, err))
}

func abortWithError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	c.AbortWithStatusJSON(status, errorResponse(status, err))
}

func errorResponse(status int, err error) ErrorResponse {
	resp := ErrorResponse{
		Code:    status,
		Message: http.StatusText(status),
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		resp.Message = appErr.Message
		resp.Error = string(appErr.Code)
		resp.Details = appErr.Details
	}
	return resp
}
