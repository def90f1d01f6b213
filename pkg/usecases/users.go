package usecases

import (
	"context"
	"encoding/json"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/pnocera/accounts/pkg/datatable"
	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/types"
	"github.com/pnocera/accounts/pkg/users"
)

// CreateUserRequest registers a user on behalf of Operator
type CreateUserRequest struct {
	Operator  string  `json:"operator" validate:"required,min=3,max=32"`
	EventName string  `json:"eventName" validate:"required,oneof=user.created user.signed_up"`
	Name      string  `json:"name" validate:"required,min=2,max=32"`
	Email     string  `json:"email" validate:"required,email,max=128"`
	Username  string  `json:"username" validate:"required,min=3,max=32,username"`
	Password  string  `json:"password" validate:"required,min=8,max=128,password"`
	Avatar    *string `json:"avatar" validate:"omitempty,url"`
	Cover     *string `json:"cover" validate:"omitempty,url"`
}

type createUserUseCase struct{ *Dependencies }

func (uc *createUserUseCase) Handle(ctx context.Context, req *CreateUserRequest) (*UserResponse, error) {
	req.Name = strings.TrimSpace(strings.ReplaceAll(req.Name, "-", ""))
	req.Avatar = blankToNil(req.Avatar)
	req.Cover = blankToNil(req.Cover)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	hash, err := uc.Passwords.Hash(req.Password)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to hash password", err)
	}

	user := &users.User{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Password: hash,
		Avatar:   req.Avatar,
		Cover:    req.Cover,
		Active:   true,
	}

	err = uc.transaction(ctx, func(store users.Store) error {
		operator, err := store.GetUserByUsername(ctx, req.Operator)
		if err != nil {
			return storeError("failed to load operator", err)
		}
		if operator == nil {
			return apperrors.NewNotFoundError("operator")
		}

		existing, err := store.GetUserByUsername(ctx, req.Username)
		if err != nil {
			return storeError("failed to check username", err)
		}
		if existing != nil {
			return apperrors.NewAlreadyExistsError("user").WithDetail("username", existing.Username)
		}

		if _, err := store.CreateUser(ctx, user); err != nil {
			return storeError("failed to create user", err)
		}
		return uc.record(ctx, store, user, operator.ID, req.EventName)
	})
	if err != nil {
		return nil, err
	}

	uc.Logger.Info("User created", map[string]interface{}{
		"username": user.Username,
		"operator": req.Operator,
		"event":    req.EventName,
	})
	return &UserResponse{User: user.View()}, nil
}

// GetUserRequest looks a user up by id or username
type GetUserRequest struct {
	ID       uint   `json:"id"`
	Username string `json:"username" validate:"required_without=ID,max=32"`
}

type getUserUseCase struct{ *Dependencies }

func (uc *getUserUseCase) Handle(ctx context.Context, req *GetUserRequest) (*UserResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := lookup(ctx, uc.Store, req.ID, req.Username)
	if err != nil {
		return nil, err
	}
	return &UserResponse{User: user.View()}, nil
}

// ListRequest pages through a listing
type ListRequest struct {
	Page  *int            `json:"page" validate:"omitnil,min=0"`
	Size  *int            `json:"size" validate:"omitnil,min=1,max=100"`
	Query datatable.Query `json:"query"`
}

// ListUsersResponse is one page of users
type ListUsersResponse struct {
	TotalRows   int64            `json:"totalRows"`
	CurrentPage int              `json:"currentPage"`
	PageSize    int              `json:"pageSize"`
	Users       []users.UserView `json:"users"`
}

type listUsersUseCase struct{ *Dependencies }

func (uc *listUsersUseCase) Handle(ctx context.Context, req *ListRequest) (*ListUsersResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	page, size := types.NormalizePaging(req.Page, req.Size)
	result, err := uc.Store.ListUsers(ctx, page, size, req.Query)
	if err != nil {
		return nil, storeError("failed to list users", err)
	}

	views := make([]users.UserView, 0, len(result.Rows))
	for i := range result.Rows {
		views = append(views, result.Rows[i].View())
	}
	return &ListUsersResponse{
		TotalRows:   result.TotalRows,
		CurrentPage: result.CurrentPage,
		PageSize:    result.PageSize,
		Users:       views,
	}, nil
}

// protectedPaths may never be changed through a patch
var protectedPaths = map[string]struct{}{
	"/id":                    {},
	"/username":              {},
	"/password":              {},
	"/passwordrecoverytoken": {},
	"/otpsecret":             {},
	"/otpuri":                {},
	"/otpenabled":            {},
	"/otpverified":           {},
}

// patchable is the part of a user an update may touch
type patchable struct {
	Name   string  `json:"name" validate:"required,min=2,max=32"`
	Email  string  `json:"email" validate:"required,email,max=128"`
	Avatar *string `json:"avatar" validate:"omitnil,url"`
	Cover  *string `json:"cover" validate:"omitnil,url"`
	Active bool    `json:"active"`
}

// UpdateUserRequest applies JSON Patch operations to a user
type UpdateUserRequest struct {
	Operator  string          `json:"operator" validate:"required,min=3,max=32"`
	ID        uint            `json:"id"`
	Username  string          `json:"username" validate:"required_without=ID,max=32"`
	Patches   jsonpatch.Patch `json:"patches" validate:"required"`
	EventName string          `json:"eventName" validate:"required,oneof=user.updated user.password_changed"`
}

type updateUserUseCase struct{ *Dependencies }

func (uc *updateUserUseCase) Handle(ctx context.Context, req *UpdateUserRequest) (*UserResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var user *users.User
	err := uc.transaction(ctx, func(store users.Store) error {
		var err error
		user, err = lookup(ctx, store, req.ID, req.Username)
		if err != nil {
			return err
		}

		before, err := json.Marshal(patchableOf(user))
		if err != nil {
			return apperrors.NewInternalErrorWithCause("failed to encode user", err)
		}
		patched, err := safePatch(req.Patches).Apply(before)
		if err != nil {
			return apperrors.NewInvalidInputError("patch could not be applied").WithDetail("cause", err.Error())
		}

		var doc patchable
		if err := json.Unmarshal(patched, &doc); err != nil {
			return apperrors.NewInvalidInputError("patched user is malformed").WithDetail("cause", err.Error())
		}
		// stored emails are lowercase; compare what would be saved
		doc.Email = strings.ToLower(strings.TrimSpace(doc.Email))
		if err := validateRequest(&doc); err != nil {
			return err
		}

		after, err := json.Marshal(doc)
		if err != nil {
			return apperrors.NewInternalErrorWithCause("failed to encode user", err)
		}
		if jsonpatch.Equal(before, after) {
			return nil
		}

		operator, err := store.GetUserByUsername(ctx, req.Operator)
		if err != nil {
			return storeError("failed to load operator", err)
		}
		if operator == nil {
			return apperrors.NewNotFoundError("operator")
		}

		user.Name = doc.Name
		user.Email = doc.Email
		user.Avatar = doc.Avatar
		user.Cover = doc.Cover
		user.Active = doc.Active
		if _, err := store.UpdateUser(ctx, user); err != nil {
			return storeError("failed to update user", err)
		}
		return uc.record(ctx, store, user, operator.ID, req.EventName)
	})
	if err != nil {
		return nil, err
	}
	return &UserResponse{User: user.View()}, nil
}

func patchableOf(u *users.User) patchable {
	return patchable{Name: u.Name, Email: u.Email, Avatar: u.Avatar, Cover: u.Cover, Active: u.Active}
}

// safePatch drops operations touching protected paths
func safePatch(patch jsonpatch.Patch) jsonpatch.Patch {
	safe := make(jsonpatch.Patch, 0, len(patch))
	for _, op := range patch {
		path, _ := op.Path()
		from, _ := op.From()
		if isProtected(path) || isProtected(from) {
			continue
		}
		safe = append(safe, op)
	}
	return safe
}

func isProtected(path string) bool {
	if path == "" {
		return false
	}
	_, ok := protectedPaths[strings.ToLower(path)]
	return ok
}

// ListUserHistoriesResponse is one page of history rows
type ListUserHistoriesResponse struct {
	TotalRows     int64               `json:"totalRows"`
	CurrentPage   int                 `json:"currentPage"`
	PageSize      int                 `json:"pageSize"`
	UserHistories []users.HistoryView `json:"userHistories"`
}

type listUserHistoriesUseCase struct{ *Dependencies }

func (uc *listUserHistoriesUseCase) Handle(ctx context.Context, req *ListRequest) (*ListUserHistoriesResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	page, size := types.NormalizePaging(req.Page, req.Size)
	result, err := uc.Store.ListUserHistories(ctx, page, size, req.Query)
	if err != nil {
		return nil, storeError("failed to list user histories", err)
	}
	return historiesResponse(result), nil
}

// ListUserHistoriesByUsernameRequest pages through the history of one user
type ListUserHistoriesByUsernameRequest struct {
	Username string `json:"username" validate:"required,max=32"`
	Page     *int   `json:"page" validate:"omitnil,min=0"`
	Size     *int   `json:"size" validate:"omitnil,min=1,max=100"`
}

type listUserHistoriesByUsernameUseCase struct{ *Dependencies }

func (uc *listUserHistoriesByUsernameUseCase) Handle(ctx context.Context, req *ListUserHistoriesByUsernameRequest) (*ListUserHistoriesResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := requireUser(ctx, uc.Store, req.Username)
	if err != nil {
		return nil, err
	}

	page, size := types.NormalizePaging(req.Page, req.Size)
	result, err := uc.Store.ListUserHistoriesByUserID(ctx, page, size, user.ID)
	if err != nil {
		return nil, storeError("failed to list user histories", err)
	}
	return historiesResponse(result), nil
}

func historiesResponse(result *types.Page[users.UserHistory]) *ListUserHistoriesResponse {
	views := make([]users.HistoryView, 0, len(result.Rows))
	for i := range result.Rows {
		views = append(views, result.Rows[i].View())
	}
	return &ListUserHistoriesResponse{
		TotalRows:     result.TotalRows,
		CurrentPage:   result.CurrentPage,
		PageSize:      result.PageSize,
		UserHistories: views,
	}
}

// lookup finds a user by id, falling back to username
func lookup(ctx context.Context, store users.Store, id uint, username string) (*users.User, error) {
	if id == 0 {
		return requireUser(ctx, store, username)
	}
	user, err := store.GetUserByID(ctx, id)
	if err != nil {
		return nil, storeError("failed to load user", err)
	}
	if user == nil {
		return nil, apperrors.NewNotFoundError("user")
	}
	return user, nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
