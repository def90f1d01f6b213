package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnocera/accounts/pkg/config"
	"github.com/pnocera/accounts/pkg/datatable"
	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/logger"
)

const testSystemUser = "system"

func setupTestRepository(t *testing.T) *Repository {
	t.Helper()

	cfg := config.DefaultConfig().Database
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.MaxRetries = 0

	repo, err := NewRepository(context.Background(), cfg, testSystemUser, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func createTestUser(t *testing.T, repo *Repository, username string) *User {
	t.Helper()
	user, err := repo.CreateUser(context.Background(), &User{
		Name:     "User " + username,
		Username: username,
		Email:    username + "@example.com",
		Password: "hash",
		Active:   true,
	})
	require.NoError(t, err)
	return user
}

func TestRepository_SeedsSystemUser(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	system, err := repo.GetUserByUsername(ctx, testSystemUser)
	require.NoError(t, err)
	require.NotNil(t, system)
	assert.False(t, system.Active)
	assert.Equal(t, unusablePassword, system.Password)

	// seeding twice keeps a single system user
	require.NoError(t, repo.initializeDefaultData(ctx, testSystemUser))
	page, err := repo.ListUsers(ctx, 0, 10, datatable.Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.TotalRows)
}

func TestRepository_CreateAndGetUser(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateUser(ctx, &User{
		Name:     "Alice",
		Username: "  Alice ",
		Email:    "Alice@Example.COM",
		Password: "hash",
		Active:   true,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.False(t, created.CreatedAt.IsZero())

	byName, err := repo.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, created.ID, byName.ID)

	byID, err := repo.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "Alice", byID.Name)

	missing, err := repo.GetUserByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = repo.GetUserByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_CreateUser_DuplicateUsername(t *testing.T) {
	repo := setupTestRepository(t)
	createTestUser(t, repo, "bob")

	_, err := repo.CreateUser(context.Background(), &User{Name: "Bob", Username: "BOB", Email: "b@example.com", Password: "x", Active: true})
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestNewRepository_ConnectionFailed(t *testing.T) {
	cfg := config.DefaultConfig().Database
	cfg.Driver = "postgres"
	cfg.DSN = "host=127.0.0.1 port=1 user=accounts dbname=accounts sslmode=disable connect_timeout=1"
	cfg.MaxRetries = 0

	_, err := NewRepository(context.Background(), cfg, testSystemUser, logger.NewTestLogger())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConnectionFailed))
}

func TestRepository_UpdateUser(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	user := createTestUser(t, repo, "carol")

	avatar := "https://example.com/a.png"
	user.Name = "Carol C"
	user.Avatar = &avatar
	user.Active = false
	_, err := repo.UpdateUser(ctx, user)
	require.NoError(t, err)

	reloaded, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carol C", reloaded.Name)
	require.NotNil(t, reloaded.Avatar)
	assert.Equal(t, avatar, *reloaded.Avatar)
	assert.False(t, reloaded.Active)
}

func TestRepository_ListUsers(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		createTestUser(t, repo, fmt.Sprintf("user%02d", i))
	}

	t.Run("paging", func(t *testing.T) {
		page, err := repo.ListUsers(ctx, 1, 10, datatable.Query{})
		require.NoError(t, err)
		assert.EqualValues(t, 16, page.TotalRows)
		assert.Equal(t, 1, page.CurrentPage)
		assert.Equal(t, 10, page.PageSize)
		require.Len(t, page.Rows, 6)
		assert.Less(t, page.Rows[0].ID, page.Rows[1].ID)
	})

	t.Run("filter and sort", func(t *testing.T) {
		page, err := repo.ListUsers(ctx, 0, 10, datatable.Query{
			Filters: datatable.Filters{
				"username": {Value: "USER1", MatchMode: datatable.MatchStartsWith},
				"active":   {Value: true, MatchMode: datatable.MatchEquals},
			},
			Sorting: []datatable.SortMeta{{Field: "username", Order: -1}},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 5, page.TotalRows)
		require.Len(t, page.Rows, 5)
		assert.Equal(t, "user14", page.Rows[0].Username)
		assert.Equal(t, "user10", page.Rows[4].Username)
	})

	t.Run("inactive only", func(t *testing.T) {
		page, err := repo.ListUsers(ctx, 0, 10, datatable.Query{
			Filters: datatable.Filters{"active": {Value: false, MatchMode: datatable.MatchEquals}},
		})
		require.NoError(t, err)
		require.Len(t, page.Rows, 1)
		assert.Equal(t, testSystemUser, page.Rows[0].Username)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := repo.ListUsers(ctx, 0, 10, datatable.Query{
			Filters: datatable.Filters{"password": {Value: "x", MatchMode: datatable.MatchEquals}},
		})
		assert.Error(t, err)
	})
}

func TestRepository_Histories(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	system, err := repo.GetUserByUsername(ctx, testSystemUser)
	require.NoError(t, err)
	alice := createTestUser(t, repo, "alice")
	bob := createTestUser(t, repo, "bob")

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []UserHistory{
		{UserID: alice.ID, OperatorID: system.ID, Event: EventSignedUp, CreatedAt: base},
		{UserID: alice.ID, OperatorID: alice.ID, Event: EventLoggedIn, CreatedAt: base.Add(time.Minute)},
		{UserID: bob.ID, OperatorID: alice.ID, Event: EventCreated, CreatedAt: base.Add(2 * time.Minute)},
		{UserID: bob.ID, OperatorID: bob.ID, Event: EventLoggedIn, CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range entries {
		_, err := repo.CreateUserHistory(ctx, &entries[i])
		require.NoError(t, err)
	}

	t.Run("default order is newest first", func(t *testing.T) {
		page, err := repo.ListUserHistories(ctx, 0, 10, datatable.Query{})
		require.NoError(t, err)
		assert.EqualValues(t, 4, page.TotalRows)
		require.Len(t, page.Rows, 4)
		assert.Equal(t, entries[3].ID, page.Rows[0].ID)
		require.NotNil(t, page.Rows[0].User)
		require.NotNil(t, page.Rows[0].Operator)
		assert.Equal(t, "bob", page.Rows[0].User.Username)
	})

	t.Run("filter on joined operator", func(t *testing.T) {
		page, err := repo.ListUserHistories(ctx, 0, 10, datatable.Query{
			Filters: datatable.Filters{"operator.name": {Value: "user alice", MatchMode: datatable.MatchEquals}},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 0, page.TotalRows)

		page, err = repo.ListUserHistories(ctx, 0, 10, datatable.Query{
			Filters: datatable.Filters{"operator.name": {Value: "user alice", MatchMode: datatable.MatchContains}},
			Sorting: []datatable.SortMeta{{Field: "createdAt", Order: 1}},
		})
		require.NoError(t, err)
		require.Len(t, page.Rows, 2)
		assert.Equal(t, EventLoggedIn, page.Rows[0].Event)
		assert.Equal(t, EventCreated, page.Rows[1].Event)
	})

	t.Run("filter on date", func(t *testing.T) {
		page, err := repo.ListUserHistories(ctx, 0, 10, datatable.Query{
			Filters: datatable.Filters{"createdAt": {Value: base.Add(2*time.Minute + 30*time.Second).Format(time.RFC3339), MatchMode: datatable.MatchDateIs}},
		})
		require.NoError(t, err)
		require.Len(t, page.Rows, 1)
		assert.Equal(t, EventCreated, page.Rows[0].Event)
	})

	t.Run("by user", func(t *testing.T) {
		page, err := repo.ListUserHistoriesByUserID(ctx, 0, 10, alice.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, page.TotalRows)
		require.Len(t, page.Rows, 2)
		assert.Equal(t, EventLoggedIn, page.Rows[0].Event)
		assert.Equal(t, "system", page.Rows[1].Operator.Username)
	})

	t.Run("get by id", func(t *testing.T) {
		history, err := repo.GetUserHistoryByID(ctx, entries[2].ID)
		require.NoError(t, err)
		require.NotNil(t, history)
		assert.Equal(t, "bob", history.User.Username)
		assert.Equal(t, "alice", history.Operator.Username)

		missing, err := repo.GetUserHistoryByID(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestRepository_TransactionRollback(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.Transaction(ctx, func(store Store) error {
		if _, err := store.CreateUser(ctx, &User{Name: "Dan", Username: "dan", Email: "dan@example.com", Password: "x", Active: true}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	user, err := repo.GetUserByUsername(ctx, "dan")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRepository_Ping(t *testing.T) {
	repo := setupTestRepository(t)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestUser_ViewAndSnapshot(t *testing.T) {
	user := &User{ID: 7, Name: "Eve", Username: "eve", Email: "eve@example.com", Password: "secret-hash", Active: true}
	secret := "SECRET"
	user.OTPSecret = &secret

	view := user.View()
	assert.Equal(t, uint(7), view.ID)

	snapshot := user.Snapshot()
	assert.Contains(t, snapshot, `"username":"eve"`)
	assert.NotContains(t, snapshot, "secret-hash")
	assert.NotContains(t, snapshot, "SECRET")
}
