package users

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pnocera/accounts/pkg/config"
	"github.com/pnocera/accounts/pkg/datatable"
	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/interfaces"
	"github.com/pnocera/accounts/pkg/types"
)

// Store is the persistence contract the use cases depend on
type Store interface {
	GetUserByID(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context, page, size int, query datatable.Query) (*types.Page[User], error)
	CreateUser(ctx context.Context, user *User) (*User, error)
	UpdateUser(ctx context.Context, user *User) (*User, error)

	GetUserHistoryByID(ctx context.Context, id uint) (*UserHistory, error)
	CreateUserHistory(ctx context.Context, history *UserHistory) (*UserHistory, error)
	ListUserHistories(ctx context.Context, page, size int, query datatable.Query) (*types.Page[UserHistory], error)
	ListUserHistoriesByUserID(ctx context.Context, page, size int, userID uint) (*types.Page[UserHistory], error)

	// Transaction runs fn against a Store bound to a single database transaction
	Transaction(ctx context.Context, fn func(store Store) error) error
}

// ErrDuplicateUser is returned when an insert hits the unique username index
var ErrDuplicateUser = errors.New("user already exists")

// unusablePassword can never match a bcrypt hash
const unusablePassword = "!"

// Repository provides data access for users and their history
type Repository struct {
	db     *gorm.DB
	logger interfaces.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository connects to the configured database, migrates it and seeds the system user
func NewRepository(ctx context.Context, cfg config.DatabaseConfig, systemUser string, logger interfaces.Logger) (*Repository, error) {
	db, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	repo := &Repository{db: db, logger: logger}

	// Auto-migrate database schema
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := repo.initializeDefaultData(ctx, systemUser); err != nil {
		return nil, fmt.Errorf("failed to initialize default data: %w", err)
	}

	return repo, nil
}

func open(ctx context.Context, cfg config.DatabaseConfig, logger interfaces.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}

	var dialector func() gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn := cfg.Path
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_foreign_keys=on"
		}
		dialector = func() gorm.Dialector { return sqlite.Open(dsn) }
	case "postgres":
		dialector = func() gorm.Dialector { return postgres.Open(cfg.DSN) }
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	var db *gorm.DB
	connect := func() error {
		conn, err := gorm.Open(dialector(), gormCfg)
		if err != nil {
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		if cfg.Driver == "sqlite" {
			sqlDB.SetMaxOpenConns(1)
		}
		db = conn
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.MaxRetries)), ctx)
	notify := func(err error, next time.Duration) {
		logger.Warn("Database connection failed, retrying", map[string]interface{}{
			"driver": cfg.Driver,
			"error":  err.Error(),
			"retry":  next.String(),
		})
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, apperrors.NewConnectionFailedError(cfg.Driver+" database", err)
	}

	return db, nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Silent
	}
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	return r.db.AutoMigrate(&User{}, &UserHistory{})
}

// initializeDefaultData creates the inactive system user used as operator for sign-ups
func (r *Repository) initializeDefaultData(ctx context.Context, systemUser string) error {
	existing, err := r.GetUserByUsername(ctx, systemUser)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	system := &User{
		Name:     "System",
		Username: systemUser,
		Email:    systemUser + "@localhost",
		Password: unusablePassword,
		Active:   false,
	}
	if _, err := r.CreateUser(ctx, system); err != nil {
		return fmt.Errorf("failed to create system user: %w", err)
	}

	r.logger.Info("Seeded system user", map[string]interface{}{"username": system.Username})
	return nil
}

// DB exposes the gorm handle
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a database transaction
func (r *Repository) Transaction(ctx context.Context, fn func(store Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, logger: r.logger})
	})
}

// User operations

// CreateUser creates a new user
func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("failed to create user %q: %w", user.Username, ErrDuplicateUser)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID
func (r *Repository) GetUserByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username, ignoring case
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).
		Where("username = ?", strings.ToLower(strings.TrimSpace(username))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &user, nil
}

// UpdateUser saves every column of user
func (r *Repository) UpdateUser(ctx context.Context, user *User) (*User, error) {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// ListUsers returns one page of users matching query, ordered by id unless sorted
func (r *Repository) ListUsers(ctx context.Context, page, size int, query datatable.Query) (*types.Page[User], error) {
	base := r.db.WithContext(ctx).Model(&User{})
	base, order, err := applyQuery(base, UserColumns, query)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		order = []clause.OrderByColumn{{Column: clause.Column{Name: "users.id", Raw: true}}}
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	var rows []User
	find := base.Session(&gorm.Session{})
	for _, o := range order {
		find = find.Order(o)
	}
	if err := find.Offset(types.Offset(page, size)).Limit(size).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return &types.Page[User]{TotalRows: total, CurrentPage: page, PageSize: size, Rows: rows}, nil
}

// History operations

// CreateUserHistory stores an audit row
func (r *Repository) CreateUserHistory(ctx context.Context, history *UserHistory) (*UserHistory, error) {
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return nil, fmt.Errorf("failed to create user history: %w", err)
	}
	return history, nil
}

// GetUserHistoryByID retrieves an audit row with its user and operator
func (r *Repository) GetUserHistoryByID(ctx context.Context, id uint) (*UserHistory, error) {
	var history UserHistory
	err := r.db.WithContext(ctx).Preload("User").Preload("Operator").First(&history, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user history: %w", err)
	}
	return &history, nil
}

// ListUserHistories returns one page of audit rows matching query, newest first unless sorted
func (r *Repository) ListUserHistories(ctx context.Context, page, size int, query datatable.Query) (*types.Page[UserHistory], error) {
	base := r.db.WithContext(ctx).Model(&UserHistory{}).
		Joins(fmt.Sprintf("JOIN users AS %s ON %s.id = user_histories.user_id", targetAlias, targetAlias)).
		Joins(fmt.Sprintf("JOIN users AS %s ON %s.id = user_histories.operator_id", operatorAlias, operatorAlias))

	base, order, err := applyQuery(base, HistoryColumns, query)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		order = newestFirst()
	}

	return r.pageHistories(base, order, page, size)
}

// ListUserHistoriesByUserID returns one page of a user's audit rows, newest first
func (r *Repository) ListUserHistoriesByUserID(ctx context.Context, page, size int, userID uint) (*types.Page[UserHistory], error) {
	base := r.db.WithContext(ctx).Model(&UserHistory{}).Where("user_histories.user_id = ?", userID)
	return r.pageHistories(base, newestFirst(), page, size)
}

func (r *Repository) pageHistories(base *gorm.DB, order []clause.OrderByColumn, page, size int) (*types.Page[UserHistory], error) {
	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count user histories: %w", err)
	}

	var rows []UserHistory
	find := base.Session(&gorm.Session{}).Select("user_histories.*").Preload("User").Preload("Operator")
	for _, o := range order {
		find = find.Order(o)
	}
	if err := find.Offset(types.Offset(page, size)).Limit(size).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list user histories: %w", err)
	}

	return &types.Page[UserHistory]{TotalRows: total, CurrentPage: page, PageSize: size, Rows: rows}, nil
}

func newestFirst() []clause.OrderByColumn {
	return []clause.OrderByColumn{
		{Column: clause.Column{Name: "user_histories.created_at", Raw: true}, Desc: true},
		{Column: clause.Column{Name: "user_histories.id", Raw: true}, Desc: true},
	}
}

// applyQuery adds the filter predicate to tx and translates the sorting
func applyQuery(tx *gorm.DB, columns datatable.Columns, query datatable.Query) (*gorm.DB, []clause.OrderByColumn, error) {
	where, err := columns.Where(query.Filters)
	if err != nil {
		return nil, nil, err
	}
	if where != nil {
		tx = tx.Where("("+where.SQL+")", where.Vars...)
	}

	order, err := columns.OrderBy(query.Sorting)
	if err != nil {
		return nil, nil, err
	}
	return tx, order, nil
}
