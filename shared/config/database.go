package config

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"password"`
	DBName   string `env:"DB_NAME" envDefault:"cafe_master"`
	SSLMode  string `env:"DB_SSL_MODE" envDefault:"disable"`

	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	// TenantMaxOpenConns is per tenant data store; keep it small so many tenants fit under the server limit
	TenantMaxOpenConns int `env:"DB_TENANT_MAX_OPEN_CONNS" envDefault:"5"`
}

// DSN returns the connection string for the named database
func (c *DatabaseConfig) DSN(dbName string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, dbName, c.SSLMode)
}

// ConnectDatabase opens the master store that holds the tenant registry
func ConnectDatabase(ctx context.Context, c *DatabaseConfig) (*gorm.DB, error) {
	return open(ctx, c.DSN(c.DBName), c.MaxOpenConns, c.MaxIdleConns)
}

func open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

var dataStoreName = regexp.MustCompile(`^tenant_[a-z0-9_]{1,56}$`)

// PostgresDialer opens one postgres database per tenant data store on the
// same server as the master store. A missing database is created on first dial.
type PostgresDialer struct {
	config *DatabaseConfig
	master *gorm.DB
}

// NewPostgresDialer creates a dialer that provisions databases through master
func NewPostgresDialer(c *DatabaseConfig, master *gorm.DB) *PostgresDialer {
	return &PostgresDialer{config: c, master: master}
}

// Dial opens the database for dataStoreID
func (d *PostgresDialer) Dial(ctx context.Context, dataStoreID string) (*gorm.DB, error) {
	if !dataStoreName.MatchString(dataStoreID) {
		return nil, fmt.Errorf("invalid data store id %q", dataStoreID)
	}

	db, err := open(ctx, d.config.DSN(dataStoreID), d.config.TenantMaxOpenConns, d.config.TenantMaxOpenConns)
	if err == nil || !isMissingDatabase(err) {
		return db, err
	}

	logrus.WithField("data_store", dataStoreID).Info("Creating tenant database")
	// identifiers cannot be bound as parameters; dataStoreID is validated above
	if err := d.master.WithContext(ctx).Exec(fmt.Sprintf(`CREATE DATABASE "%s"`, dataStoreID)).Error; err != nil && !isDuplicateDatabase(err) {
		return nil, fmt.Errorf("failed to create tenant database: %w", err)
	}
	return open(ctx, d.config.DSN(dataStoreID), d.config.TenantMaxOpenConns, d.config.TenantMaxOpenConns)
}

func isMissingDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "3D000"
}

func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P04"
}
