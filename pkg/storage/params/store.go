package params

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pullplatypus/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Config mirrors the params section of the application config.
type Config struct {
	Driver      string
	DSN         string
	Table       string
	AutoMigrate bool
}

// Store implements storage.ParameterStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

var _ storage.ParameterStore = (*Store)(nil)

type row struct {
	Name      string    `gorm:"column:name;size:512;primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed parameter store.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("params dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported params driver: %s", cfg.Driver)
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = "pullplatypus_parameters"
	}
	store := &Store{db: gormDB, table: table}
	if cfg.AutoMigrate {
		if err := store.tableDB().AutoMigrate(&row{}); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetParametersByPath returns parameters directly under path, keyed by
// their final segment. Nested paths are not included.
func (s *Store) GetParametersByPath(ctx context.Context, path string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	prefix := strings.TrimRight(path, "/") + "/"
	var rows []row
	err := s.tableDB().
		WithContext(ctx).
		Where("name LIKE ?", prefix+"%").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// "_" in the prefix is a LIKE wildcard, so matches are re-checked here.
	out := make(map[string]string, len(rows))
	for _, item := range rows {
		if !strings.HasPrefix(item.Name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(item.Name, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out[rest] = item.Value
	}
	return out, nil
}

// PutParameter inserts or replaces a parameter.
func (s *Store) PutParameter(ctx context.Context, name, value string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("parameter name is required")
	}
	data := row{Name: name, Value: value, UpdatedAt: time.Now().UTC()}
	return s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&data).Error
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported params driver: %s", driver)
	}
}
