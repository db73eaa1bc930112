// Package sqlstore implements storage.Store on a relational engine through GORM.
// SQLite is the default; Postgres and MySQL are selected by driver name.
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"

	// sqliteBusyTimeout is how long a writer waits on a locked database file
	sqliteBusyTimeout = 5 * time.Second
)

// Config holds store configuration
type Config struct {
	// Driver is one of sqlite, postgres, mysql (default sqlite)
	Driver string

	// DSN is the driver-specific data source; a file path for sqlite
	DSN string

	// DisableDeviceCache forces every registry lookup to hit the database (test mode)
	DisableDeviceCache bool

	Logger   logrus.FieldLogger
	Observer storage.Observer
}

// Store implements storage.Store
type Store struct {
	db       *gorm.DB
	cache    *deviceCache
	log      logrus.FieldLogger
	observer storage.Observer

	// now is replaceable in tests
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open connects, migrates the schema and returns a ready store.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	dialector, err := dialectorFor(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		// One connection: writers serialize, pragmas stick to the session
		sqlDB.SetMaxOpenConns(1)
	}

	s := New(db, cfg)
	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing GORM handle without touching the schema.
func New(db *gorm.DB, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = storage.NopObserver{}
	}
	return &Store{
		db:       db,
		cache:    newDeviceCache(!cfg.DisableDeviceCache),
		log:      logger.WithField("component", "sqlstore"),
		observer: observer,
		now:      time.Now,
	}
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverSQLite:
		return sqlite.Open(sqliteDSN(dsn)), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", storage.ErrInvalidInput, driver)
	}
}

// sqliteDSN adds the connection parameters the store relies on unless the caller set them.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "hvacdash.db"
	}
	var params []string
	if !strings.Contains(dsn, "_busy_timeout") {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", sqliteBusyTimeout.Milliseconds()))
	}
	if !strings.Contains(dsn, "_journal_mode") && !strings.Contains(dsn, ":memory:") {
		params = append(params, "_journal_mode=WAL")
	}
	if !strings.Contains(dsn, "_synchronous") {
		params = append(params, "_synchronous=NORMAL")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&deviceRow{}, &devlogRow{}, &changelogRow{}); err != nil {
		return storage.Wrap("migrate", err)
	}
	return nil
}

func (s *Store) isSQLite() bool {
	return s.db.Dialector.Name() == DriverSQLite
}

// Reset drops and recreates every table and clears the device cache.
func (s *Store) Reset(ctx context.Context) error {
	s.cache.reset()
	if err := s.db.WithContext(ctx).Migrator().DropTable(&devlogRow{}, &changelogRow{}, &deviceRow{}); err != nil {
		return storage.Wrap("reset", err)
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}
	s.log.Info("Store reset")
	return nil
}

// WithReducedDurability turns off fsync on SQLite while fn runs, then puts
// back whatever synchronous level the connection had before.
func (s *Store) WithReducedDurability(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.isSQLite() {
		return fn(ctx)
	}

	var mode int
	if err := s.db.WithContext(ctx).Raw("PRAGMA synchronous").Row().Scan(&mode); err != nil {
		return storage.Wrap("read synchronous mode", err)
	}
	if err := s.db.WithContext(ctx).Exec("PRAGMA synchronous = OFF").Error; err != nil {
		return storage.Wrap("reduce durability", err)
	}
	defer func() {
		// ctx may already be cancelled; the restore must still run
		restoreCtx, cancel := context.WithTimeout(context.Background(), sqliteBusyTimeout)
		defer cancel()
		if err := s.db.WithContext(restoreCtx).Exec(fmt.Sprintf("PRAGMA synchronous = %d", mode)).Error; err != nil {
			s.log.WithError(err).WithField("mode", mode).Error("Failed to restore synchronous mode")
		}
	}()

	return fn(ctx)
}

// Stats returns row counts and the logtime span of the telemetry log.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	db := s.db.WithContext(ctx)
	var st storage.Stats

	if err := db.Model(&deviceRow{}).Count(&st.Devices).Error; err != nil {
		return nil, storage.Wrap("stats", err)
	}
	if err := db.Model(&devlogRow{}).Count(&st.Entries).Error; err != nil {
		return nil, storage.Wrap("stats", err)
	}
	if err := db.Model(&changelogRow{}).Count(&st.ChangeEntries).Error; err != nil {
		return nil, storage.Wrap("stats", err)
	}

	var span logtimeSpan
	err := db.Model(&devlogRow{}).
		Select("COALESCE(MIN(logtime), 0) AS oldest, COALESCE(MAX(logtime), 0) AS newest").
		Scan(&span).Error
	if err != nil {
		return nil, storage.Wrap("stats", err)
	}
	st.OldestLogtime = span.Oldest
	st.NewestLogtime = span.Newest
	return &st, nil
}

type logtimeSpan struct {
	Oldest int64 `gorm:"column:oldest"`
	Newest int64 `gorm:"column:newest"`
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
