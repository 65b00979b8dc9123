package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// MigrationLogger adapts ectologger to migrate.Logger.
type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	// AutoRollback forces a dirty database back to the previous version after a failed migration.
	AutoRollback bool
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) resolveMigrationFolder() string {
	folder := ms.config.MigrationFolderPath
	if _, err := os.Stat(folder); err == nil || filepath.IsAbs(folder) {
		return folder
	}
	workingDirectory, _ := os.Getwd()
	return filepath.Join(workingDirectory, folder)
}

// MigratePostgres applies the migrations in the configured folder to db.
func (ms *MigrationService) MigratePostgres(db *sql.DB, databaseName string) error {
	folder := ms.resolveMigrationFolder()
	if _, err := os.Stat(folder); err != nil {
		return errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return errors.Wrap(err, "failed to create postgres migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	return ms.runMigration(m)
}

func (ms *MigrationService) runMigration(m *migrate.Migrate) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	version, _, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
	}

	startTime := time.Now()

	var migrationErr error
	if ms.config.Version != 0 {
		migrationErr = m.Migrate(ms.config.Version)
	} else {
		migrationErr = m.Up()
	}

	ms.logger.Infof("Database migrations completed in %v", time.Since(startTime))

	return ms.handleMigrationError(m, migrationErr, version)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previousVersion uint) error {
	if err == nil {
		ms.logger.Info("Successfully applied migrations")
		return nil
	}

	if err == migrate.ErrNoChange {
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	// The database is ahead of the folder, usually after a rollback of the binary.
	if strings.Contains(err.Error(), "no migration found for version") {
		latest, latestErr := getLatestVersion(ms.resolveMigrationFolder())
		if latestErr != nil {
			ms.logger.WithError(latestErr).Error("Failed to get latest migration version")
			return err
		}
		ms.logger.Warnf("No migration found for version %d. Forcing database to version %d", previousVersion, latest)
		return m.Force(latest)
	}

	ms.logger.WithError(err).Errorf("Migration failed with error: %v", err)

	version, dirty, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
		return err
	}

	if ms.config.AutoRollback && dirty {
		if previousVersion == 0 && version > 0 {
			previousVersion = version - 1
		}
		ms.logger.Warnf("Database is dirty at version %d. Reverting to version %d", version, previousVersion)
		if forceErr := m.Force(int(previousVersion)); forceErr != nil {
			ms.logger.WithError(forceErr).Errorf("Failed to force database to version %d", previousVersion)
			return forceErr
		}
	}

	// The original error still stops startup after a rollback.
	return err
}

func getLatestVersion(folderPath string) (int, error) {
	files, err := os.ReadDir(folderPath)
	if err != nil {
		return 0, err
	}

	re := regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)
	var versions []int
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := re.FindStringSubmatch(file.Name())
		if len(matches) < 2 {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		versions = append(versions, version)
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found in %s", folderPath)
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
