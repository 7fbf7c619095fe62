package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"commission-engine/internal/config"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

const migrationDir = "sql"

// RunMigrations применяет миграции к базе данных
func RunMigrations(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("начало применения миграций")

	db, err := open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.Up(db, migrationDir); err != nil {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	logger.Info("миграции успешно применены")
	return nil
}

// GetMigrationStatus выводит статус миграций
func GetMigrationStatus(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("проверка статуса миграций")

	db, err := open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.Status(db, migrationDir); err != nil {
		return fmt.Errorf("ошибка получения статуса миграций: %w", err)
	}

	logger.Info("статус миграций получен")
	return nil
}

// open настраивает goose на встроенные миграции и создает временное подключение
func open(cfg *config.Config) (*sql.DB, error) {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("ошибка установки диалекта: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.GetURL())
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных для миграций: %w", err)
	}

	return db, nil
}
