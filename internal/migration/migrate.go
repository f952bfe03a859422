package migration

import (
	"context"
	"io/fs"
	"sort"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type appliedMigration struct {
	Name      string    `gorm:"primaryKey;type:text"`
	AppliedAt time.Time `gorm:"not null"`
}

func (appliedMigration) TableName() string { return "schema_migrations" }

// Run applies every embedded migration not yet recorded, each in its own
// transaction, in lexical order.
func Run(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")
	if err := db.WithContext(ctx).AutoMigrate(&appliedMigration{}); err != nil {
		return err
	}

	names, err := listMigrations()
	if err != nil {
		return err
	}
	for _, name := range names {
		applied, err := isApplied(ctx, db, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		sql, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/"+name)
		if err != nil {
			return err
		}
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(string(sql)).Error; err != nil {
				return err
			}
			return tx.Create(&appliedMigration{Name: name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			log.Error("apply migration", zap.String("name", name), zap.Error(err))
			return err
		}
		log.Info("applied migration", zap.String("name", name))
	}
	return nil
}

func listMigrations() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isApplied(ctx context.Context, db *gorm.DB, name string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&appliedMigration{}).
		Where("name = ?", name).
		Count(&count).Error
	return count > 0, err
}

// Module applies migrations before the rest of the app starts.
var Module = fx.Module("migration",
	fx.Invoke(func(db *gorm.DB, log *zap.Logger) error {
		return Run(context.Background(), db, log)
	}),
)
