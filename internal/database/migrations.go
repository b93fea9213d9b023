package database

import (
	"errors"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/gallery"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRepairImageDisplayOrder = "2026-10-01_repair_image_display_order"
	migrationRepairSinglePrimary     = "2026-10-01_repair_single_primary"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRepairImageDisplayOrder, apply: repairImageDisplayOrder},
		{name: migrationRepairSinglePrimary, apply: repairSinglePrimary},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// loadImagesByEntry groups every image by entry in display order.
func loadImagesByEntry(db *gorm.DB) (map[string][]gallery.Image, []string, error) {
	var images []gallery.Image
	if err := db.Order("entry_id ASC, display_order ASC, created_at ASC, id ASC").Find(&images).Error; err != nil {
		return nil, nil, err
	}
	grouped := make(map[string][]gallery.Image)
	for _, image := range images {
		grouped[image.EntryID] = append(grouped[image.EntryID], image)
	}
	entryIDs := make([]string, 0, len(grouped))
	for entryID := range grouped {
		entryIDs = append(entryIDs, entryID)
	}
	sort.Strings(entryIDs)
	return grouped, entryIDs, nil
}

// repairImageDisplayOrder rewrites every entry's image orders to 0..N-1.
func repairImageDisplayOrder(db *gorm.DB) error {
	grouped, entryIDs, err := loadImagesByEntry(db)
	if err != nil {
		return err
	}
	for _, entryID := range entryIDs {
		for index, image := range grouped[entryID] {
			if image.DisplayOrder == index {
				continue
			}
			if err := db.Model(&gallery.Image{}).Where("id = ?", image.ID).Update("display_order", index).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// repairSinglePrimary leaves exactly one primary image per entry: the first flagged
// one in display order, or the first image when none is flagged.
func repairSinglePrimary(db *gorm.DB) error {
	grouped, entryIDs, err := loadImagesByEntry(db)
	if err != nil {
		return err
	}
	for _, entryID := range entryIDs {
		images := grouped[entryID]
		keep := images[0].ID
		for _, image := range images {
			if image.IsPrimary {
				keep = image.ID
				break
			}
		}
		for _, image := range images {
			shouldBePrimary := image.ID == keep
			if image.IsPrimary == shouldBePrimary {
				continue
			}
			if err := db.Model(&gallery.Image{}).Where("id = ?", image.ID).Update("is_primary", shouldBePrimary).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
