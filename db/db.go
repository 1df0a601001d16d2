package db

import (
	"fmt"

	"lending_portal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectDB 打开 Postgres 并迁移
func ConnectDB(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ActionLog{}); err != nil {
		return err
	}

	// 最近操作列表按时间倒序
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_created_at_desc
	  ON %s (created_at DESC);
	`, models.ActionLogTable, models.ActionLogTable)).Error; err != nil {
		return err
	}

	// 按操作者筛选
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_actor_created_at
	  ON %s (actor_id, created_at DESC);
	`, models.ActionLogTable, models.ActionLogTable)).Error; err != nil {
		return err
	}

	return nil
}
