package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/chatcine/chatcine/internal/chat"
	"github.com/chatcine/chatcine/internal/models"
)

// Connect opens the MySQL database and migrates the schema.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := gdb.AutoMigrate(
		&models.User{},
		&chat.Session{},
		&chat.Message{},
		&chat.Job{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}
