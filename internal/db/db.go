package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/quietriver/chatrelay/internal/models"
	"github.com/quietriver/chatrelay/internal/relay"
	"github.com/quietriver/chatrelay/internal/room"
)

// Connect opens the MySQL connection and migrates the schema.
// TranslateError lets callers match gorm.ErrDuplicatedKey across drivers.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := gdb.AutoMigrate(&models.User{}, &room.Room{}, &room.Message{}, &relay.Job{}); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}
