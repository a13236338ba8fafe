package database

import (
	"fmt"
	"log"
	"time"

	"chat-service/config"
	"chat-service/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Postgres *gorm.DB

func PostgresConnect() {
	var err error
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.Config("POSTGRES_HOST"),
		config.Config("POSTGRES_PORT"),
		config.Config("POSTGRES_USER"),
		config.Config("POSTGRES_PASSWORD"),
		config.Config("POSTGRES_DB"),
	)
	Postgres, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		panic("failed to connect postgres")
	}
	log.Printf("Connection opened to Postgres")

	if err := Migrate(Postgres); err != nil {
		panic(fmt.Sprintf("failed to migrate postgres: %v", err))
	}
	log.Printf("Postgres Database Migrated")
}

// Migrate creates the chat schema. The unique indexes on Session.UserID,
// Inbox.PairKey and FriendRequest.PairKey back the one-per-user and
// one-per-pair rules.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Session{},
		&model.Inbox{},
		&model.InboxMember{},
		&model.Message{},
		&model.FriendRequest{},
		&model.GroupInvitation{},
	)
}
