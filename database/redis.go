package database

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"chat-service/config"

	"github.com/redis/go-redis/v9"
)

const (
	// RedisTokens stores the last issued refresh token per user id.
	RedisTokens = 0
	// RedisSocket backs the socket.io adapter.
	RedisSocket = 1
)

var Redis = make(map[int]*redis.Client)

func RedisConnect() {
	dbs := config.List("REDIS_DB")
	if len(dbs) == 0 {
		dbs = []string{strconv.Itoa(RedisTokens), strconv.Itoa(RedisSocket)}
	}

	for _, db := range dbs {
		dbNumber, err := strconv.Atoi(db)
		if err != nil {
			panic(fmt.Sprintf("invalid REDIS_DB entry %q", db))
		}

		options := &redis.Options{
			Addr: fmt.Sprintf(
				"%s:%s",
				config.Config("REDIS_HOST"),
				config.Config("REDIS_PORT"),
			),
			Password: config.Config("REDIS_PASSWORD"),
			DB:       dbNumber,
		}

		Redis[dbNumber] = redis.NewClient(options)
	}

	log.Printf("Connections opened to Redis")
}

// TokenStore keeps the last refresh token issued to each user.
type TokenStore struct {
	Client *redis.Client
}

func (s TokenStore) Set(ctx context.Context, userID, token string) error {
	return s.Client.Set(ctx, userID, token, 0).Err()
}

// Get returns "" when no token was issued to userID.
func (s TokenStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.Client.Get(ctx, userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return token, err
}
