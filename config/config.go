package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var loadOnce sync.Once

// Config returns the value of an environment variable. A .env file in the
// working directory is loaded on first use.
func Config(key string) string {
	loadOnce.Do(func() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("error loading .env file: %v", err)
		}
	})
	return os.Getenv(key)
}

func Int(key string, def int) int {
	v, err := strconv.Atoi(Config(key))
	if err != nil {
		return def
	}
	return v
}

func Bool(key string, def bool) bool {
	v, err := strconv.ParseBool(Config(key))
	if err != nil {
		return def
	}
	return v
}

// Duration accepts Go duration strings ("5s", "250ms").
func Duration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(Config(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func String(key, def string) string {
	if v := Config(key); v != "" {
		return v
	}
	return def
}

// List splits a comma separated value, dropping empty items.
func List(key string) []string {
	var out []string
	for _, item := range strings.Split(Config(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
