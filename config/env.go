// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv 读取 .env；已存在的环境变量优先
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		log.Printf("load .env: %v", err)
	}
}

func Get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Seconds 读取整数秒，非法或非正值时用 def
func Seconds(k string, def time.Duration) time.Duration {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
