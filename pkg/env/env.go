package env

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads the given .env files (default ".env") into the process
// environment without overriding variables that are already set.
func LoadEnv(files ...string) {
	err := godotenv.Load(files...)

	if err != nil {
		log.Println("⚠️  No .env file found, using system envs")
	}
}

func GetEnv(key string, fallback string) string {
	if value, exist := os.LookupEnv(key); exist {
		return value
	}
	return fallback
}
