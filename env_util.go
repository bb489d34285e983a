package surrealodm

import (
	"os"
	"strconv"
)

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

// GetEnvIntOrDefault is GetEnvOrDefault for integer settings. A value that
// does not parse falls back to defaultValue.
func GetEnvIntOrDefault(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return n
}
