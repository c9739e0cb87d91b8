package rewards

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Обязательная переменная окружения
func Required(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("env %s is not set", name)
	}
	return v, nil
}

// Целое значение с умолчанием; 0 и мусор заменяются умолчанием
func Int(name string, def int) int {
	env := os.Getenv(name)
	if env == "" {
		return def
	}
	v, err := strconv.Atoi(env)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Длительность ("5s", "2m") с умолчанием
func Duration(name string, def time.Duration) time.Duration {
	env := os.Getenv(name)
	if env == "" {
		return def
	}
	v, err := time.ParseDuration(env)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func String(name string, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
