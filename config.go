package main

import (
	"os"
	"strconv"
)

type Config struct {
	Port         string
	RedisAddr    string
	Lookahead    int
	TxMaxRetries int
	PubNub       PubNubConfig
}

func LoadConfig() Config {
	return Config{
		Port:         readString("PORT", "8081"),
		RedisAddr:    readString("REDIS_ADDR", "localhost:6379"),
		Lookahead:    readInt("NOTIFY_LOOKAHEAD", 3),
		TxMaxRetries: readInt("TX_MAX_RETRIES", 16),
		PubNub: PubNubConfig{
			PublishKey:   os.Getenv("PN_PUBLISH_KEY"),
			SubscribeKey: os.Getenv("PN_SUBSCRIBE_KEY"),
			SecretKey:    os.Getenv("PN_SECRET_KEY"),
			UUIDKey:      readString("PN_UUID", "ticket-queue-server"),
			UUIDSubKey:   readString("PN_UUID_SUB", "ticket-queue-client"),
		},
	}
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
