package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr     string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	ServiceName  string
	Dev          bool

	// Checkout pipeline knobs. A reservation held longer than
	// ReservationTTL without an order outcome is considered abandoned and
	// swept back into available stock.
	ReservationTTL     time.Duration
	PaymentAttempts    int
	PaymentTimeout     time.Duration
	SweepInterval      time.Duration
	CreatedOrderMaxAge time.Duration
	CartTTL            time.Duration
	RelayInterval      time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8081"),
		PostgresDSN:  getenv("POSTGRES_DSN", ""),
		RedisAddr:    getenv("REDIS_ADDR", ""),
		KafkaBrokers: splitCSV(getenv("KAFKA_BROKERS", "")),
		ServiceName:  getenv("SERVICE_NAME", "checkout-api"),
		Dev:          getenv("APP_ENV", "") == "dev",

		ReservationTTL:     getdur("RESERVATION_TTL", 15*time.Minute),
		PaymentAttempts:    getint("PAYMENT_ATTEMPTS", 3),
		PaymentTimeout:     getdur("PAYMENT_TIMEOUT", 5*time.Second),
		SweepInterval:      getdur("SWEEP_INTERVAL", 30*time.Second),
		CreatedOrderMaxAge: getdur("CREATED_ORDER_MAX_AGE", time.Hour),
		CartTTL:            getdur("CART_TTL", 24*time.Hour),
		RelayInterval:      getdur("RELAY_INTERVAL", time.Second),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
