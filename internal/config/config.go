package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/orders"
)

const (
	EventSourceWS    = "ws"
	EventSourceKafka = "kafka"
)

type Config struct {
	HTTPAddr       string
	BackendURL     string
	KitchenWSURL   string
	RequestTimeout time.Duration
	ReconnectDelay time.Duration
	EventSource    string
	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroup     string
	ServiceName    string
	LogLevel       string
	// TerminalHeader names the request header carrying the station id.
	TerminalHeader string
}

func Load() Config {
	backendURL := strings.TrimRight(getenv("BACKEND_URL", "http://localhost:3000"), "/")
	return Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8081"),
		BackendURL:     backendURL,
		KitchenWSURL:   getenv("KITCHEN_WS_URL", wsURL(backendURL)+"/ws/kitchen"),
		RequestTimeout: getduration("REQUEST_TIMEOUT", 10*time.Second),
		ReconnectDelay: getduration("RECONNECT_DELAY", 3*time.Second),
		EventSource:    getenv("EVENT_SOURCE", EventSourceWS),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getenv("KAFKA_TOPIC", orders.TopicKitchenEvents),
		KafkaGroup:     getenv("KAFKA_GROUP", "pos-kitchen-board"),
		ServiceName:    getenv("SERVICE_NAME", "pos-api"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		TerminalHeader: getenv("TERMINAL_HEADER", "X-Terminal-ID"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getduration accepts "10s" style values and plain seconds.
func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
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

func wsURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}
