// Package config reads the process-level switches that govern outbound
// requests: protocol preference, TLS verification, timeouts and token
// lifetime defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// VerifyCertificates toggles TLS certificate verification on every
	// outbound request. Defaults to true.
	VerifyCertificates bool
	// Protocol forces "http" or "https" on service URLs at request time.
	// Empty means the URL's own scheme wins; scheme-less URLs normalize to
	// http before any override applies.
	Protocol string
	// Timeout is the per-request timeout, token acquisition included.
	Timeout time.Duration
	// TokenExpiration is the requested token lifetime in minutes.
	TokenExpiration int
	// ProxyAutodetect enables probing a domain for a standard resource
	// proxy page when no token or explicit proxy is configured.
	ProxyAutodetect bool
	LogLevel        string
	// TokenStoreAddr is an optional Redis address for a shared token store.
	TokenStoreAddr string
	KafkaBrokers   string
	EditEventTopic string
}

func FromEnv() Config {
	return Config{
		VerifyCertificates: getbool("ARCREST_VERIFY_CERTIFICATES", true),
		Protocol:           normalizeProtocol(getenv("ARCREST_PROTOCOL", "")),
		Timeout:            getduration("ARCREST_TIMEOUT", 60*time.Second),
		TokenExpiration:    getint("ARCREST_TOKEN_EXPIRATION", 60),
		ProxyAutodetect:    getbool("ARCREST_PROXY_AUTODETECT", false),
		LogLevel:           getenv("ARCREST_LOG_LEVEL", "info"),
		TokenStoreAddr:     getenv("ARCREST_TOKEN_STORE_ADDR", ""),
		KafkaBrokers:       getenv("ARCREST_KAFKA_BROKERS", ""),
		EditEventTopic:     getenv("ARCREST_EDIT_EVENTS_TOPIC", "arcrest-edits"),
	}
}

// Default is the configuration applied when a client is built without an
// explicit Config.
func Default() Config {
	return Config{
		VerifyCertificates: true,
		Timeout:            60 * time.Second,
		TokenExpiration:    60,
		LogLevel:           "info",
		EditEventTopic:     "arcrest-edits",
	}
}

func normalizeProtocol(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "http":
		return "http"
	case "https":
		return "https"
	}
	return ""
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
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

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
