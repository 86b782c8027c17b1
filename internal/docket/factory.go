package docket

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildStoreFromDSN selects a Store implementation by DSN scheme. An empty
// DSN falls back to the in-memory store.
func BuildStoreFromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", parsed.Scheme)
	}
}
