package models

import "time"

// CacheEntry wraps a cached value with its creation time and time-to-live.
// Entries are replaced as a whole; a value is never modified in place.
type CacheEntry[T any] struct {
	Value     T
	CreatedAt time.Time
	TTL       time.Duration
}

// NewCacheEntry creates an entry stamped at now.
func NewCacheEntry[T any](value T, now time.Time, ttl time.Duration) *CacheEntry[T] {
	return &CacheEntry[T]{Value: value, CreatedAt: now, TTL: ttl}
}

// IsValid reports whether the entry is still fresh at now.
func (e *CacheEntry[T]) IsValid(now time.Time) bool {
	if e == nil {
		return false
	}
	return now.Sub(e.CreatedAt) < e.TTL
}

// ExpiresAt returns the instant the entry stops being valid.
func (e *CacheEntry[T]) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// CacheStatus is the observable state of the schema cache.
type CacheStatus struct {
	BuiltAt        *time.Time `json:"built_at"`
	Valid          bool       `json:"valid"`
	TableCount     int        `json:"table_count"`
	ProcedureCount int        `json:"procedure_count"`
	Rebuilds       int64      `json:"rebuilds"`
	Rebuilding     bool       `json:"rebuilding"`
	Degraded       bool       `json:"degraded"`
	TTLSeconds     float64    `json:"ttl_seconds"`
	LastError      string     `json:"last_error,omitempty"`
}
