package postgres

import "time"

// Config holds PostgreSQL connection settings shared by the pgvector store
// and the chunk metadata sink.
type Config struct {
	DSN               string
	Label             string
	MaxConns          int
	MinConns          int
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	PingTimeout       time.Duration
}
