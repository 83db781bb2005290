package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to the PostgreSQL instance holding the user
// directory and friendship graph, and initializes the schema.
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	if err = PostgresDB.Ping(); err != nil {
		return err
	}

	return InitPostgresTables()
}

// InitPostgresTables creates the schema if it does not exist.
func InitPostgresTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(32) NOT NULL UNIQUE,
			display_name VARCHAR(64) NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS friend_requests (
			id UUID PRIMARY KEY,
			sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			receiver_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CHECK (sender_id <> receiver_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_receiver
			ON friend_requests(receiver_id) WHERE status = 'pending'`,

		// One row per friendship, smaller id first.
		`CREATE TABLE IF NOT EXISTS friendships (
			user_a UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_b UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_a, user_b),
			CHECK (user_a < user_b)
		)`,
	}

	for _, q := range queries {
		if _, err := PostgresDB.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
