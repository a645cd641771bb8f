// Package database provides database connectivity, models, and the data
// access layer for the one-app-api service: signed-in drives, the item
// catalog mirrored from delta sync, and the upload job queue.
package database

import (
	"context"
	"fmt"
	"time"
)

// Database represents the main database interface for the application
type Database struct {
	conn   *Connection
	store  *Store
	config *Config
}

// New creates a new database instance with all components
func New(config *Config) (*Database, error) {
	conn, err := NewConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &Database{
		conn:   conn,
		store:  NewStore(conn.DB()),
		config: config,
	}, nil
}

// Connect verifies the connection is usable
func (db *Database) Connect(ctx context.Context) error {
	if err := db.conn.Ping(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	return nil
}

// Close closes all database connections
func (db *Database) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Store returns the data access layer
func (db *Database) Store() *Store {
	return db.store
}

// HealthCheck performs a comprehensive health check
func (db *Database) HealthCheck(ctx context.Context) error {
	return db.conn.HealthCheck(ctx)
}

// GetStats returns database statistics
func (db *Database) GetStats() (map[string]interface{}, error) {
	return db.conn.GetStats()
}

// WaitForDatabase waits for the database to become available
func WaitForDatabase(ctx context.Context, config *Config, maxRetries int, retryInterval time.Duration) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		db, err := New(config)
		if err != nil {
			lastErr = err
			time.Sleep(retryInterval)
			continue
		}

		if err := db.Connect(ctx); err != nil {
			lastErr = err
			db.Close()
			time.Sleep(retryInterval)
			continue
		}

		db.Close()
		return nil
	}

	return fmt.Errorf("database not available after %d retries: %w", maxRetries, lastErr)
}
