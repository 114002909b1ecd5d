package backend

import (
	"context"
	"time"

	"budgetly/internal/amqp"
	"budgetly/internal/services"
	"budgetly/internal/sheets"
	"budgetly/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds everything a binary needs from its environment: the
// data store and the optional event bus and spreadsheet exporter.
type BackendResult struct {
	Store store.Store
	// AMQP is nil when no broker is configured or reachable.
	AMQP *amqp.Client
	// Exporter is nil when transactions are not exported.
	Exporter sheets.Exporter
	Cleanup  CleanupFunc
}

// Publisher returns the event publisher for the services, or a nil
// interface when there is no broker, so work runs inline.
func (r *BackendResult) Publisher() services.Publisher {
	if r.AMQP == nil {
		return nil
	}
	return r.AMQP
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// REST store
	StoreURL       string
	RequestTimeout time.Duration

	// SQLite store
	SQLiteDBPath string

	// Memory store; an empty path starts empty.
	MemorySeedFile string

	// Event bus (optional). RequireAMQP makes a failed connection fatal.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	RequireAMQP  bool

	// Spreadsheet export (optional)
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string
	// WithExporter builds the exporter; only the worker needs one.
	WithExporter bool
}

// BackendType represents the type of backend
type BackendType string

const (
	RESTBackend   BackendType = "rest"
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case RESTBackend, SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
