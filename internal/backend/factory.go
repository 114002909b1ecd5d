// Package backend builds the data store and the optional event bus and
// spreadsheet exporter from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"

	"budgetly/internal/amqp"
	"budgetly/internal/log"
	"budgetly/internal/sheets"
	gsheet "budgetly/internal/sheets/google"
	memsheet "budgetly/internal/sheets/memory"
	"budgetly/internal/store"
	"budgetly/internal/store/memory"
	"budgetly/internal/store/rest"
	"budgetly/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	return &DefaultFactory{
		logger: log.OrDiscard(logger).WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend. On error every resource
// opened so far is released.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	st, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	res := &BackendResult{Store: st}

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		switch {
		case err != nil && config.RequireAMQP:
			_ = st.Close()
			return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
		case err != nil:
			f.logger.Warn("Failed to initialize AMQP client, seeding and export run inline", log.FieldError, err)
		default:
			res.AMQP = client
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	if config.WithExporter {
		exporter, err := f.createExporter(ctx, config)
		if err != nil {
			_ = res.close()
			return nil, err
		}
		res.Exporter = exporter
	}

	res.Cleanup = res.close
	return res, nil
}

func (f *DefaultFactory) createStore(config Config) (store.Store, error) {
	switch config.Type {
	case RESTBackend:
		var opts []rest.Option
		if config.RequestTimeout > 0 {
			opts = append(opts, rest.WithTimeout(config.RequestTimeout))
		}
		client, err := rest.New(config.StoreURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize REST store: %w", err)
		}
		f.logger.Info("Initialized REST backend", "store_url", config.StoreURL)
		return client, nil

	case SQLiteBackend:
		repo, err := sqlite.New(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil

	case MemoryBackend:
		if config.MemorySeedFile == "" {
			f.logger.Info("Initialized memory backend")
			return memory.New(), nil
		}
		st, err := memory.NewFromFile(config.MemorySeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
		}
		f.logger.Info("Initialized memory backend", "seed_file", config.MemorySeedFile)
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// createExporter picks Google Sheets when a spreadsheet is configured and
// the in-process exporter otherwise.
func (f *DefaultFactory) createExporter(ctx context.Context, config Config) (sheets.Exporter, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.Info("No spreadsheet configured, exporting to memory")
		return memsheet.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsJSON: config.GoogleCredentialsJSON,
		CredentialsFile: config.GoogleCredentialsFile,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	return client, nil
}

func (r *BackendResult) close() error {
	var errs []error
	if r.AMQP != nil {
		errs = append(errs, r.AMQP.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	return errors.Join(errs...)
}
