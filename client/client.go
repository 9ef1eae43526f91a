// Package client defines the boundary between the Firebolt driver core and
// the underlying engine client. The driver depends only on these interfaces;
// restclient provides the default implementation and tests substitute fakes.
package client

import (
	"context"
	"errors"
	"fmt"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// ColumnMeta describes one result column with its engine-native type string,
// e.g. "long", "nullable(text)", "array(int)".
type ColumnMeta struct {
	Name string
	Type string
}

// RowTransformer is applied to every row as it is materialized or streamed,
// before the row ever reaches the caller.
type RowTransformer func(row Row, meta []ColumnMeta) Row

// ExecuteOptions carries per-query settings, positional parameters and the
// row transformation callback into Connection.Execute.
type ExecuteOptions struct {
	Settings     map[string]string
	Parameters   []any
	TransformRow RowTransformer
}

// Result is a fully materialized result set.
type Result struct {
	Rows []Row
	Meta []ColumnMeta
}

// RowStream is a lazy, forward-only, single-pass row sequence. It is not
// restartable; Close releases the underlying response.
type RowStream interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// StreamResult pairs a row stream with the column metadata that becomes
// available once the stream has started. Meta is fixed for the stream's
// lifetime.
type StreamResult struct {
	Rows RowStream
	Meta []ColumnMeta
}

// Statement is a submitted query from which results are fetched exactly once,
// either buffered or streamed.
type Statement interface {
	FetchResult(ctx context.Context) (*Result, error)
	StreamResult(ctx context.Context) (*StreamResult, error)
}

// Connection is an authenticated session with the remote engine.
type Connection interface {
	TestConnection(ctx context.Context) error
	Execute(ctx context.Context, sql string, opts ExecuteOptions) (Statement, error)
	Destroy(ctx context.Context) error
}

// Engine is a handle to a named remote compute engine.
type Engine interface {
	StartAndWait(ctx context.Context) error
}

// Client is the engine client capability consumed by the driver.
type Client interface {
	Connect(ctx context.Context, config ConnectionConfig) (Connection, error)
	EngineByName(ctx context.Context, name string) (Engine, error)
}

// ConnectionConfig holds everything needed to establish a session. It is
// built once at driver construction and never mutated afterwards. Exactly one
// of the credential pairs is set: username/password when the configured
// username contains an '@', client id/secret otherwise.
type ConnectionConfig struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string

	Database       string
	Account        string
	EngineName     string
	EngineEndpoint string // legacy direct-endpoint mode, skips engine lookup
	APIEndpoint    string
	ClientTag      string
}

// APIError is an engine-reported failure carrying the numeric status code the
// retry policy inspects. Only 401 and 404 are ever interpreted by the driver;
// everything else passes through opaque.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine api error: status %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the engine status code from err, walking wrapped
// errors. Returns 0 when err carries no APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
