// Package firebolt implements a client-side driver for the Firebolt
// analytical engine. The driver manages exactly one logical connection,
// recovers once per call from expired sessions (401) and stopped engines
// (404), and normalizes engine-native column types and numeric values into a
// generic, driver-agnostic vocabulary.
package firebolt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/querylayer/firebolt-driver/client"
	"github.com/querylayer/firebolt-driver/logfield"
)

// ErrUnloadNotSupported is returned by Unload; the engine has no export path
// through this driver.
var ErrUnloadNotSupported = errors.New("firebolt: unload is not supported")

// ColumnType pairs a column name with its resolved generic type.
type ColumnType struct {
	Name string
	Type string
}

// ColumnDefinition describes one column for CreateTableSQL, typed in the
// generic vocabulary.
type ColumnDefinition struct {
	Name string
	Type string
}

// QueryResults couples materialized, hydrated rows with their generic column
// types.
type QueryResults struct {
	Rows  []client.Row
	Types []ColumnType
}

// StreamedResults couples a lazy, single-pass row stream with generic column
// types resolved once at stream start and fixed for the stream's lifetime.
type StreamedResults struct {
	Rows  client.RowStream
	Types []ColumnType
}

// Firebolt is the driver facade consumed by the query-orchestration layer.
// One instance owns one logical connection; instances are safe for
// concurrent use.
type Firebolt struct {
	dataSource string
	logger     logger.Logger
	stats      stats.Stats

	connConfig            client.ConnectionConfig
	readOnly              bool
	testConnectionTimeout time.Duration

	connections *connectionManager
	executor    *retryExecutor
}

// New builds a driver for the named data source. Connection parameters come
// from FIREBOLT.<dataSource>.* configuration values; overrides win over
// configuration and may be nil.
func New(conf *config.Config, log logger.Logger, statsFactory stats.Stats, engineClient client.Client, dataSource string, overrides map[string]any) *Firebolt {
	s := settings{dataSource: dataSource, conf: conf, overrides: overrides}
	connConfig := s.connectionConfig()

	log = log.Child("firebolt").With(
		logfield.DataSource, dataSource,
		logfield.Database, connConfig.Database,
	)

	if poolSize := s.getInt(keyPoolSize, 1); poolSize > 1 {
		log.Warnw("pool size hint ignored, the driver manages a single logical connection")
	}

	guard := &engineGuard{
		engineClient: engineClient,
		engineName:   connConfig.EngineName,
		logger:       log,
	}
	connections := &connectionManager{
		dataSource:     dataSource,
		engineClient:   engineClient,
		config:         connConfig,
		guard:          guard,
		connectTimeout: s.getDuration(keyConnectionTimeout, 0),
		logger:         log,
		stats:          statsFactory,
	}

	return &Firebolt{
		dataSource:            dataSource,
		logger:                log,
		stats:                 statsFactory,
		connConfig:            connConfig,
		readOnly:              s.getBool(keyReadOnly, false),
		testConnectionTimeout: s.getDuration(keyTestConnectionTimeout, defaultTestConnectionTimeout),
		connections:           connections,
		executor: &retryExecutor{
			dataSource:  dataSource,
			connections: connections,
			guard:       guard,
			logger:      log,
			stats:       statsFactory,
		},
	}
}

// Query runs a buffered query and returns the hydrated rows.
func (f *Firebolt) Query(ctx context.Context, query string, params ...any) ([]client.Row, error) {
	result, err := f.executor.execute(ctx, query, params, fetchBuffered)
	if err != nil {
		return nil, err
	}
	return result.buffered.Rows, nil
}

// Stream runs a streaming query. The returned row sequence is forward-only
// and single-pass; the caller must drain or close it.
func (f *Firebolt) Stream(ctx context.Context, query string, params ...any) (*StreamedResults, error) {
	result, err := f.executor.execute(ctx, query, params, fetchStreamed)
	if err != nil {
		return nil, err
	}
	return &StreamedResults{
		Rows:  result.streamed.Rows,
		Types: columnTypes(result.streamed.Meta),
	}, nil
}

// DownloadQueryResults runs a buffered query and returns rows together with
// resolved generic column types.
func (f *Firebolt) DownloadQueryResults(ctx context.Context, query string, params ...any) (*QueryResults, error) {
	result, err := f.executor.execute(ctx, query, params, fetchBuffered)
	if err != nil {
		return nil, err
	}
	return &QueryResults{
		Rows:  result.buffered.Rows,
		Types: columnTypes(result.buffered.Meta),
	}, nil
}

// TestConnection acquires the connection and asks it to validate itself.
// There is no retry layer here: a broken connection is terminal for this
// call. The timeout is generous by default to tolerate engine cold starts.
func (f *Firebolt) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.testConnectionTimeout)
	defer cancel()

	conn, err := f.connections.acquire(ctx)
	if err != nil {
		return err
	}
	return conn.TestConnection(ctx)
}

// GetTables lists the user tables of the connected database.
func (f *Firebolt) GetTables(ctx context.Context) ([]string, error) {
	rows, err := f.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema NOT IN ('information_schema', 'catalog')
	`)
	if err != nil {
		return nil, fmt.Errorf("fetching tables: %w", err)
	}
	return lo.Map(rows, func(row client.Row, _ int) string {
		return cast.ToString(row["table_name"])
	}), nil
}

// TableColumnTypes returns the columns of a table with their generic types.
func (f *Firebolt) TableColumnTypes(ctx context.Context, table string) ([]ColumnType, error) {
	rows, err := f.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = ?
	`, table)
	if err != nil {
		return nil, fmt.Errorf("fetching columns of %s: %w", table, err)
	}
	return lo.Map(rows, func(row client.Row, _ int) ColumnType {
		return ColumnType{
			Name: cast.ToString(row["column_name"]),
			Type: ToGenericType(cast.ToString(row["data_type"])),
		}
	}), nil
}

// CreateTableSQL builds a CREATE TABLE statement from generic column
// definitions.
func (f *Firebolt) CreateTableSQL(name string, columns []ColumnDefinition) string {
	cols := lo.Map(columns, func(c ColumnDefinition, _ int) string {
		return fmt.Sprintf(`%s %s`, c.Name, FromGenericType(c.Type))
	})
	return fmt.Sprintf(`CREATE TABLE %s (%s)`, name, strings.Join(cols, ", "))
}

// DropTable drops a table. A schema qualifier is stripped first; the engine
// addresses tables by their unqualified name.
func (f *Firebolt) DropTable(ctx context.Context, table string) error {
	if idx := strings.LastIndex(table, "."); idx >= 0 {
		table = table[idx+1:]
	}

	f.logger.Infow("dropping table", logfield.TableName, table)
	if _, err := f.Query(ctx, fmt.Sprintf(`DROP TABLE %s`, table)); err != nil {
		return fmt.Errorf("dropping table %s: %w", table, err)
	}
	return nil
}

// CreateSchemaIfNotExists is a defined no-op: the engine provisions the
// schema implicitly with the database.
func (f *Firebolt) CreateSchemaIfNotExists(context.Context, string) error {
	return nil
}

// Unload always fails; see IsUnloadSupported.
func (f *Firebolt) Unload(context.Context, string) error {
	return ErrUnloadNotSupported
}

// IsUnloadSupported reports false: the engine has no export path through
// this driver.
func (f *Firebolt) IsUnloadSupported() bool {
	return false
}

// ReadOnly reports whether the driver is configured read-only.
func (f *Firebolt) ReadOnly() bool {
	return f.readOnly
}

// ToGenericType maps an engine-native type name to its generic type.
func (f *Firebolt) ToGenericType(columnType string) string {
	return ToGenericType(columnType)
}

// QuoteIdentifier wraps an identifier in double quotes. Embedded quote
// characters are not escaped; that is the caller's responsibility.
func (f *Firebolt) QuoteIdentifier(identifier string) string {
	return fmt.Sprintf(`"%s"`, identifier)
}

// Release tears down the current connection if one exists. Idempotent.
func (f *Firebolt) Release(ctx context.Context) error {
	return f.connections.release(ctx)
}

func columnTypes(meta []client.ColumnMeta) []ColumnType {
	return lo.Map(meta, func(m client.ColumnMeta, _ int) ColumnType {
		return ColumnType{Name: m.Name, Type: ToGenericType(m.Type)}
	})
}
