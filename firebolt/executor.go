package firebolt

import (
	"context"
	"net/http"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/querylayer/firebolt-driver/client"
	"github.com/querylayer/firebolt-driver/logfield"
)

type fetchMode int

const (
	fetchBuffered fetchMode = iota
	fetchStreamed
)

// retryExecutor orchestrates the connection manager and engine guard around a
// single query submission. Two failure classes are recovered, each at most
// once per top-level call: a 401 invalidates the connection and recreates it,
// a 404 starts the configured engine. The retried attempt always runs with
// retries disabled, so a third failure can never trigger another attempt.
type retryExecutor struct {
	dataSource  string
	connections *connectionManager
	guard       *engineGuard
	logger      logger.Logger
	stats       stats.Stats
}

// executeResult holds the raw outcome of one submission; exactly one of the
// two fields is set, depending on the requested fetch mode.
type executeResult struct {
	buffered *client.Result
	streamed *client.StreamResult
}

func (e *retryExecutor) execute(ctx context.Context, query string, params []any, mode fetchMode) (*executeResult, error) {
	return e.attempt(ctx, query, params, mode, true)
}

func (e *retryExecutor) attempt(ctx context.Context, query string, params []any, mode fetchMode, retryable bool) (*executeResult, error) {
	conn, err := e.connections.acquire(ctx)
	if err != nil {
		return nil, err
	}

	result, err := e.submit(ctx, conn, query, params, mode)
	if err == nil {
		return result, nil
	}
	if !retryable {
		return nil, err
	}

	switch client.StatusCode(err) {
	case http.StatusUnauthorized:
		e.logger.Warnw("session rejected, recreating connection",
			logfield.StatusCode, http.StatusUnauthorized,
			logfield.Error, err.Error(),
		)
		e.stats.NewTaggedStat("firebolt_auth_retries", stats.CountType, stats.Tags{
			"dataSource": e.dataSource,
		}).Increment()
		e.connections.invalidate()
		return e.attempt(ctx, query, params, mode, false)
	case http.StatusNotFound:
		e.logger.Warnw("engine not running, starting it",
			logfield.StatusCode, http.StatusNotFound,
			logfield.Error, err.Error(),
		)
		e.stats.NewTaggedStat("firebolt_engine_start_retries", stats.CountType, stats.Tags{
			"dataSource": e.dataSource,
		}).Increment()
		if err := e.guard.EnsureRunning(ctx); err != nil {
			return nil, err
		}
		return e.attempt(ctx, query, params, mode, false)
	}
	return nil, err
}

func (e *retryExecutor) submit(ctx context.Context, conn client.Connection, query string, params []any, mode fetchMode) (*executeResult, error) {
	stmt, err := conn.Execute(ctx, query, client.ExecuteOptions{
		Parameters:   params,
		TransformRow: hydrateRow,
	})
	if err != nil {
		return nil, err
	}

	if mode == fetchStreamed {
		streamed, err := stmt.StreamResult(ctx)
		if err != nil {
			return nil, err
		}
		return &executeResult{streamed: streamed}, nil
	}

	buffered, err := stmt.FetchResult(ctx)
	if err != nil {
		return nil, err
	}
	return &executeResult{buffered: buffered}, nil
}
