package firebolt

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querylayer/firebolt-driver/client"
)

func apiError(status int) error {
	return &client.APIError{StatusCode: status, Message: http.StatusText(status)}
}

func singleRowResult() *client.Result {
	return &client.Result{
		Rows: []client.Row{{"n": json.Number("1")}},
		Meta: []client.ColumnMeta{{Name: "n", Type: "int"}},
	}
}

func TestExecutorAuthRetry(t *testing.T) {
	t.Run("a single 401 recreates the connection and retries once", func(t *testing.T) {
		fc := &fakeClient{}
		first := true
		fc.factory = func() *fakeConnection {
			if first {
				first = false
				return &fakeConnection{executeErrs: []error{apiError(http.StatusUnauthorized)}}
			}
			return &fakeConnection{result: singleRowResult()}
		}
		d := newTestDriver(fc, nil)

		rows, err := d.Query(context.Background(), "SELECT 1")
		require.NoError(t, err)
		require.Equal(t, []client.Row{{"n": "1"}}, rows)

		require.Equal(t, 2, fc.connects())
		require.Zero(t, fc.connection(0).destroyed, "a rejected session must not be destroyed remotely")
		require.Len(t, fc.connection(1).executedQueries(), 1)
	})

	t.Run("a 401 on the retried attempt propagates", func(t *testing.T) {
		fc := &fakeClient{
			factory: func() *fakeConnection {
				return &fakeConnection{executeErrs: []error{apiError(http.StatusUnauthorized)}}
			},
		}
		d := newTestDriver(fc, nil)

		_, err := d.Query(context.Background(), "SELECT 1")
		require.Error(t, err)
		require.Equal(t, http.StatusUnauthorized, client.StatusCode(err))
		require.Equal(t, 2, fc.connects(), "exactly one recreation, never a third attempt")
	})
}

func TestExecutorEngineStartRetry(t *testing.T) {
	t.Run("a single 404 starts the engine and retries on the same connection", func(t *testing.T) {
		fc := &fakeClient{
			factory: func() *fakeConnection {
				return &fakeConnection{
					executeErrs: []error{apiError(http.StatusNotFound), nil},
					result:      singleRowResult(),
				}
			},
		}
		d := newTestDriver(fc, nil)

		rows, err := d.Query(context.Background(), "SELECT 1")
		require.NoError(t, err)
		require.Equal(t, []client.Row{{"n": "1"}}, rows)

		require.Equal(t, 1, fc.connects(), "a stopped engine does not invalidate the session")
		require.Len(t, fc.connection(0).executedQueries(), 2)
		// once while establishing the connection, once after the 404
		require.Equal(t, 2, fc.engine.startCalls)
	})

	t.Run("a 404 on the retried attempt propagates", func(t *testing.T) {
		fc := &fakeClient{
			factory: func() *fakeConnection {
				return &fakeConnection{
					executeErrs: []error{apiError(http.StatusNotFound), apiError(http.StatusNotFound)},
				}
			},
		}
		d := newTestDriver(fc, nil)

		_, err := d.Query(context.Background(), "SELECT 1")
		require.Error(t, err)
		require.Equal(t, http.StatusNotFound, client.StatusCode(err))
		require.Len(t, fc.connection(0).executedQueries(), 2)
	})

	t.Run("an engine start failure propagates without another attempt", func(t *testing.T) {
		fc := &fakeClient{
			factory: func() *fakeConnection {
				return &fakeConnection{executeErrs: []error{apiError(http.StatusNotFound)}}
			},
		}
		fc.engine = &fakeEngine{}
		d := newTestDriver(fc, nil)

		// the connection is established with a healthy engine, then the
		// post-404 start fails
		conn, err := d.connections.acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, conn)
		fc.engine.mu.Lock()
		fc.engine.startErr = apiError(http.StatusInternalServerError)
		fc.engine.mu.Unlock()

		_, err = d.Query(context.Background(), "SELECT 1")
		require.Error(t, err)
		require.ErrorContains(t, err, "starting engine")
		require.Len(t, fc.connection(0).executedQueries(), 1)
	})

	t.Run("without an engine name the 404 retry runs against an unchanged setup", func(t *testing.T) {
		fc := &fakeClient{
			factory: func() *fakeConnection {
				return &fakeConnection{
					executeErrs: []error{apiError(http.StatusNotFound), nil},
					result:      singleRowResult(),
				}
			},
		}
		d := newTestDriver(fc, map[string]any{
			keyEngineName:     "",
			keyEngineEndpoint: "my-engine.firebolt.io",
		})

		rows, err := d.Query(context.Background(), "SELECT 1")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Zero(t, fc.engineCalls, "no engine name, no lifecycle calls")
	})
}

func TestExecutorFailureClassesAreExclusive(t *testing.T) {
	t.Run("a 401 after a recovered 404 propagates", func(t *testing.T) {
		fc := &fakeClient{
			factory: func() *fakeConnection {
				return &fakeConnection{
					executeErrs: []error{apiError(http.StatusNotFound), apiError(http.StatusUnauthorized)},
				}
			},
		}
		d := newTestDriver(fc, nil)

		_, err := d.Query(context.Background(), "SELECT 1")
		require.Error(t, err)
		require.Equal(t, http.StatusUnauthorized, client.StatusCode(err))
		require.Equal(t, 1, fc.connects())
	})
}

func TestExecutorOtherFailuresNeverRetry(t *testing.T) {
	for _, status := range []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
	} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			fc := &fakeClient{
				factory: func() *fakeConnection {
					return &fakeConnection{executeErrs: []error{apiError(status)}}
				},
			}
			d := newTestDriver(fc, nil)

			_, err := d.Query(context.Background(), "SELECT 1")
			require.Error(t, err)
			require.Equal(t, status, client.StatusCode(err))
			require.Equal(t, 1, fc.connects())
			require.Len(t, fc.connection(0).executedQueries(), 1)
		})
	}

	t.Run("non-API errors are never retried", func(t *testing.T) {
		fc := &fakeClient{
			factory: func() *fakeConnection {
				return &fakeConnection{executeErrs: []error{context.DeadlineExceeded}}
			},
		}
		d := newTestDriver(fc, nil)

		_, err := d.Query(context.Background(), "SELECT 1")
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Equal(t, 1, fc.connects())
	})
}
