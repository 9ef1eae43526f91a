package firebolt

import (
	"context"
	"sync"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/querylayer/firebolt-driver/client"
)

type fakeEngine struct {
	mu         sync.Mutex
	startErr   error
	startCalls int
}

func (e *fakeEngine) StartAndWait(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startCalls++
	return e.startErr
}

type fakeStatement struct {
	conn *fakeConnection
	opts client.ExecuteOptions
}

func (s *fakeStatement) FetchResult(context.Context) (*client.Result, error) {
	result := s.conn.result
	if result == nil {
		result = &client.Result{}
	}
	rows := make([]client.Row, 0, len(result.Rows))
	for _, row := range result.Rows {
		if s.opts.TransformRow != nil {
			row = s.opts.TransformRow(row, result.Meta)
		}
		rows = append(rows, row)
	}
	return &client.Result{Rows: rows, Meta: result.Meta}, nil
}

func (s *fakeStatement) StreamResult(context.Context) (*client.StreamResult, error) {
	result := s.conn.result
	if result == nil {
		result = &client.Result{}
	}
	rows := make([]client.Row, 0, len(result.Rows))
	for _, row := range result.Rows {
		if s.opts.TransformRow != nil {
			row = s.opts.TransformRow(row, result.Meta)
		}
		rows = append(rows, row)
	}
	return &client.StreamResult{
		Rows: &fakeRowStream{rows: rows},
		Meta: result.Meta,
	}, nil
}

type fakeRowStream struct {
	rows    []client.Row
	current client.Row
	closed  bool
}

func (r *fakeRowStream) Next() bool {
	if r.closed || len(r.rows) == 0 {
		return false
	}
	r.current, r.rows = r.rows[0], r.rows[1:]
	return true
}

func (r *fakeRowStream) Row() client.Row { return r.current }
func (r *fakeRowStream) Err() error      { return nil }
func (r *fakeRowStream) Close() error    { r.closed = true; return nil }

type fakeConnection struct {
	mu          sync.Mutex
	executeErrs []error // popped per Execute call, nil entries mean success
	result      *client.Result
	testErr     error
	executed    []string
	destroyed   int
}

func (c *fakeConnection) TestConnection(context.Context) error {
	return c.testErr
}

func (c *fakeConnection) Execute(_ context.Context, sql string, opts client.ExecuteOptions) (client.Statement, error) {
	c.mu.Lock()
	c.executed = append(c.executed, sql)
	var err error
	if len(c.executeErrs) > 0 {
		err, c.executeErrs = c.executeErrs[0], c.executeErrs[1:]
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &fakeStatement{conn: c, opts: opts}, nil
}

func (c *fakeConnection) Destroy(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed++
	return nil
}

func (c *fakeConnection) executedQueries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

type fakeClient struct {
	mu           sync.Mutex
	connectGate  chan struct{} // when set, Connect blocks until closed
	connectErrs  []error       // popped per Connect call
	factory      func() *fakeConnection
	conns        []*fakeConnection
	connectCalls int

	engine      *fakeEngine
	engineErrs  []error
	engineCalls int
}

func (f *fakeClient) Connect(context.Context, client.ConnectionConfig) (client.Connection, error) {
	f.mu.Lock()
	gate := f.connectGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		var err error
		err, f.connectErrs = f.connectErrs[0], f.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	conn := &fakeConnection{}
	if f.factory != nil {
		conn = f.factory()
	}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeClient) EngineByName(context.Context, string) (client.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engineCalls++
	if len(f.engineErrs) > 0 {
		var err error
		err, f.engineErrs = f.engineErrs[0], f.engineErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.engine == nil {
		f.engine = &fakeEngine{}
	}
	return f.engine, nil
}

func (f *fakeClient) connection(i int) *fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeClient) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func newTestDriver(engineClient client.Client, overrides map[string]any) *Firebolt {
	merged := map[string]any{
		keyUser:       "service-client-id",
		keyPassword:   "service-secret",
		keyDatabase:   "analytics",
		keyEngineName: "main_engine",
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return New(config.New(), logger.NOP, stats.NOP, engineClient, "test", merged)
}
