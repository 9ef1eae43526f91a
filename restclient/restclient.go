// Package restclient implements the engine-client boundary over the Firebolt
// REST API: password or service-account authentication, buffered and
// streamed query execution, and engine lookup/start for the lifecycle guard.
package restclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/querylayer/firebolt-driver/client"
	"github.com/querylayer/firebolt-driver/logfield"
)

const (
	outputFormatBuffered = "JSON_Compact"
	outputFormatStreamed = "JSONLines_Compact"

	engineStatusRunning = "ENGINE_STATUS_RUNNING_REVISION_SERVING"
)

// scanner lines can carry whole row batches; allow generously sized ones.
const maxStreamLineSize = 16 << 20

type Client struct {
	httpClient        *http.Client
	logger            logger.Logger
	engineWaitTimeout time.Duration

	mu      sync.Mutex
	session *session
}

// session is the authenticated state shared between the connection and the
// engine-management calls, captured at connect time.
type session struct {
	token  string
	config client.ConnectionConfig
}

// New builds a REST client. Transient transport failures and 5xx responses
// are retried at the HTTP layer; 4xx responses are surfaced unchanged as
// APIErrors so the driver core stays the single owner of the 401/404 policy.
func New(log logger.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	return &Client{
		httpClient:        rc.StandardClient(),
		logger:            log.Child("restclient"),
		engineWaitTimeout: 10 * time.Minute,
	}
}

// Connect authenticates and resolves the engine endpoint queries will be
// submitted to. A configured legacy engine endpoint wins; otherwise the
// endpoint is resolved from the engine name, falling back to the database's
// default engine.
func (c *Client) Connect(ctx context.Context, config client.ConnectionConfig) (client.Connection, error) {
	token, err := c.authenticate(ctx, config)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = &session{token: token, config: config}
	c.mu.Unlock()

	endpoint := config.EngineEndpoint
	if endpoint == "" {
		if endpoint, err = c.resolveEngineEndpoint(ctx, config, token); err != nil {
			return nil, err
		}
	}

	c.logger.Infow("connected",
		logfield.Database, config.Database,
		logfield.Endpoint, endpoint,
	)
	return &connection{
		client:   c,
		config:   config,
		token:    token,
		endpoint: ensureURL(endpoint),
		id:       uuid.NewString(),
	}, nil
}

// EngineByName looks an engine up through the engine-management API. It
// requires an authenticated session, i.e. a prior successful Connect.
func (c *Client) EngineByName(ctx context.Context, name string) (client.Engine, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("engine lookup before connect")
	}

	body, err := c.get(ctx, sess, fmt.Sprintf("%s?filter.name_contains=%s", c.enginesURL(sess.config), url.QueryEscape(name)))
	if err != nil {
		return nil, err
	}

	node := gjson.GetBytes(body, "edges.0.node")
	if !node.Exists() {
		return nil, &client.APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("engine %s not found", name)}
	}
	return &engine{
		client:  c,
		session: sess,
		name:    name,
		id:      node.Get("id.engine_id").String(),
	}, nil
}

func (c *Client) authenticate(ctx context.Context, config client.ConnectionConfig) (string, error) {
	var (
		authURL string
		payload []byte
		header  = "application/json"
	)

	if config.Username != "" {
		authURL = ensureURL(config.APIEndpoint) + "/auth/v1/login"
		payload, _ = json.Marshal(map[string]string{
			"username": config.Username,
			"password": config.Password,
		})
	} else {
		authURL = ensureURL(config.APIEndpoint) + "/auth/v1/token"
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", config.ClientID)
		form.Set("client_secret", config.ClientSecret)
		payload = []byte(form.Encode())
		header = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building auth request: %w", err)
	}
	req.Header.Set("Content-Type", header)
	req.Header.Set("User-Agent", config.ClientTag)

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("authenticating: %w", err)
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("authenticating: no access token in response")
	}
	return token, nil
}

func (c *Client) resolveEngineEndpoint(ctx context.Context, config client.ConnectionConfig, token string) (string, error) {
	sess := &session{token: token, config: config}

	if config.EngineName != "" {
		body, err := c.get(ctx, sess, fmt.Sprintf("%s?filter.name_contains=%s", c.enginesURL(config), url.QueryEscape(config.EngineName)))
		if err != nil {
			return "", fmt.Errorf("resolving engine endpoint: %w", err)
		}
		endpoint := gjson.GetBytes(body, "edges.0.node.endpoint").String()
		if endpoint == "" {
			return "", &client.APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("engine %s not found", config.EngineName)}
		}
		return endpoint, nil
	}

	body, err := c.get(ctx, sess, fmt.Sprintf("%s:getURLByDatabaseName?database_name=%s", c.enginesURL(config), url.QueryEscape(config.Database)))
	if err != nil {
		return "", fmt.Errorf("resolving default engine endpoint: %w", err)
	}
	endpoint := gjson.GetBytes(body, "engine_url").String()
	if endpoint == "" {
		return "", &client.APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("no default engine for database %s", config.Database)}
	}
	return endpoint, nil
}

func (c *Client) enginesURL(config client.ConnectionConfig) string {
	api := ensureURL(config.APIEndpoint)
	if config.Account != "" {
		return fmt.Sprintf("%s/core/v1/accounts/%s/engines", api, url.PathEscape(config.Account))
	}
	return api + "/core/v1/account/engines"
}

func (c *Client) get(ctx context.Context, sess *session, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.token)
	req.Header.Set("User-Agent", sess.config.ClientTag)
	return c.do(req)
}

func (c *Client) post(ctx context.Context, sess *session, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.token)
	req.Header.Set("User-Agent", sess.config.ClientTag)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &client.APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// engine is a handle to one named engine, used by the lifecycle guard.
type engine struct {
	client  *Client
	session *session
	name    string
	id      string
}

// StartAndWait issues a start call and polls the engine status until it
// reports serving, the wait budget runs out, or ctx is done.
func (e *engine) StartAndWait(ctx context.Context) error {
	startURL := fmt.Sprintf("%s/%s:start", e.client.enginesURL(e.session.config), url.PathEscape(e.id))
	if _, err := e.client.post(ctx, e.session, startURL); err != nil {
		return fmt.Errorf("starting engine %s: %w", e.name, err)
	}

	statusURL := fmt.Sprintf("%s/%s", e.client.enginesURL(e.session.config), url.PathEscape(e.id))
	poll := func() error {
		body, err := e.client.get(ctx, e.session, statusURL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if status := gjson.GetBytes(body, "engine.current_status").String(); status != engineStatusRunning {
			return fmt.Errorf("engine %s not ready: %s", e.name, status)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = e.client.engineWaitTimeout
	if err := backoff.Retry(poll, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("waiting for engine %s: %w", e.name, err)
	}
	return nil
}

// connection is one authenticated session bound to a resolved engine
// endpoint.
type connection struct {
	client   *Client
	config   client.ConnectionConfig
	token    string
	endpoint string
	id       string
}

func (c *connection) TestConnection(ctx context.Context) error {
	stmt, err := c.Execute(ctx, "SELECT 1", client.ExecuteOptions{})
	if err != nil {
		return err
	}
	if _, err := stmt.FetchResult(ctx); err != nil {
		return fmt.Errorf("validating connection: %w", err)
	}
	return nil
}

func (c *connection) Execute(_ context.Context, sql string, opts client.ExecuteOptions) (client.Statement, error) {
	return &statement{conn: c, sql: sql, opts: opts}, nil
}

// Destroy drops the pooled keepalive connections. The HTTP client is shared
// with the engine-management calls, so there is no narrower handle to close;
// the remote session is a bearer token with nothing to revoke.
func (c *connection) Destroy(context.Context) error {
	c.client.httpClient.CloseIdleConnections()
	return nil
}

// submit posts the SQL to the engine endpoint and returns the raw response.
// The caller owns the body.
func (c *connection) submit(ctx context.Context, sql, outputFormat string, settings map[string]string) (*http.Response, error) {
	params := url.Values{}
	params.Set("database", c.config.Database)
	params.Set("output_format", outputFormat)
	params.Set("query_id", uuid.NewString())
	for k, v := range settings {
		params.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/?"+params.Encode(), strings.NewReader(sql))
	if err != nil {
		return nil, fmt.Errorf("building query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.config.ClientTag)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submitting query: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &client.APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

type statement struct {
	conn *connection
	sql  string
	opts client.ExecuteOptions
}

func (s *statement) FetchResult(ctx context.Context) (*client.Result, error) {
	resp, err := s.conn.submit(ctx, s.withParameters(), outputFormatBuffered, s.opts.Settings)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}

	meta := parseMeta(gjson.GetBytes(body, "meta"))
	rows := make([]client.Row, 0)
	gjson.GetBytes(body, "data").ForEach(func(_, values gjson.Result) bool {
		rows = append(rows, s.buildRow(values, meta))
		return true
	})
	return &client.Result{Rows: rows, Meta: meta}, nil
}

func (s *statement) StreamResult(ctx context.Context) (*client.StreamResult, error) {
	resp, err := s.conn.submit(ctx, s.withParameters(), outputFormatStreamed, s.opts.Settings)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), maxStreamLineSize)

	// The START message carries the column metadata; it arrives before any
	// rows, so metadata is fixed from here on.
	var meta []client.ColumnMeta
	for scanner.Scan() {
		line := gjson.Parse(scanner.Text())
		if line.Get("message_type").String() == "START" {
			meta = parseMeta(line.Get("result_columns"))
			break
		}
	}
	if err := scanner.Err(); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("reading stream start: %w", err)
	}
	if meta == nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stream ended before metadata")
	}

	return &client.StreamResult{
		Rows: &rowStream{stmt: s, body: resp.Body, scanner: scanner, meta: meta},
		Meta: meta,
	}, nil
}

// withParameters inlines positional parameters. The engine endpoint takes
// plain SQL, so values are rendered as literals with quotes doubled. A `?`
// inside a single-quoted literal is text, not a placeholder, so the scan
// tracks quoting and honors the `''` escape.
func (s *statement) withParameters() string {
	if len(s.opts.Parameters) == 0 {
		return s.sql
	}

	var (
		b       strings.Builder
		params  = s.opts.Parameters
		inQuote bool
	)
	b.Grow(len(s.sql))
	for i := 0; i < len(s.sql); i++ {
		ch := s.sql[i]
		if inQuote {
			if ch == '\'' {
				if i+1 < len(s.sql) && s.sql[i+1] == '\'' {
					b.WriteString("''")
					i++
					continue
				}
				inQuote = false
			}
			b.WriteByte(ch)
			continue
		}
		switch ch {
		case '\'':
			inQuote = true
			b.WriteByte(ch)
		case '?':
			if len(params) > 0 {
				b.WriteString(literal(params[0]))
				params = params[1:]
				continue
			}
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func literal(param any) string {
	switch v := param.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case time.Time:
		return "'" + v.UTC().Format("2006-01-02 15:04:05") + "'"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (s *statement) buildRow(values gjson.Result, meta []client.ColumnMeta) client.Row {
	row := make(client.Row, len(meta))
	values.ForEach(func(key, value gjson.Result) bool {
		idx := int(key.Int())
		if idx >= len(meta) {
			return false
		}
		row[meta[idx].Name] = rawValue(value)
		return true
	})
	if s.opts.TransformRow != nil {
		row = s.opts.TransformRow(row, meta)
	}
	return row
}

// rawValue keeps numbers as json.Number so that hydration sees the exact
// decimal representation the engine sent.
func rawValue(value gjson.Result) any {
	switch value.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		return json.Number(value.Raw)
	case gjson.String:
		return value.Str
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return value.Value()
	}
}

func parseMeta(result gjson.Result) []client.ColumnMeta {
	var meta []client.ColumnMeta
	result.ForEach(func(_, column gjson.Result) bool {
		meta = append(meta, client.ColumnMeta{
			Name: column.Get("name").String(),
			Type: column.Get("type").String(),
		})
		return true
	})
	return meta
}

// rowStream consumes JSONLines messages one DATA batch at a time. It is
// forward-only and single-pass.
type rowStream struct {
	stmt    *statement
	body    io.ReadCloser
	scanner *bufio.Scanner
	meta    []client.ColumnMeta

	pending []client.Row
	current client.Row
	err     error
	done    bool
}

func (r *rowStream) Next() bool {
	if len(r.pending) > 0 {
		r.current, r.pending = r.pending[0], r.pending[1:]
		return true
	}
	if r.done {
		return false
	}

	for r.scanner.Scan() {
		line := gjson.Parse(r.scanner.Text())
		switch line.Get("message_type").String() {
		case "DATA":
			line.Get("data").ForEach(func(_, values gjson.Result) bool {
				r.pending = append(r.pending, r.stmt.buildRow(values, r.meta))
				return true
			})
			if len(r.pending) > 0 {
				r.current, r.pending = r.pending[0], r.pending[1:]
				return true
			}
		case "FINISH":
			r.done = true
			return false
		case "ERROR":
			r.err = fmt.Errorf("stream failed: %s", line.Get("errors.0.description").String())
			r.done = true
			return false
		}
	}
	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("reading stream: %w", err)
	}
	r.done = true
	return false
}

func (r *rowStream) Row() client.Row {
	return r.current
}

func (r *rowStream) Err() error {
	return r.err
}

func (r *rowStream) Close() error {
	r.done = true
	return r.body.Close()
}

func ensureURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}
