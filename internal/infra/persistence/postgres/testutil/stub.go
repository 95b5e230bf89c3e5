// Package testutil provides a stub database/sql driver for postgres store tests.
// It understands just enough SQL to back the snapshot state table.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq uint64

// StubConn records statements and keeps state rows keyed by bucket.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Buckets    map[string][]byte
	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailBucket map[string]bool
	RowsErr    error
	Commits    int
	active     *stubTx
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Buckets: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", atomic.AddUint64(&driverSeq, 1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Seed stores a bucket row directly, bypassing the driver.
func (c *StubConn) Seed(bucket string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Buckets[bucket] = append([]byte(nil), payload...)
}

// Payload returns the stored payload for bucket.
func (c *StubConn) Payload(bucket string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.Buckets[bucket]
	return p, ok
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = &stubTx{conn: c, pending: make(map[string][]byte)}
	return c.active, nil
}

// ExecContext implements driver.ExecerContext. Writes outside a transaction
// apply immediately.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	bucket, payload, err := bucketArgs(args)
	if err != nil {
		return nil, err
	}
	if c.FailBucket[bucket] {
		return nil, fmt.Errorf("exec fail for %s", bucket)
	}
	if c.active != nil {
		c.active.pending[bucket] = payload
	} else {
		c.Buckets[bucket] = payload
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for SELECT bucket, payload FROM state.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(query)), "select bucket, payload from state") {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.Buckets))
	for k := range c.Buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]driver.Value, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []driver.Value{k, append([]byte(nil), c.Buckets[k]...)})
	}
	return &stubRows{cols: []string{"bucket", "payload"}, rows: rows, err: c.RowsErr}, nil
}

func bucketArgs(args []driver.NamedValue) (string, []byte, error) {
	if len(args) != 2 {
		return "", nil, fmt.Errorf("expected bucket and payload args, got %d", len(args))
	}
	bucket, ok := args[0].Value.(string)
	if !ok {
		return "", nil, fmt.Errorf("bucket arg is %T", args[0].Value)
	}
	switch v := args[1].Value.(type) {
	case []byte:
		return bucket, append([]byte(nil), v...), nil
	case string:
		return bucket, []byte(v), nil
	}
	return "", nil, fmt.Errorf("payload arg is %T", args[1].Value)
}

type stubTx struct {
	conn    *StubConn
	pending map[string][]byte
}

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.active = nil
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	for k, v := range t.pending {
		t.conn.Buckets[k] = v
	}
	t.conn.Commits++
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.active = nil
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
