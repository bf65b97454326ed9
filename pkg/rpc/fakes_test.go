package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn соединение в памяти: тест пишет входящие сообщения в in,
// исходящие копятся в written
type fakeConn struct {
	in     chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, ErrConnClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return ErrConnClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// push эмулирует сообщение от сервера
func (f *fakeConn) push(t *testing.T, v interface{}) {
	t.Helper()
	switch msg := v.(type) {
	case string:
		f.in <- []byte(msg)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		f.in <- data
	}
}

func (f *fakeConn) messages() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.written))
	for _, data := range f.written {
		m := map[string]interface{}{}
		_ = json.Unmarshal(data, &m)
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) waitWritten(t *testing.T, n int) []map[string]interface{} {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.messages()) >= n
	}, time.Second, 5*time.Millisecond)
	return f.messages()
}

// fakeDialer выдает fakeConn; gate позволяет задержать установку соединения
type fakeDialer struct {
	conns chan *fakeConn
	gate  chan struct{}

	mu    sync.Mutex
	err   error
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	err := d.err
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(time.Second):
		t.Fatal("соединение не установлено")
		return nil
	}
}

func fastBackoff() BackoffConfig {
	return BackoffConfig{
		Initial: time.Millisecond,
		Step:    time.Millisecond,
		Max:     3 * time.Millisecond,
		Period:  10,
	}
}
