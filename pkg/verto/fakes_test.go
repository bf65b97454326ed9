package verto

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/verto_phone/pkg/dialog"
	"github.com/arzzra/verto_phone/pkg/rpc"
	"github.com/arzzra/verto_phone/pkg/rtc"
)

const testSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 4000 RTP/AVP 111\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

// fakeConn соединение в памяти
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, rpc.ErrConnClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return rpc.ErrConnClosed
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

func (f *fakeConn) push(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.in <- data
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

// waitMethod ждет исходящий запрос с указанным методом
func (f *fakeConn) waitMethod(t *testing.T, method string) map[string]interface{} {
	t.Helper()
	var found map[string]interface{}
	require.Eventually(t, func() bool {
		for _, m := range f.messages() {
			if m["method"] == method {
				found = m
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "нет запроса %s", method)
	return found
}

// waitResult ждет синтезированный ответ на запрос сервера с id
func (f *fakeConn) waitResult(t *testing.T, id float64) map[string]interface{} {
	t.Helper()
	var found map[string]interface{}
	require.Eventually(t, func() bool {
		for _, m := range f.messages() {
			if m["id"] == id && m["method"] == nil {
				found = m
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return found
}

// reply отвечает на исходящий запрос
func (f *fakeConn) reply(t *testing.T, req map[string]interface{}, result interface{}) {
	t.Helper()
	f.push(t, map[string]interface{}{"jsonrpc": "2.0", "id": req["id"], "result": result})
}

type fakeDialer struct {
	conns chan *fakeConn

	mu    sync.Mutex
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (rpc.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
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

// fakeEngine медиа движок без медиа
type fakeEngine struct {
	mu      sync.Mutex
	opts    rtc.Options
	stopped int
}

func (e *fakeEngine) Start() error { return nil }

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	e.stopped++
	e.mu.Unlock()
}

func (e *fakeEngine) StopPeer() {}

func (e *fakeEngine) CreateOffer() (string, error) { return "local-offer", nil }

func (e *fakeEngine) CreateAnswer(string) (string, error) { return "local-answer", nil }

func (e *fakeEngine) AcceptAnswer(string) error { return nil }

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// engines фабрика, запоминающая созданные движки
type engines struct {
	mu   sync.Mutex
	list []*fakeEngine
}

func (e *engines) factory(opts rtc.Options) rtc.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	eng := &fakeEngine{opts: opts}
	e.list = append(e.list, eng)
	return eng
}

func (e *engines) get(i int) *fakeEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list[i]
}

type dialogMessage struct {
	dialog *dialog.Dialog
	kind   dialog.MessageKind
	params rpc.Params
}

type deliveredEvent struct {
	params   rpc.Params
	userData interface{}
}

// recorder собирает вызовы Callbacks
type recorder struct {
	mu       sync.Mutex
	logins   []bool
	closes   int
	errs     []error
	states   []string
	messages []dialogMessage
	events   []deliveredEvent
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnLogin: func(_ *Session, ok bool, _ json.RawMessage) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.logins = append(r.logins, ok)
		},
		OnClose: func(*Session) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes++
		},
		OnError: func(_ *Session, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnDialogState: func(d *dialog.Dialog) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, fmt.Sprintf("%s:%s", d.CallID(), d.State()))
		},
		OnMessage: func(_ *Session, d *dialog.Dialog, kind dialog.MessageKind, params rpc.Params) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, dialogMessage{dialog: d, kind: kind, params: params})
		},
		OnEvent: func(_ *Session, params rpc.Params, userData interface{}) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, deliveredEvent{params: params, userData: userData})
		},
	}
}

func (r *recorder) loginLog() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.logins...)
}

func (r *recorder) errorLog() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) stateLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func (r *recorder) messageLog() []dialogMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dialogMessage(nil), r.messages...)
}

func (r *recorder) eventLog() []deliveredEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]deliveredEvent(nil), r.events...)
}

type harness struct {
	session  *Session
	dialer   *fakeDialer
	engines  *engines
	recorder *recorder
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SocketURL = "wss://pbx.local:8082"
	opts.Login = "1008@pbx.local"
	opts.Passwd = "1234"
	opts.SessID = "sess-1"
	opts.Backoff = rpc.BackoffConfig{
		Initial: time.Millisecond,
		Step:    time.Millisecond,
		Max:     3 * time.Millisecond,
		Period:  10,
	}
	return opts
}

// newHarness создает сессию без подключения
func newHarness(opts Options) *harness {
	h := &harness{dialer: newFakeDialer(), engines: &engines{}, recorder: &recorder{}}
	seq := 0
	var seqMu sync.Mutex
	h.session = NewSession(opts, h.recorder.callbacks(),
		WithDialer(h.dialer),
		WithEngine(h.engines.factory),
		WithIDGenerator(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	return h
}

// connect открывает соединение и подтверждает login
func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	h.session.Connect()
	conn := h.dialer.next(t)
	login := conn.waitMethod(t, MethodLogin)
	conn.reply(t, login, map[string]interface{}{"message": "logged in", "sessid": h.session.SessionID()})
	require.Eventually(t, func() bool {
		return len(h.recorder.loginLog()) == 1
	}, time.Second, 5*time.Millisecond)
	return conn
}

func msg(method string, params rpc.Params) *rpc.Message {
	return &rpc.Message{JSONRPC: rpc.Version, Method: method, Params: params}
}
