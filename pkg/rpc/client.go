// Package rpc реализует JSON-RPC 2.0 клиент поверх постоянного канала
// сообщений: сопоставление ответов с запросами по id, очередь запросов на
// время отсутствия соединения и переподключение с нарастающей задержкой.
//
// Входящие сообщения одного соединения читаются и обрабатываются одной
// горутиной строго в порядке поступления. Обработчики вызываются без
// удерживаемых блокировок, поэтому из них можно вызывать Go и Notify.
// Call из обработчика вызывать нельзя: он ждет ответа, который читает та же
// горутина.
package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/arzzra/verto_phone/pkg/logger"
	"github.com/arzzra/verto_phone/pkg/metrics"
)

// MessageHandler обрабатывает входящее сообщение, не являющееся ответом на
// ожидающий запрос. Непустой результат при наличии id у входящего сообщения
// отправляется обратно как result.
type MessageHandler func(msg *Message) Params

// Hooks обработчики событий соединения
type Hooks struct {
	OnOpen    func(c *Client)
	OnClose   func(c *Client)
	OnError   func(c *Client, err error)
	OnMessage MessageHandler
}

// Config конфигурация клиента
type Config struct {
	URL         string
	SessionID   string // добавляется в params уведомлений как sessid
	Dialer      Dialer
	DialTimeout time.Duration
	Backoff     BackoffConfig
	Logger      logger.Logger
	Metrics     *metrics.Collector
}

// queuedRequest запрос, ожидающий открытия соединения
type queuedRequest struct {
	data   []byte
	method string
	kind   string
}

type connState int

const (
	stateClosed connState = iota
	stateConnecting
	stateOpen
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Client JSON-RPC клиент
type Client struct {
	cfg     Config
	hooks   Hooks
	log     logger.Logger
	metrics *metrics.Collector

	mu         sync.Mutex
	conn       Conn
	state      connState
	generation uint64 // номер попытки соединения, события старых попыток игнорируются
	stopped    bool
	started    bool // Connect вызывался, запись без сокета открывает новый
	nextID     uint64
	queue      []queuedRequest
	pending    map[uint64]*Call
	backoff    *Backoff
	retryTimer *time.Timer
}

// NewClient создает клиент. Соединение не открывается до вызова Connect.
func NewClient(cfg Config, hooks Hooks) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = &WebsocketDialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &Client{
		cfg:     cfg,
		hooks:   hooks,
		log:     logger.OrNoOp(cfg.Logger).WithComponent("rpc"),
		metrics: cfg.Metrics,
		nextID:  1,
		pending: make(map[uint64]*Call),
		backoff: NewBackoff(cfg.Backoff),
	}
}

// Connect открывает соединение, если его нет. Существующее открытое или
// устанавливаемое соединение не трогается. Отменяет запланированное
// переподключение и снимает остановку после Close.
func (c *Client) Connect() {
	c.mu.Lock()
	c.stopped = false
	c.started = true
	c.mu.Unlock()
	c.connect()
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.stopped || c.state != stateClosed {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.state = stateConnecting
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.log.Debug("подключение", logger.F("url", c.cfg.URL))
	go c.run(gen)
}

// Close закрывает соединение и отключает переподключение
func (c *Client) Close() error {
	c.mu.Lock()
	c.stopped = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	c.log.Debug("закрытие клиента", logger.F("state", state.String()))
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsOpen сообщает, открыто ли соединение
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

// QueueLen возвращает количество запросов в очереди
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// PendingCount возвращает количество запросов, ожидающих ответа
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RetryState возвращает счетчик попыток и текущую задержку переподключения
func (c *Client) RetryState() (int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Attempts(), c.backoff.Delay()
}

// Go отправляет запрос, ожидающий ответа, и возвращает Call без ожидания.
//
// Если соединение не открыто, запрос вместе с уже выданным id ставится в
// очередь, а обработчик не регистрируется: Call помечается Queued и никогда
// не будет завершен, даже если сервер ответит после переподключения.
// Если сокета нет после Connect, новый открывается сразу, а запланированное
// переподключение отменяется.
func (c *Client) Go(method string, params Params, handler *ResponseHandler) *Call {
	if params == nil {
		params = Params{}
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	call := newCall(id, method, params, handler)
	req := Request{JSONRPC: Version, Method: method, Params: params, ID: id}
	c.deliver(req, call)
	return call
}

// Call отправляет запрос и ждет ответа. Для запроса, ушедшего в очередь,
// сразу возвращает ErrRequestQueued. Ошибка сервера возвращается как *Error.
func (c *Client) Call(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	call := c.Go(method, params, nil)
	if call.Queued {
		return nil, ErrRequestQueued
	}

	select {
	case <-call.Done:
		return call.Result, call.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify отправляет уведомление без id. Ответ не ожидается.
func (c *Client) Notify(method string, params Params) error {
	out := make(Params, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if c.cfg.SessionID != "" {
		out["sessid"] = c.cfg.SessionID
	}

	req := Request{JSONRPC: Version, Method: method, Params: out}
	return c.deliver(req, nil)
}

func (c *Client) deliver(req Request, call *Call) error {
	data, err := json.Marshal(req)
	if err != nil {
		c.log.Error("не удалось сериализовать запрос", logger.F("method", req.Method), logger.ErrField(err))
		if call != nil {
			call.fail(err)
		}
		return err
	}

	kind := "notify"
	if req.ID != 0 {
		kind = "call"
	}

	c.mu.Lock()
	if c.state != stateOpen {
		c.queue = append(c.queue, queuedRequest{data: data, method: req.Method, kind: kind})
		depth := len(c.queue)
		// сокета нет: открыть новый, не дожидаясь таймера переподключения
		reopen := c.state == stateClosed && c.started && !c.stopped
		c.mu.Unlock()

		if call != nil {
			call.Queued = true
		}
		c.metrics.RequestQueued()
		c.log.Debug("запрос поставлен в очередь",
			logger.F("method", req.Method),
			logger.F("id", req.ID),
			logger.F("queue_depth", depth),
		)
		if reopen {
			c.connect()
		}
		return nil
	}

	if call != nil {
		c.pending[req.ID] = call
	}
	err = c.conn.WriteMessage(data)
	if err != nil && call != nil {
		delete(c.pending, req.ID)
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("ошибка отправки запроса", logger.F("method", req.Method), logger.ErrField(err))
		if call != nil {
			call.fail(err)
		}
		return err
	}

	c.metrics.RequestSent(req.Method, kind)
	return nil
}

// run устанавливает соединение и читает сообщения до его закрытия
func (c *Client) run(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
	cancel()
	if err != nil {
		c.handleError(gen, err)
		c.handleClose(gen)
		return
	}
	defer conn.Close()

	if !c.handleOpen(gen, conn) {
		return
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !isGracefulClose(err) {
				c.handleError(gen, err)
			}
			c.handleClose(gen)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleOpen(gen uint64, conn Conn) bool {
	c.mu.Lock()
	if gen != c.generation || c.stopped {
		// Close во время установки соединения: попытка завершена
		if gen == c.generation {
			c.state = stateClosed
		}
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.state = stateOpen
	c.backoff.Reset()
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	c.log.Debug("соединение открыто", logger.F("url", c.cfg.URL))

	if c.hooks.OnOpen != nil {
		c.hooks.OnOpen(c)
	}

	c.drainQueue()
	return true
}

// drainQueue отправляет накопленные запросы, снимая их с конца очереди
func (c *Client) drainQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) > 0 {
		c.log.Debug("отправка запросов из очереди", logger.F("queue_depth", len(c.queue)))
	}

	for len(c.queue) > 0 && c.state == stateOpen {
		last := len(c.queue) - 1
		req := c.queue[last]
		c.queue = c.queue[:last]

		if err := c.conn.WriteMessage(req.data); err != nil {
			c.log.Warn("ошибка отправки запроса из очереди", logger.F("method", req.method), logger.ErrField(err))
			continue
		}
		c.metrics.RequestSent(req.method, req.kind)
	}
}

func (c *Client) handleMessage(data []byte) {
	c.log.Debug("получено сообщение", logger.F("data", string(data)))

	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		c.log.Error("не удалось разобрать сообщение", logger.ErrField(err))
		c.metrics.MessageDropped("parse")
		return
	}

	if msg.IsResponse() {
		if id, ok := msg.NumericID(); ok {
			c.mu.Lock()
			call, found := c.pending[id]
			if found {
				delete(c.pending, id)
			}
			c.mu.Unlock()

			if found {
				rpcErr := msg.Error()
				c.metrics.ResponseReceived(rpcErr == nil)
				call.resolve(msg.Result, rpcErr)
				return
			}
		}
	}

	if c.hooks.OnMessage == nil {
		return
	}

	reply := c.hooks.OnMessage(msg)
	if reply == nil || !msg.HasID() {
		return
	}

	out, err := json.Marshal(Response{JSONRPC: Version, ID: msg.ID, Result: reply})
	if err != nil {
		c.log.Error("не удалось сериализовать ответ", logger.ErrField(err))
		return
	}

	c.mu.Lock()
	if c.state == stateOpen {
		err = c.conn.WriteMessage(out)
	} else {
		err = ErrNotConnected
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("не удалось отправить ответ", logger.F("method", msg.Method), logger.ErrField(err))
		return
	}
	c.metrics.RequestSent(msg.Method, "reply")
	c.log.Debug("отправлен ответ", logger.F("method", msg.Method), logger.F("id", string(msg.ID)))
}

func (c *Client) handleError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = stateClosed
	stopped := c.stopped
	c.mu.Unlock()

	c.metrics.SetConnected(false)
	if stopped {
		return
	}

	c.log.Debug("ошибка соединения", logger.ErrField(err))
	if c.hooks.OnError != nil {
		c.hooks.OnError(c, err)
	}
}

func (c *Client) handleClose(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = stateClosed
	stopped := c.stopped
	c.mu.Unlock()

	c.metrics.SetConnected(false)
	if stopped {
		c.log.Debug("соединение закрыто")
		return
	}

	if c.hooks.OnClose != nil {
		c.hooks.OnClose(c)
	}

	c.mu.Lock()
	if gen != c.generation || c.stopped || c.state != stateClosed {
		c.mu.Unlock()
		return
	}
	attempt := c.backoff.Attempts()
	delay := c.backoff.Next()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()

	c.metrics.Reconnect()
	c.log.Error("соединение потеряно",
		logger.F("retry_count", attempt),
		logger.F("delay_ms", delay.Milliseconds()),
	)
}

func (c *Client) reconnect() {
	c.log.Info("попытка переподключения", logger.F("url", c.cfg.URL))
	c.connect()
}
