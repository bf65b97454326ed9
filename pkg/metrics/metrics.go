// Package metrics собирает prometheus метрики транспорта и диалогов.
//
// Collector безопасен для nil: все методы nil-коллектора ничего не делают,
// поэтому компоненты могут вызывать их без проверок.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Config конфигурация системы метрик
type Config struct {
	// Namespace префикс для Prometheus метрик
	Namespace string
	// Subsystem подсистема для Prometheus метрик
	Subsystem string
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Namespace: "verto",
		Subsystem: "client",
	}
}

// Collector собирает метрики RPC транспорта и диалогов
type Collector struct {
	requestsTotal    *prometheus.CounterVec
	requestsQueued   prometheus.Counter
	responsesTotal   *prometheus.CounterVec
	reconnectsTotal  prometheus.Counter
	connected        prometheus.Gauge
	dropped          *prometheus.CounterVec
	dialogsTotal     *prometheus.CounterVec
	dialogsActive    prometheus.Gauge
	stateTransitions *prometheus.CounterVec
	eventsDelivered  *prometheus.CounterVec
}

// New создает и регистрирует коллектор в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, cfg Config) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rpc_requests_total",
			Help:      "Total number of JSON-RPC requests written to the socket",
		}, []string{"method", "kind"}),
		requestsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rpc_requests_queued_total",
			Help:      "Total number of requests queued while the socket was not open",
		}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rpc_responses_total",
			Help:      "Total number of correlated JSON-RPC responses",
		}, []string{"outcome"}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rpc_reconnects_total",
			Help:      "Total number of scheduled reconnection attempts",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rpc_connected",
			Help:      "1 when the signaling socket is open",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped without processing",
		}, []string{"reason"}),
		dialogsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "dialogs_total",
			Help:      "Total number of call dialogs created",
		}, []string{"direction"}),
		dialogsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "dialogs_active",
			Help:      "Number of currently registered call dialogs",
		}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "dialog_state_transitions_total",
			Help:      "Total number of dialog state transitions by target state",
		}, []string{"state"}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "events_delivered_total",
			Help:      "Total number of verto.event deliveries by target kind",
		}, []string{"target"}),
	}

	collectors := []prometheus.Collector{
		c.requestsTotal, c.requestsQueued, c.responsesTotal, c.reconnectsTotal,
		c.connected, c.dropped, c.dialogsTotal, c.dialogsActive,
		c.stateTransitions, c.eventsDelivered,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// RequestSent учитывает запрос, записанный в сокет. kind: call, notify, reply
func (c *Collector) RequestSent(method, kind string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(method, kind).Inc()
}

// RequestQueued учитывает запрос, поставленный в очередь
func (c *Collector) RequestQueued() {
	if c == nil {
		return
	}
	c.requestsQueued.Inc()
}

// ResponseReceived учитывает ответ на ожидающий запрос
func (c *Collector) ResponseReceived(ok bool) {
	if c == nil {
		return
	}
	outcome := "result"
	if !ok {
		outcome = "error"
	}
	c.responsesTotal.WithLabelValues(outcome).Inc()
}

// Reconnect учитывает запланированное переподключение
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnectsTotal.Inc()
}

// SetConnected выставляет состояние соединения
func (c *Collector) SetConnected(up bool) {
	if c == nil {
		return
	}
	if up {
		c.connected.Set(1)
		return
	}
	c.connected.Set(0)
}

// MessageDropped учитывает отброшенное входящее сообщение
func (c *Collector) MessageDropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

// DialogCreated учитывает регистрацию нового диалога
func (c *Collector) DialogCreated(direction string) {
	if c == nil {
		return
	}
	c.dialogsTotal.WithLabelValues(direction).Inc()
	c.dialogsActive.Inc()
}

// DialogRemoved учитывает удаление диалога из реестра
func (c *Collector) DialogRemoved() {
	if c == nil {
		return
	}
	c.dialogsActive.Dec()
}

// StateTransition учитывает переход диалога в состояние state
func (c *Collector) StateTransition(state string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(state).Inc()
}

// EventDelivered учитывает доставку verto.event. target: subscriber, session, dialog
func (c *Collector) EventDelivered(target string) {
	if c == nil {
		return
	}
	c.eventsDelivered.WithLabelValues(target).Inc()
}
