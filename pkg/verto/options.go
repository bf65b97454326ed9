package verto

import (
	"encoding/json"
	"time"

	"github.com/arzzra/verto_phone/pkg/dialog"
	"github.com/arzzra/verto_phone/pkg/logger"
	"github.com/arzzra/verto_phone/pkg/metrics"
	"github.com/arzzra/verto_phone/pkg/rpc"
	"github.com/arzzra/verto_phone/pkg/rtc"
)

// Options параметры сессии. Теги mapstructure повторяют имена опций
// браузерного клиента Verto.
type Options struct {
	SocketURL     string                 `mapstructure:"socketUrl"`
	Login         string                 `mapstructure:"login"`
	Passwd        string                 `mapstructure:"passwd"`
	LoginParams   map[string]interface{} `mapstructure:"loginParams"`
	UserVariables map[string]interface{} `mapstructure:"userVariables"`
	SessID        string                 `mapstructure:"sessid"`
	Debug         bool                   `mapstructure:"debug"`

	DeviceParams dialog.DeviceParams    `mapstructure:"deviceParams"`
	VideoParams  map[string]interface{} `mapstructure:"videoParams"`
	AudioParams  map[string]interface{} `mapstructure:"audioParams"`
	ICEServers   []string               `mapstructure:"iceServers"`
	RingSleep    time.Duration          `mapstructure:"ringSleep"`
	LocalIP      string                 `mapstructure:"localIP"`

	HandshakeTimeout   time.Duration     `mapstructure:"handshakeTimeout"`
	InsecureSkipVerify bool              `mapstructure:"insecureSkipVerify"`
	Backoff            rpc.BackoffConfig `mapstructure:"backoff"`
}

// DefaultOptions возвращает параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		LoginParams:   map[string]interface{}{},
		UserVariables: map[string]interface{}{},
		DeviceParams: dialog.DeviceParams{
			UseMic:    rtc.DeviceAny,
			UseSpeak:  rtc.DeviceAny,
			UseCamera: rtc.DeviceAny,
		},
		VideoParams:      map[string]interface{}{},
		AudioParams:      map[string]interface{}{},
		RingSleep:        6 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Backoff:          rpc.DefaultBackoffConfig(),
	}
}

// EventHandler обработчик событий канала подписки
type EventHandler func(s *Session, params rpc.Params, userData interface{})

// Callbacks обработчики событий сессии. Любой может быть nil.
// Вызываются из горутины чтения соединения без удерживаемых блокировок.
type Callbacks struct {
	// OnLogin результат login после каждого подключения
	OnLogin func(s *Session, ok bool, result json.RawMessage)
	// OnClose соединение закрыто, переподключение запланировано
	OnClose func(s *Session)
	// OnError ошибка транспорта, некорректное сообщение или отказ в подписке
	OnError func(s *Session, err error)
	// OnDialogState смена состояния любого диалога
	OnDialogState func(d *dialog.Dialog)
	// OnMessage display, info, clientReady и приватные события.
	// d == nil для сообщений уровня сессии.
	OnMessage func(s *Session, d *dialog.Dialog, kind dialog.MessageKind, params rpc.Params)
	// OnEvent событие для подписчика без собственного обработчика
	OnEvent EventHandler
}

// Option дополнительная настройка сессии
type Option func(*settings)

type settings struct {
	log     logger.Logger
	metrics *metrics.Collector
	dialer  rpc.Dialer
	engine  rtc.Factory
	genID   func() string
}

// WithLogger задает логгер
func WithLogger(l logger.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithMetrics задает коллектор метрик
func WithMetrics(m *metrics.Collector) Option {
	return func(s *settings) { s.metrics = m }
}

// WithDialer заменяет websocket dialer, используется в тестах
func WithDialer(d rpc.Dialer) Option {
	return func(s *settings) { s.dialer = d }
}

// WithEngine задает фабрику медиа движков
func WithEngine(f rtc.Factory) Option {
	return func(s *settings) { s.engine = f }
}

// WithIDGenerator задает генератор sessid и callID
func WithIDGenerator(gen func() string) Option {
	return func(s *settings) { s.genID = gen }
}
