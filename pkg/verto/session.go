// Package verto реализует сигнальную сессию Verto: login после каждого
// подключения, реестр вызовов, подписки на каналы событий и маршрутизацию
// входящих сообщений к диалогам и обработчикам приложения.
package verto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/verto_phone/pkg/dialog"
	"github.com/arzzra/verto_phone/pkg/logger"
	"github.com/arzzra/verto_phone/pkg/metrics"
	"github.com/arzzra/verto_phone/pkg/rpc"
	"github.com/arzzra/verto_phone/pkg/rtc"
)

// Методы Verto уровня сессии
const (
	MethodLogin       = "login"
	MethodEvent       = "verto.event"
	MethodPunt        = "verto.punt"
	MethodClientReady = "verto.clientReady"
	MethodSubscribe   = "verto.subscribe"
	MethodUnsubscribe = "verto.unsubscribe"
	MethodBroadcast   = "verto.broadcast"
)

var (
	// ErrMissingMethod во входящем сообщении нет method
	ErrMissingMethod = errors.New("verto: сообщение без method")
	// ErrInvalidDestination номер назначения пуст или не разбирается
	ErrInvalidDestination = errors.New("verto: некорректный номер назначения")
	// ErrUnauthorizedChannel сервер отказал в подписке на канал
	ErrUnauthorizedChannel = errors.New("verto: нет доступа к каналу")
)

// Session сигнальная сессия поверх одного RPC клиента
type Session struct {
	opts    Options
	cb      Callbacks
	log     logger.Logger
	metrics *metrics.Collector
	engine  rtc.Factory
	genID   func() string
	sessid  string

	client  *rpc.Client
	dialogs *dialogsMap

	subsMu sync.RWMutex
	subs   map[string][]*Subscription
}

// NewSession создает сессию. Соединение открывается вызовом Connect.
func NewSession(opts Options, cb Callbacks, options ...Option) *Session {
	st := &settings{}
	for _, o := range options {
		o(st)
	}
	if st.genID == nil {
		st.genID = uuid.NewString
	}
	if st.engine == nil {
		st.engine = rtc.NewSDPEngine
	}
	if opts.DeviceParams.UseMic == "" {
		opts.DeviceParams.UseMic = rtc.DeviceAny
	}
	if opts.DeviceParams.UseSpeak == "" {
		opts.DeviceParams.UseSpeak = rtc.DeviceAny
	}

	sessid := opts.SessID
	if sessid == "" {
		sessid = st.genID()
	}

	s := &Session{
		opts:    opts,
		cb:      cb,
		log:     logger.OrNoOp(st.log).WithComponent("verto").WithFields(logger.F("sessid", sessid)),
		metrics: st.metrics,
		engine:  st.engine,
		genID:   st.genID,
		sessid:  sessid,
		dialogs: newDialogsMap(),
		subs:    make(map[string][]*Subscription),
	}

	dialer := st.dialer
	if dialer == nil {
		dialer = &rpc.WebsocketDialer{
			HandshakeTimeout:   opts.HandshakeTimeout,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	s.client = rpc.NewClient(rpc.Config{
		URL:         opts.SocketURL,
		SessionID:   sessid,
		Dialer:      dialer,
		DialTimeout: opts.HandshakeTimeout,
		Backoff:     opts.Backoff,
		Logger:      st.log,
		Metrics:     st.metrics,
	}, rpc.Hooks{
		OnOpen:    s.login,
		OnClose:   s.onClose,
		OnError:   s.onError,
		OnMessage: s.Dispatch,
	})

	return s
}

// Connect открывает соединение. Повторные вызовы при живом соединении
// ничего не делают.
func (s *Session) Connect() {
	s.client.Connect()
}

// SessionID возвращает идентификатор сессии
func (s *Session) SessionID() string { return s.sessid }

// Options возвращает параметры сессии
func (s *Session) Options() Options { return s.opts }

// Client возвращает RPC клиент сессии
func (s *Session) Client() *rpc.Client { return s.client }

// Dialog возвращает диалог по callID
func (s *Session) Dialog(callID string) (*dialog.Dialog, bool) {
	return s.dialogs.Get(callID)
}

// Dialogs возвращает снимок активных диалогов
func (s *Session) Dialogs() []*dialog.Dialog {
	return s.dialogs.Snapshot()
}

// Go отправляет запрос, добавляя sessid в параметры
func (s *Session) Go(method string, params rpc.Params, handler *rpc.ResponseHandler) *rpc.Call {
	out := make(rpc.Params, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["sessid"] = s.sessid
	return s.client.Go(method, out, handler)
}

// DeleteDialog удаляет диалог из реестра. Вызывается только диалогом,
// достигшим состояния destroy.
func (s *Session) DeleteDialog(callID string) {
	if _, ok := s.dialogs.Delete(callID); ok {
		s.log.Debug("диалог удален", logger.F("call_id", callID))
	}
}

// OnDialogState реализует dialog.Owner
func (s *Session) OnDialogState(d *dialog.Dialog) {
	if s.cb.OnDialogState != nil {
		s.cb.OnDialogState(d)
	}
}

// OnDialogMessage реализует dialog.Owner
func (s *Session) OnDialogMessage(d *dialog.Dialog, kind dialog.MessageKind, params rpc.Params) {
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(s, d, kind, params)
	}
}

// NewCall создает исходящий вызов и отправляет verto.invite.
// destination_number может быть номером или SIP URI.
func (s *Session) NewCall(params rpc.Params) (*dialog.Dialog, error) {
	dest, _ := params["destination_number"].(string)
	if err := validateDestination(dest); err != nil {
		return nil, err
	}

	d := dialog.New(s, s.dialogConfig(dialog.Outbound, params))
	s.dialogs.Put(d)

	if err := d.Invite(); err != nil {
		return d, err
	}
	return d, nil
}

// Purge уничтожает все диалоги и очищает подписки
func (s *Session) Purge() {
	s.log.Info("purge")
	s.dialogs.Range(func(d *dialog.Dialog) bool {
		d.Purge()
		return true
	})

	s.subsMu.Lock()
	s.subs = make(map[string][]*Subscription)
	s.subsMu.Unlock()
}

// Logout уничтожает диалоги и закрывает соединение без переподключения
func (s *Session) Logout() error {
	s.Purge()
	s.log.Info("logout")
	return s.client.Close()
}

func (s *Session) dialogConfig(dir dialog.Direction, params rpc.Params) dialog.Config {
	return dialog.Config{
		Direction:   dir,
		Params:      params,
		Login:       s.opts.Login,
		Devices:     s.opts.DeviceParams,
		VideoParams: s.opts.VideoParams,
		AudioParams: s.opts.AudioParams,
		ICEServers:  s.opts.ICEServers,
		LocalIP:     s.opts.LocalIP,
		Debug:       s.opts.Debug,
		Engine:      s.engine,
		IDGenerator: s.genID,
		Logger:      s.log,
		Metrics:     s.metrics,
	}
}

// login отправляет login при каждом открытии соединения
func (s *Session) login(*rpc.Client) {
	params := rpc.Params{}
	if s.opts.Login != "" && s.opts.Passwd != "" {
		params = rpc.Params{
			"login":         s.opts.Login,
			"passwd":        s.opts.Passwd,
			"loginParams":   s.opts.LoginParams,
			"userVariables": s.opts.UserVariables,
		}
	}

	s.Go(MethodLogin, params, &rpc.ResponseHandler{
		OnSuccess: func(result json.RawMessage) {
			s.log.Info("login выполнен")
			if s.cb.OnLogin != nil {
				s.cb.OnLogin(s, true, result)
			}
			s.resubscribe()
		},
		OnError: func(err error) {
			s.log.Error("ошибка login", logger.ErrField(err))
			if s.cb.OnLogin != nil {
				s.cb.OnLogin(s, false, nil)
			}
		},
	})
}

func (s *Session) onClose(*rpc.Client) {
	if s.cb.OnClose != nil {
		s.cb.OnClose(s)
	}
}

func (s *Session) onError(_ *rpc.Client, err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(s, err)
	}
}

func validateDestination(dest string) error {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return ErrInvalidDestination
	}

	if !strings.ContainsAny(dest, "@:") {
		if strings.ContainsAny(dest, " \t\r\n") {
			return ErrInvalidDestination
		}
		return nil
	}

	raw := dest
	if !strings.HasPrefix(raw, "sip:") && !strings.HasPrefix(raw, "sips:") {
		raw = "sip:" + raw
	}

	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if uri.User == "" || uri.Host == "" {
		return ErrInvalidDestination
	}
	return nil
}
