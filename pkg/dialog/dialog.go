// Package dialog реализует состояние отдельного Verto вызова: конечный
// автомат состояний, обработку сообщений bye/answer/media/display/info и
// управление медиа движком в соответствии с переходами.
//
// Диалог создается сессией и уничтожается только собственным переходом в
// StateDestroy, при котором он удаляет себя из реестра владельца.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/looplab/fsm"

	"github.com/arzzra/verto_phone/pkg/logger"
	"github.com/arzzra/verto_phone/pkg/metrics"
	"github.com/arzzra/verto_phone/pkg/rpc"
	"github.com/arzzra/verto_phone/pkg/rtc"
)

// Методы Verto, относящиеся к вызову
const (
	MethodInvite  = "verto.invite"
	MethodAttach  = "verto.attach"
	MethodAnswer  = "verto.answer"
	MethodBye     = "verto.bye"
	MethodMedia   = "verto.media"
	MethodDisplay = "verto.display"
	MethodInfo    = "verto.info"
)

// Owner владелец диалога. Диалог держит только обратную ссылку на него.
type Owner interface {
	// Go отправляет RPC запрос через транспорт владельца
	Go(method string, params rpc.Params, handler *rpc.ResponseHandler) *rpc.Call
	// DeleteDialog удаляет диалог из реестра
	DeleteDialog(callID string)
	// OnDialogState вызывается после каждой смены состояния
	OnDialogState(d *Dialog)
	// OnDialogMessage передает приложению display, info и приватные события
	OnDialogMessage(d *Dialog, kind MessageKind, params rpc.Params)
}

// DeviceParams предпочтения устройств, по умолчанию "any"
type DeviceParams struct {
	UseMic    string `mapstructure:"useMic"`
	UseSpeak  string `mapstructure:"useSpeak"`
	UseCamera string `mapstructure:"useCamera"`
}

// Config параметры создания диалога
type Config struct {
	Direction Direction
	// Params параметры из verto.invite/verto.attach или исходящего вызова
	Params rpc.Params

	Login       string
	Devices     DeviceParams
	VideoParams map[string]interface{}
	AudioParams map[string]interface{}
	ICEServers  []string
	LocalIP     string
	Debug       bool

	Engine      rtc.Factory
	IDGenerator func() string
	Logger      logger.Logger
	Metrics     *metrics.Collector
}

// MediaFlags согласованные медиа параметры диалога
type MediaFlags struct {
	UseVideo  bool
	UseStereo bool
	UseCamera string
	UseMic    string
	UseSpeak  string
}

// Dialog один вызов
type Dialog struct {
	callID    string
	direction Direction
	owner     Owner
	engine    rtc.Engine
	log       logger.Logger
	metrics   *metrics.Collector

	mu          sync.Mutex
	machine     *fsm.FSM
	state       State
	lastState   State
	params      rpc.Params
	attach      bool
	screenShare bool
	media       MediaFlags
	answered    bool
	gotEarly    bool
	cause       string
	causeCode   int
}

// New создает диалог в состоянии StateNew. Переходы не выполняются:
// входящий вызов объявляется приложению через Ring после регистрации.
func New(owner Owner, cfg Config) *Dialog {
	in := cfg.Params
	flags := rtc.Inspect(stringParam(in, "sdp"))

	params := rpc.Params{
		"useVideo":    flags.Video,
		"useStereo":   flags.Stereo,
		"screenShare": false,
		"useCamera":   false,
		"useMic":      orAny(cfg.Devices.UseMic),
		"useSpeak":    orAny(cfg.Devices.UseSpeak),
		"login":       cfg.Login,
		"videoParams": cfg.VideoParams,
		"debug":       cfg.Debug,
	}
	for k, v := range in {
		params[k] = v
	}
	if !boolParam(params, "screenShare") {
		params["useCamera"] = orAny(cfg.Devices.UseCamera)
	}

	callID := stringParam(params, "callID")
	if callID == "" {
		gen := cfg.IDGenerator
		if gen == nil {
			gen = defaultID
		}
		callID = gen()
		params["callID"] = callID
	}

	if cfg.Direction == Inbound {
		if stringParam(params, "display_direction") == "outbound" {
			params["remote_caller_id_name"] = stringOr(params, "caller_id_name", "Nobody")
			params["remote_caller_id_number"] = stringOr(params, "caller_id_number", "Unknown")
		} else {
			params["remote_caller_id_name"] = stringOr(params, "callee_id_name", "Nobody")
			params["remote_caller_id_number"] = stringOr(params, "callee_id_number", "Unknown")
		}
	} else {
		params["remote_caller_id_name"] = "Outbound Call"
		params["remote_caller_id_number"] = stringParam(params, "destination_number")
	}

	d := &Dialog{
		callID:      callID,
		direction:   cfg.Direction,
		owner:       owner,
		metrics:     cfg.Metrics,
		params:      params,
		attach:      boolParam(in, "attach"),
		screenShare: boolParam(in, "screenShare"),
		media: MediaFlags{
			UseVideo:  boolParam(params, "useVideo"),
			UseStereo: boolParam(params, "useStereo"),
			UseCamera: stringParam(params, "useCamera"),
			UseMic:    stringParam(params, "useMic"),
			UseSpeak:  stringParam(params, "useSpeak"),
		},
	}
	d.log = logger.OrNoOp(cfg.Logger).WithComponent("dialog").WithFields(
		logger.F("call_id", callID),
		logger.F("direction", cfg.Direction.String()),
	)

	d.machine = newStateMachine(fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			d.log.Debug("смена состояния", logger.F("from", e.Src), logger.F("to", e.Dst))
		},
	})

	factory := cfg.Engine
	if factory == nil {
		factory = rtc.NewSDPEngine
	}
	d.engine = factory(rtc.Options{
		UseVideo:    d.media.UseVideo,
		UseStereo:   d.media.UseStereo,
		ScreenShare: d.screenShare,
		UseCamera:   d.media.UseCamera,
		UseMic:      d.media.UseMic,
		UseSpeak:    d.media.UseSpeak,
		VideoParams: cfg.VideoParams,
		AudioParams: cfg.AudioParams,
		ICEServers:  cfg.ICEServers,
		LocalIP:     cfg.LocalIP,
		Events: rtc.Events{
			OnCandidate: d.onCandidate,
			OnError:     d.onEngineError,
		},
	})

	d.metrics.DialogCreated(cfg.Direction.String())
	d.log.Debug("новый вызов")
	return d
}

// CallID возвращает идентификатор вызова
func (d *Dialog) CallID() string { return d.callID }

// Direction возвращает направление вызова
func (d *Dialog) Direction() Direction { return d.direction }

// Engine возвращает медиа движок диалога
func (d *Dialog) Engine() rtc.Engine { return d.engine }

// State возвращает текущее состояние
func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastState возвращает предыдущее состояние
func (d *Dialog) LastState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastState
}

// Attach сообщает, восстанавливается ли существующий вызов
func (d *Dialog) Attach() bool { return d.attach }

// ScreenShare сообщает, является ли диалог демонстрацией экрана
func (d *Dialog) ScreenShare() bool { return d.screenShare }

// Answered сообщает, был ли вызов отвечен локально
func (d *Dialog) Answered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.answered
}

// Cause возвращает причину завершения и ее код
func (d *Dialog) Cause() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cause, d.causeCode
}

// Media возвращает медиа параметры
func (d *Dialog) Media() MediaFlags {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.media
}

// RemoteCallerID возвращает имя и номер удаленной стороны
func (d *Dialog) RemoteCallerID() (name, number string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return stringParam(d.params, "remote_caller_id_name"), stringParam(d.params, "remote_caller_id_number")
}

// Params возвращает копию параметров диалога
func (d *Dialog) Params() rpc.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyParams(d.params)
}

// Ring объявляет входящий вызов приложению
func (d *Dialog) Ring() {
	d.log.Debug("ring")
	d.SetState(StateRinging)
}

// Answer отвечает на вызов. Повторные вызовы игнорируются.
func (d *Dialog) Answer(params rpc.Params) {
	d.mu.Lock()
	if d.answered {
		d.mu.Unlock()
		d.log.Debug("answer проигнорирован", logger.ErrField(ErrAlreadyAnswered))
		return
	}
	if d.state >= StateHangup {
		d.mu.Unlock()
		d.log.Debug("answer проигнорирован", logger.ErrField(ErrDestroyed))
		return
	}
	d.answered = true
	d.params["callee_id_name"] = stringParam(params, "callee_id_name")
	d.params["callee_id_number"] = stringParam(params, "callee_id_number")
	d.media.UseCamera = orAny(stringParam(params, "useCamera"))
	d.media.UseMic = orAny(stringParam(params, "useMic"))
	d.media.UseSpeak = orAny(stringParam(params, "useSpeak"))
	remote := stringParam(d.params, "sdp")
	d.mu.Unlock()

	if boolParam(params, "useVideo") {
		d.log.Debug("запрошен ответ с видео")
	}

	if err := d.engine.Start(); err != nil {
		d.onEngineError(err)
		return
	}
	sdp, err := d.engine.CreateAnswer(remote)
	if err != nil {
		d.onEngineError(err)
		return
	}

	d.SetState(StateAnswering)

	method := MethodAnswer
	if d.attach {
		method = MethodAttach
	}
	d.SendMethod(method, rpc.Params{"sdp": sdp})
}

// Invite запускает исходящий вызов: offer от движка и verto.invite
func (d *Dialog) Invite() error {
	if d.direction != Outbound {
		return ErrNotOutbound
	}
	if d.State() >= StateHangup {
		return ErrDestroyed
	}

	if err := d.engine.Start(); err != nil {
		d.onEngineError(err)
		return err
	}
	sdp, err := d.engine.CreateOffer()
	if err != nil {
		d.onEngineError(err)
		return err
	}

	d.SetState(StateRequesting)
	d.SendMethod(MethodInvite, rpc.Params{"sdp": sdp})
	return nil
}

// Hangup завершает вызов. Причина берется из params (cause, causeCode),
// по умолчанию NORMAL_CLEARING.
func (d *Dialog) Hangup(params rpc.Params) {
	d.mu.Lock()
	d.cause = stringParam(params, "cause")
	d.causeCode = intParam(params, "causeCode")
	if d.cause == "" && d.causeCode == 0 {
		d.cause = CauseNormalClearing
	}
	state := d.state
	cause, code := d.cause, d.causeCode
	d.mu.Unlock()

	d.log.Debug("hangup", logger.F("cause", cause), logger.F("cause_code", code), logger.F("state", state.String()))

	if state >= StateNew && state < StateHangup {
		d.SetState(StateHangup)
	} else if state < StateDestroy {
		d.SetState(StateDestroy)
	}
}

// Purge принудительно уничтожает диалог: PURGE, затем DESTROY
func (d *Dialog) Purge() {
	d.SetState(StatePurge)
	d.SetState(StateDestroy)
}

// SetState переводит диалог в состояние s и выполняет автоматические
// переходы из таблицы followUps
func (d *Dialog) SetState(s State) {
	next, ok := s, true
	for ok {
		if !d.transition(next) {
			return
		}
		next, ok = FollowUp(next)
	}
}

func (d *Dialog) transition(s State) bool {
	d.mu.Lock()
	err := d.machine.Event(context.Background(), eventName(s))
	if err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			current := d.state
			d.mu.Unlock()
			d.log.Warn("переход отклонен",
				logger.F("from", current.String()),
				logger.F("to", s.String()),
				logger.ErrField(err),
			)
			return false
		}
	}
	d.lastState = d.state
	d.state = s
	last := d.lastState
	cause, code := d.cause, d.causeCode
	d.mu.Unlock()

	d.metrics.StateTransition(s.String())
	d.owner.OnDialogState(d)

	switch s {
	case StateHangup:
		if last > StateRequesting && last < StateHangup {
			d.SendMethod(MethodBye, rpc.Params{"cause": cause, "causeCode": code})
		}
	case StateDestroy:
		d.owner.DeleteDialog(d.callID)
		if d.screenShare {
			d.engine.StopPeer()
		} else {
			d.engine.Stop()
		}
		d.metrics.DialogRemoved()
	default:
		d.log.Debug("состояние без действий", logger.F("state", s.String()))
	}
	return true
}

// SendMethod отправляет RPC запрос от имени диалога, добавляя dialogParams.
// Результат только логируется.
func (d *Dialog) SendMethod(method string, params rpc.Params) {
	out := copyParams(params)

	d.mu.Lock()
	dialogParams := copyParams(d.params)
	d.mu.Unlock()

	if extra, ok := params["dialogParams"].(map[string]interface{}); ok {
		for k, v := range extra {
			dialogParams[k] = v
		}
	}
	dialogParams["callID"] = d.callID
	out["dialogParams"] = dialogParams

	d.owner.Go(method, out, &rpc.ResponseHandler{
		OnSuccess: func(json.RawMessage) {
			d.log.Debug("запрос выполнен", logger.F("method", method))
		},
		OnError: func(err error) {
			d.log.Error("ошибка запроса", logger.F("method", method), logger.ErrField(err))
		},
	})
}

// SendMessage передает сообщение приложению через владельца
func (d *Dialog) SendMessage(kind MessageKind, params rpc.Params) {
	d.owner.OnDialogMessage(d, kind, params)
}

func (d *Dialog) onCandidate(candidate string) {
	d.log.Debug("ice кандидат", logger.F("candidate", candidate))
}

func (d *Dialog) onEngineError(err error) {
	d.log.Error("ошибка медиа движка", logger.ErrField(err))
	d.Hangup(rpc.Params{"cause": CauseDeviceError})
}
