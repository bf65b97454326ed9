package dialog

import (
	"github.com/arzzra/verto_phone/pkg/logger"
	"github.com/arzzra/verto_phone/pkg/rpc"
)

// HandleMessage обрабатывает сообщение сервера, адресованное вызову
func (d *Dialog) HandleMessage(msg *rpc.Message) {
	d.log.Debug("получено сообщение", logger.F("method", msg.Method))

	switch msg.Method {
	case MethodBye:
		d.Hangup(msg.Params)
	case MethodAnswer:
		d.handleAnswer(msg.Params)
	case MethodMedia:
		d.handleMedia(msg.Params)
	case MethodDisplay:
		d.handleDisplay(msg.Params)
	case MethodInfo:
		d.handleInfo(msg.Params)
	default:
		d.log.Warn("неизвестное сообщение", logger.F("method", msg.Method))
	}
}

// handleAnswer удаленная сторона ответила
func (d *Dialog) handleAnswer(params rpc.Params) {
	state := d.State()
	if state >= StateActive {
		d.log.Debug("answer в состоянии после active проигнорирован", logger.F("state", state.String()))
		return
	}

	// SDP уже принят с verto.media
	if state >= StateEarly {
		d.SetState(StateActive)
		return
	}

	sdp := stringParam(params, "sdp")
	if sdp == "" {
		d.log.Error("answer без SDP")
		d.Hangup(rpc.Params{"cause": CauseMandatoryIEMissing, "causeCode": CodeMandatoryIEMissing})
		return
	}

	if err := d.engine.AcceptAnswer(sdp); err != nil {
		d.log.Error("не удалось применить answer", logger.ErrField(err))
		d.Hangup(rpc.Params{"cause": CauseIncompatibleDestination, "causeCode": CodeIncompatibleDestination})
		return
	}
	d.SetState(StateActive)
}

// handleMedia ранние медиа до ответа
func (d *Dialog) handleMedia(params rpc.Params) {
	state := d.State()
	if state >= StateEarly {
		d.log.Debug("media проигнорирован", logger.F("state", state.String()))
		return
	}

	sdp := stringParam(params, "sdp")
	if sdp == "" {
		d.log.Error("media без SDP")
		d.Hangup(rpc.Params{"cause": CauseMandatoryIEMissing, "causeCode": CodeMandatoryIEMissing})
		return
	}

	if err := d.engine.AcceptAnswer(sdp); err != nil {
		d.log.Error("не удалось применить early media", logger.ErrField(err))
		d.Hangup(rpc.Params{"cause": CauseIncompatibleDestination, "causeCode": CodeIncompatibleDestination})
		return
	}

	d.mu.Lock()
	d.gotEarly = true
	d.mu.Unlock()
	d.SetState(StateEarly)
}

// handleDisplay обновляет отображаемые данные удаленной стороны
func (d *Dialog) handleDisplay(params rpc.Params) {
	name := stringParam(params, "display_name")
	number := stringParam(params, "display_number")

	d.mu.Lock()
	if name != "" {
		d.params["remote_caller_id_name"] = name
	}
	if number != "" {
		d.params["remote_caller_id_number"] = number
	}
	d.mu.Unlock()

	d.SendMessage(MessageDisplay, params)
}

func (d *Dialog) handleInfo(params rpc.Params) {
	d.SendMessage(MessageInfo, params)
}

// GotEarly сообщает, были ли получены ранние медиа
func (d *Dialog) GotEarly() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gotEarly
}
