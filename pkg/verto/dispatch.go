package verto

import (
	"strings"

	"github.com/arzzra/verto_phone/pkg/dialog"
	"github.com/arzzra/verto_phone/pkg/logger"
	"github.com/arzzra/verto_phone/pkg/rpc"
	"github.com/arzzra/verto_phone/pkg/rtc"
)

// dialogMethods сообщения, которые передаются существующему диалогу
var dialogMethods = map[string]bool{
	dialog.MethodBye:     true,
	dialog.MethodAnswer:  true,
	dialog.MethodMedia:   true,
	dialog.MethodDisplay: true,
	dialog.MethodInfo:    true,
}

// Dispatch маршрутизирует входящее сообщение сервера. Для сообщений с
// callID возвращает подтверждение {method}, которое транспорт отправит
// как result, если у сообщения был id.
func (s *Session) Dispatch(msg *rpc.Message) rpc.Params {
	// ответ на неизвестный или уже завершенный запрос
	if msg != nil && msg.Method == "" && msg.IsResponse() {
		s.log.Debug("ответ без ожидающего запроса", logger.F("id", string(msg.ID)))
		s.metrics.MessageDropped("response")
		return nil
	}
	if msg == nil || msg.Method == "" {
		s.log.Error("некорректное сообщение", logger.ErrField(ErrMissingMethod))
		s.metrics.MessageDropped("method")
		if s.cb.OnError != nil {
			s.cb.OnError(s, ErrMissingMethod)
		}
		return nil
	}

	s.log.Debug("входящее сообщение", logger.F("method", msg.Method))

	callID := msg.Param("callID")

	var d *dialog.Dialog
	if callID != "" {
		d, _ = s.dialogs.Get(callID)
	}

	// attach всегда заменяет существующий диалог
	if msg.Method == dialog.MethodAttach && d != nil {
		s.dialogs.Delete(callID)
		d.Engine().Stop()
		s.metrics.DialogRemoved()
		s.log.Debug("существующий диалог заменяется", logger.F("call_id", callID))
		d = nil
	}

	switch {
	case d != nil:
		if dialogMethods[msg.Method] {
			d.HandleMessage(msg)
		} else {
			s.log.Debug("метод не применим к существующему вызову",
				logger.F("method", msg.Method), logger.F("call_id", callID))
		}
	case callID != "":
		switch msg.Method {
		case dialog.MethodAttach, dialog.MethodInvite:
			s.inbound(msg)
		default:
			s.log.Debug("сообщение для неизвестного вызова",
				logger.F("method", msg.Method), logger.F("call_id", callID))
		}
	}

	if callID != "" {
		return rpc.Params{"method": msg.Method}
	}

	switch msg.Method {
	case MethodPunt:
		// сервер вытеснил сессию: purge и закрытие без переподключения
		_ = s.Logout()
	case MethodEvent:
		s.handleEvent(msg.Params)
	case dialog.MethodInfo:
		info := msg.Params
		if m, ok := msg.Params["msg"].(map[string]interface{}); ok {
			info = m
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(s, nil, dialog.MessageInfo, info)
		}
		s.log.Debug("сообщение", logger.F("from", info["from"]), logger.F("body", info["body"]))
	case MethodClientReady:
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(s, nil, dialog.MessageClientReady, msg.Params)
		}
		s.log.Debug("клиент готов")
	default:
		s.metrics.MessageDropped("unknown")
		s.log.Debug("неизвестный метод", logger.F("method", msg.Method))
	}
	return nil
}

// inbound создает входящий диалог для verto.invite или verto.attach
func (s *Session) inbound(msg *rpc.Message) {
	params := make(rpc.Params, len(msg.Params)+2)
	for k, v := range msg.Params {
		params[k] = v
	}

	sdp, _ := params["sdp"].(string)
	flags := rtc.Inspect(sdp)
	attach := msg.Method == dialog.MethodAttach

	if attach {
		params["attach"] = true
		if flags.Video {
			params["useVideo"] = true
		}
	} else if flags.Video {
		params["wantVideo"] = true
	}
	if flags.Stereo {
		params["useStereo"] = true
	}

	d := dialog.New(s, s.dialogConfig(dialog.Inbound, params))
	s.dialogs.Put(d)

	if attach {
		d.SetState(dialog.StateRecovering)
		d.Answer(nil)
		return
	}
	d.Ring()
}

type subscriber struct {
	handler  EventHandler
	userData interface{}
	ready    bool
}

// handleEvent доставляет verto.event: подписчики канала, подписчики
// префикса до первой точки, приватное событие сессии, приватное событие
// диалога
func (s *Session) handleEvent(params rpc.Params) {
	key, _ := params["eventChannel"].(string)

	var list []subscriber
	found := false
	if key != "" {
		list, found = s.subscribers(key)
		if !found {
			list, found = s.subscribers(strings.SplitN(key, ".", 2)[0])
		}
	}

	if !found {
		if key != "" && key == s.sessid {
			s.metrics.EventDelivered("session")
			if s.cb.OnMessage != nil {
				s.cb.OnMessage(s, nil, dialog.MessagePvtEvent, params)
			}
			return
		}
		if key != "" {
			if d, ok := s.dialogs.Get(key); ok {
				s.metrics.EventDelivered("dialog")
				d.SendMessage(dialog.MessagePvtEvent, params)
				return
			}
		}
		s.metrics.MessageDropped("event")
		s.log.Debug("событие без подписки проигнорировано", logger.F("channel", key))
		return
	}

	for _, sub := range list {
		switch {
		case !sub.ready:
			s.log.Error("событие для неподтвержденной подписки проигнорировано", logger.F("channel", key))
		case sub.handler != nil:
			s.metrics.EventDelivered("subscriber")
			sub.handler(s, params, sub.userData)
		case s.cb.OnEvent != nil:
			s.metrics.EventDelivered("subscriber")
			s.cb.OnEvent(s, params, sub.userData)
		default:
			s.log.Info("событие", logger.F("channel", key), logger.F("params", params))
		}
	}
}
