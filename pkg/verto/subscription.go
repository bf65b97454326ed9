package verto

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/arzzra/verto_phone/pkg/logger"
	"github.com/arzzra/verto_phone/pkg/rpc"
)

// Subscription подписка на канал событий. События доставляются только
// после подтверждения подписки сервером.
type Subscription struct {
	Channel  string
	Handler  EventHandler
	UserData interface{}

	ready atomic.Bool
}

// Ready сообщает, подтверждена ли подписка
func (sub *Subscription) Ready() bool {
	return sub.ready.Load()
}

// SubscribeParams параметры подписки
type SubscribeParams struct {
	// Handler обработчик событий. Если nil, используется Callbacks.OnEvent.
	Handler  EventHandler
	UserData interface{}
}

type subscribeResult struct {
	SubscribedChannels        []string `json:"subscribedChannels"`
	AlreadySubscribedChannels []string `json:"alreadySubscribedChannels"`
	UnauthorizedChannels      []string `json:"unauthorizedChannels"`
}

// Subscribe регистрирует подписчика канала и отправляет verto.subscribe.
// Подписка становится активной после ответа сервера.
func (s *Session) Subscribe(channel string, p SubscribeParams) *Subscription {
	sub := &Subscription{Channel: channel, Handler: p.Handler, UserData: p.UserData}

	s.subsMu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.subsMu.Unlock()

	s.sendSubscribe([]string{channel})
	return sub
}

// Unsubscribe удаляет всех подписчиков канала и отправляет verto.unsubscribe
func (s *Session) Unsubscribe(channel string) {
	s.subsMu.Lock()
	_, exists := s.subs[channel]
	delete(s.subs, channel)
	s.subsMu.Unlock()

	if !exists {
		return
	}

	s.Go(MethodUnsubscribe, rpc.Params{"eventChannel": []string{channel}}, &rpc.ResponseHandler{
		OnError: func(err error) {
			s.log.Warn("ошибка отписки", logger.F("channel", channel), logger.ErrField(err))
		},
	})
}

// Broadcast публикует данные в канал уведомлением verto.broadcast
func (s *Session) Broadcast(channel string, data rpc.Params) error {
	params := make(rpc.Params, len(data)+1)
	for k, v := range data {
		params[k] = v
	}
	params["eventChannel"] = channel
	return s.client.Notify(MethodBroadcast, params)
}

// Channels возвращает каналы с зарегистрированными подписчиками
func (s *Session) Channels() []string {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	out := make([]string, 0, len(s.subs))
	for ch := range s.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (s *Session) sendSubscribe(channels []string) {
	s.Go(MethodSubscribe, rpc.Params{"eventChannel": channels}, &rpc.ResponseHandler{
		OnSuccess: func(result json.RawMessage) {
			s.handleSubscribeResult(channels, result)
		},
		OnError: func(err error) {
			s.log.Error("ошибка подписки", logger.F("channels", channels), logger.ErrField(err))
			if s.cb.OnError != nil {
				s.cb.OnError(s, fmt.Errorf("verto: subscribe %v: %w", channels, err))
			}
		},
	})
}

func (s *Session) handleSubscribeResult(requested []string, raw json.RawMessage) {
	var res subscribeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		s.log.Warn("ответ на подписку не разобран", logger.ErrField(err))
	}

	ready := append(res.SubscribedChannels, res.AlreadySubscribedChannels...)
	if len(ready) == 0 && len(res.UnauthorizedChannels) == 0 {
		ready = requested
	}

	s.subsMu.Lock()
	for _, ch := range ready {
		for _, sub := range s.subs[ch] {
			sub.ready.Store(true)
		}
	}
	for _, ch := range res.UnauthorizedChannels {
		delete(s.subs, ch)
	}
	s.subsMu.Unlock()

	for _, ch := range res.UnauthorizedChannels {
		s.log.Error("нет доступа к каналу", logger.F("channel", ch))
		if s.cb.OnError != nil {
			s.cb.OnError(s, fmt.Errorf("%w: %s", ErrUnauthorizedChannel, ch))
		}
	}
}

// resubscribe повторяет подписки после нового login: сервер не хранит их
// между соединениями
func (s *Session) resubscribe() {
	s.subsMu.Lock()
	channels := make([]string, 0, len(s.subs))
	for ch, list := range s.subs {
		for _, sub := range list {
			sub.ready.Store(false)
		}
		channels = append(channels, ch)
	}
	s.subsMu.Unlock()

	if len(channels) == 0 {
		return
	}
	sort.Strings(channels)
	s.sendSubscribe(channels)
}

// subscribers возвращает снимок подписчиков канала
func (s *Session) subscribers(channel string) ([]subscriber, bool) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	list, ok := s.subs[channel]
	if !ok {
		return nil, false
	}
	out := make([]subscriber, 0, len(list))
	for _, sub := range list {
		out = append(out, subscriber{handler: sub.Handler, userData: sub.UserData, ready: sub.Ready()})
	}
	return out, true
}
