package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version версия протокола JSON-RPC
const Version = "2.0"

// Params параметры запроса. Verto передает параметры только объектом.
type Params = map[string]interface{}

// Request исходящий запрос или уведомление.
// ID == 0 означает уведомление: поле id в JSON отсутствует.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  Params `json:"params"`
	ID      uint64 `json:"id,omitempty"`
}

// Response ответ, синтезируемый клиентом на входящий запрос сервера
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

// Error объект ошибки JSON-RPC
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message входящий конверт: ответ, запрос сервера или уведомление
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  Params          `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Err     json.RawMessage `json:"error,omitempty"`
}

var null = []byte("null")

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, null)
}

// HasID сообщает, есть ли у сообщения идентификатор
func (m *Message) HasID() bool {
	return present(m.ID)
}

// IsResponse проверяет, является ли сообщение корректным ответом:
// jsonrpc "2.0", есть id и есть result или error
func (m *Message) IsResponse() bool {
	return m.JSONRPC == Version && m.HasID() && (present(m.Result) || present(m.Err))
}

// NumericID возвращает числовой идентификатор сообщения
func (m *Message) NumericID() (uint64, bool) {
	if !m.HasID() {
		return 0, false
	}
	var id uint64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

// Error декодирует ошибку ответа. Ошибка не в виде объекта попадает в Message.
func (m *Message) Error() *Error {
	if !present(m.Err) {
		return nil
	}
	e := &Error{}
	if err := json.Unmarshal(m.Err, e); err != nil {
		return &Error{Message: string(m.Err), Data: m.Err}
	}
	return e
}

// Param возвращает строковый параметр по ключу
func (m *Message) Param(key string) string {
	if m.Params == nil {
		return ""
	}
	s, _ := m.Params[key].(string)
	return s
}
