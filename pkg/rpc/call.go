package rpc

import "encoding/json"

// ResponseHandler обработчики результата запроса. Вызываются из горутины
// чтения соединения.
type ResponseHandler struct {
	OnSuccess func(result json.RawMessage)
	OnError   func(err error)
}

// Call отложенный результат запроса
type Call struct {
	ID     uint64
	Method string
	Params Params

	// Queued - запрос ушел в очередь, Done никогда не сработает
	Queued bool

	Result json.RawMessage
	Error  error
	Done   chan *Call

	handler *ResponseHandler
}

func newCall(id uint64, method string, params Params, handler *ResponseHandler) *Call {
	return &Call{
		ID:      id,
		Method:  method,
		Params:  params,
		Done:    make(chan *Call, 1),
		handler: handler,
	}
}

func (c *Call) resolve(result json.RawMessage, rpcErr *Error) {
	if rpcErr != nil {
		c.fail(rpcErr)
		return
	}
	c.Result = result
	if c.handler != nil && c.handler.OnSuccess != nil {
		c.handler.OnSuccess(result)
	}
	c.Done <- c
}

func (c *Call) fail(err error) {
	c.Error = err
	if c.handler != nil && c.handler.OnError != nil {
		c.handler.OnError(err)
	}
	c.Done <- c
}
