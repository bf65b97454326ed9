package rpc

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
)

// Conn двунаправленный канал сообщений
type Conn interface {
	// ReadMessage блокирует до получения следующего сообщения
	ReadMessage() ([]byte, error)
	// WriteMessage отправляет одно сообщение
	WriteMessage(data []byte) error
	// Close закрывает соединение
	Close() error
}

// Dialer устанавливает соединение с сервером
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer Dialer поверх gorilla/websocket, сообщения - текстовые фреймы
type WebsocketDialer struct {
	HandshakeTimeout   time.Duration
	InsecureSkipVerify bool
	Header             http.Header
}

// Dial открывает websocket соединение
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if d.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	ws, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "websocket dial %s", url)
	}
	return &wsConn{conn: ws}, nil
}

// wsConn адаптер websocket.Conn к Conn. Запись сериализуется клиентом,
// но Close может прийти из другой горутины, поэтому closeOnce.
type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// isGracefulClose отличает штатное закрытие от ошибки транспорта
func isGracefulClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, ErrConnClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
