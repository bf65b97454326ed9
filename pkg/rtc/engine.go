// Package rtc описывает медиа движок, которым управляет диалог, и содержит
// сигнальную реализацию, формирующую SDP без захвата и передачи медиа.
package rtc

import "errors"

// Значения параметров устройств по умолчанию
const (
	DeviceAny  = "any"
	DeviceNone = "none"
)

var (
	// ErrEngineStopped движок остановлен и не может быть использован повторно
	ErrEngineStopped = errors.New("rtc: движок остановлен")
	// ErrEngineNotStarted offer или answer запрошены до Start
	ErrEngineNotStarted = errors.New("rtc: движок не запущен")
	// ErrNoMedia в SDP нет ни одной медиа секции
	ErrNoMedia = errors.New("rtc: в SDP нет медиа секций")
)

// Events обработчики событий движка. Вызываются синхронно из методов движка.
type Events struct {
	// OnCandidate сообщает о найденном ICE кандидате
	OnCandidate func(candidate string)
	// OnError сообщает об ошибке устройства или доступа
	OnError func(err error)
}

// Options параметры медиа движка диалога
type Options struct {
	UseVideo    bool
	UseStereo   bool
	ScreenShare bool

	UseCamera string
	UseMic    string
	UseSpeak  string

	VideoParams map[string]interface{}
	AudioParams map[string]interface{}
	ICEServers  []string

	// LocalIP адрес для c= и host кандидата
	LocalIP string

	Events Events
}

// Engine медиа движок диалога
type Engine interface {
	// Start захватывает устройства
	Start() error
	// Stop полностью освобождает движок
	Stop()
	// StopPeer закрывает только соединение с удаленной стороной
	StopPeer()
	// CreateOffer формирует локальный offer
	CreateOffer() (string, error)
	// CreateAnswer формирует answer на удаленный offer
	CreateAnswer(remoteSDP string) (string, error)
	// AcceptAnswer применяет удаленный answer (или early media)
	AcceptAnswer(remoteSDP string) error
}

// Factory создает движок для нового диалога
type Factory func(opts Options) Engine
