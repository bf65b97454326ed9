// Package logger содержит интерфейс логирования, которым пользуются
// транспорт, сессия и диалоги, и его реализацию поверх logrus.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger интерфейс логирования с четырьмя уровнями.
// Первый аргумент - метка (сообщение), далее произвольные поля.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithComponent возвращает логгер с заданным компонентом
	WithComponent(component string) Logger
	// WithFields возвращает логгер с дополнительными постоянными полями
	WithFields(fields ...Field) Logger
}

// Field представляет поле лога
type Field struct {
	Key   string
	Value interface{}
}

// F создает поле лога
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// ErrField создает поле с ошибкой
func ErrField(err error) Field { return Field{Key: logrus.ErrorKey, Value: err} }

// Logrus реализация Logger поверх logrus.Entry
type Logrus struct {
	entry *logrus.Entry
}

// New создает логгер поверх переданного logrus.Logger.
// При nil используется стандартный logrus логгер.
func New(l *logrus.Logger) *Logrus {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Logrus{entry: logrus.NewEntry(l)}
}

// NewEntry оборачивает уже настроенный logrus.Entry
func NewEntry(e *logrus.Entry) *Logrus {
	return &Logrus{entry: e}
}

// Setup настраивает стандартный logrus логгер
func Setup(debug, jsonOutput bool) {
	SetupOutput(os.Stdout, debug, jsonOutput)
}

// SetupOutput настраивает стандартный logrus логгер с указанным выводом
func SetupOutput(out io.Writer, debug, jsonOutput bool) {
	logrus.SetOutput(out)
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	if jsonOutput {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "15:04:05.000000000",
		FullTimestamp:   true,
	})
}

func (l *Logrus) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l *Logrus) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l *Logrus) Warn(msg string, fields ...Field)  { l.with(fields).Warn(msg) }
func (l *Logrus) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }

// WithComponent создает logger с указанным компонентом
func (l *Logrus) WithComponent(component string) Logger {
	return &Logrus{entry: l.entry.WithField("component", component)}
}

// WithFields создает logger с дополнительными полями
func (l *Logrus) WithFields(fields ...Field) Logger {
	return &Logrus{entry: l.with(fields)}
}

// Entry возвращает нижележащий logrus.Entry
func (l *Logrus) Entry() *logrus.Entry {
	return l.entry
}

func (l *Logrus) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.entry.WithFields(data)
}

// NoOp логгер-заглушка для тестов
type NoOp struct{}

func (NoOp) Debug(string, ...Field)          {}
func (NoOp) Info(string, ...Field)           {}
func (NoOp) Warn(string, ...Field)           {}
func (NoOp) Error(string, ...Field)          {}
func (NoOp) WithComponent(string) Logger     { return NoOp{} }
func (NoOp) WithFields(...Field) Logger      { return NoOp{} }

// OrNoOp возвращает l, либо NoOp если l == nil
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOp{}
	}
	return l
}
