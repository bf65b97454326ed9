// Package config загружает конфигурацию клиента из файла, переменных
// окружения VERTO_* и флагов командной строки.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arzzra/verto_phone/pkg/verto"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "VERTO"

// Config полная конфигурация клиента
type Config struct {
	Verto verto.Options `mapstructure:",squash"`

	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`

	// AutoAnswer отвечать на входящие вызовы через RingSleep
	AutoAnswer bool `mapstructure:"autoAnswer"`
	// Call номер для исходящего вызова после login
	Call string `mapstructure:"call"`
	// Channels каналы событий для подписки после login
	Channels []string `mapstructure:"channels"`
}

// MetricsConfig настройки HTTP эндпоинта метрик
type MetricsConfig struct {
	// Addr адрес /metrics, пустой отключает эндпоинт
	Addr string `mapstructure:"addr"`
}

// LogConfig настройки логирования
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// flagKeys соответствие флагов ключам конфигурации
var flagKeys = map[string]string{
	"socket-url":           "socketUrl",
	"login":                "login",
	"passwd":               "passwd",
	"sessid":               "sessid",
	"debug":                "debug",
	"ice-servers":          "iceServers",
	"ring-sleep":           "ringSleep",
	"local-ip":             "localIP",
	"handshake-timeout":    "handshakeTimeout",
	"insecure-skip-verify": "insecureSkipVerify",
	"metrics-addr":         "metrics.addr",
	"log-json":             "log.json",
	"auto-answer":          "autoAnswer",
	"call":                 "call",
	"channels":             "channels",
}

// Flags регистрирует флаги, которые понимает Load
func Flags(fs *pflag.FlagSet) {
	def := verto.DefaultOptions()

	fs.String("socket-url", "", "адрес websocket сервера Verto (wss://host:8082)")
	fs.String("login", "", "логин, например 1008@pbx.local")
	fs.String("passwd", "", "пароль")
	fs.String("sessid", "", "идентификатор сессии, по умолчанию генерируется")
	fs.Bool("debug", false, "подробное логирование")
	fs.StringSlice("ice-servers", nil, "ICE серверы")
	fs.Duration("ring-sleep", def.RingSleep, "задержка автоответа")
	fs.String("local-ip", "", "адрес для SDP")
	fs.Duration("handshake-timeout", def.HandshakeTimeout, "таймаут websocket handshake")
	fs.Bool("insecure-skip-verify", false, "не проверять TLS сертификат сервера")
	fs.String("metrics-addr", "", "адрес HTTP эндпоинта /metrics")
	fs.Bool("log-json", false, "логи в формате JSON")
	fs.Bool("auto-answer", false, "автоматически отвечать на входящие вызовы")
	fs.String("call", "", "номер для исходящего вызова")
	fs.StringSlice("channels", nil, "каналы событий для подписки")
}

// Load читает конфигурацию. Приоритет: флаги, окружение, файл, значения
// по умолчанию. path и flags могут быть пустыми.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", name)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.Verto.SocketURL == "" {
		return errors.New("socketUrl не задан")
	}
	if !strings.HasPrefix(c.Verto.SocketURL, "ws://") && !strings.HasPrefix(c.Verto.SocketURL, "wss://") {
		return errors.Errorf("socketUrl %q: ожидается ws:// или wss://", c.Verto.SocketURL)
	}
	if c.Verto.RingSleep < 0 {
		return errors.Errorf("ringSleep %s: отрицательная задержка", c.Verto.RingSleep)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := verto.DefaultOptions()

	v.SetDefault("socketUrl", "")
	v.SetDefault("login", "")
	v.SetDefault("passwd", "")
	v.SetDefault("sessid", "")
	v.SetDefault("debug", false)
	v.SetDefault("loginParams", map[string]interface{}{})
	v.SetDefault("userVariables", map[string]interface{}{})
	v.SetDefault("videoParams", map[string]interface{}{})
	v.SetDefault("audioParams", map[string]interface{}{})
	v.SetDefault("deviceParams.useMic", def.DeviceParams.UseMic)
	v.SetDefault("deviceParams.useSpeak", def.DeviceParams.UseSpeak)
	v.SetDefault("deviceParams.useCamera", def.DeviceParams.UseCamera)
	v.SetDefault("iceServers", []string{})
	v.SetDefault("ringSleep", def.RingSleep)
	v.SetDefault("localIP", "")
	v.SetDefault("handshakeTimeout", def.HandshakeTimeout)
	v.SetDefault("insecureSkipVerify", false)
	v.SetDefault("backoff.initial", def.Backoff.Initial)
	v.SetDefault("backoff.step", def.Backoff.Step)
	v.SetDefault("backoff.max", def.Backoff.Max)
	v.SetDefault("backoff.period", def.Backoff.Period)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.json", false)
	v.SetDefault("autoAnswer", false)
	v.SetDefault("call", "")
	v.SetDefault("channels", []string{})
}
