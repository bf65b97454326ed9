package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arzzra/verto_phone/pkg/config"
	"github.com/arzzra/verto_phone/pkg/dialog"
	"github.com/arzzra/verto_phone/pkg/logger"
	"github.com/arzzra/verto_phone/pkg/metrics"
	"github.com/arzzra/verto_phone/pkg/rpc"
	"github.com/arzzra/verto_phone/pkg/verto"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "verto_phone",
	Short: "Клиент сигнализации Verto",
	Long: "Подключается к серверу Verto по websocket, выполняет login, " +
		"подписывается на каналы событий, отвечает на входящие вызовы и " +
		"совершает исходящий вызов.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "файл конфигурации (yaml, json, toml)")
	config.Flags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	conf, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	logger.Setup(conf.Verto.Debug, conf.Log.JSON)
	log := logger.New(nil).WithComponent("main")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(registry, metrics.DefaultConfig())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if conf.Metrics.Addr != "" {
		srv = serveMetrics(conf.Metrics.Addr, registry, log)
	}

	app := &phone{conf: conf, log: log}
	session := verto.NewSession(conf.Verto, app.callbacks(),
		verto.WithLogger(logger.New(nil)),
		verto.WithMetrics(collector),
	)

	log.Info("подключение", logger.F("url", conf.Verto.SocketURL), logger.F("sessid", session.SessionID()))
	session.Connect()

	<-ctx.Done()
	log.Info("завершение")

	if err := session.Logout(); err != nil {
		log.Warn("ошибка закрытия соединения", logger.ErrField(err))
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("ошибка остановки HTTP сервера", logger.ErrField(err))
		}
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("метрики доступны", logger.F("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP сервер метрик остановлен", logger.ErrField(err))
		}
	}()
	return srv
}

// phone поведение приложения поверх сессии
type phone struct {
	conf *config.Config
	log  logger.Logger

	subscribeOnce sync.Once
	callOnce      sync.Once
}

func (p *phone) callbacks() verto.Callbacks {
	return verto.Callbacks{
		OnLogin:       p.onLogin,
		OnClose:       func(*verto.Session) { p.log.Warn("соединение закрыто, ожидание переподключения") },
		OnError:       func(_ *verto.Session, err error) { p.log.Error("ошибка сессии", logger.ErrField(err)) },
		OnDialogState: p.onDialogState,
		OnMessage:     p.onMessage,
		OnEvent: func(_ *verto.Session, params rpc.Params, _ interface{}) {
			p.log.Info("событие", logger.F("channel", params["eventChannel"]), logger.F("data", params["data"]))
		},
	}
}

func (p *phone) onLogin(s *verto.Session, ok bool, result json.RawMessage) {
	if !ok {
		p.log.Error("login отклонен сервером")
		return
	}
	p.log.Info("login выполнен", logger.F("result", string(result)))

	// после переподключения сессия сама повторяет подписки
	p.subscribeOnce.Do(func() {
		for _, ch := range p.conf.Channels {
			s.Subscribe(ch, verto.SubscribeParams{})
		}
	})

	if p.conf.Call == "" {
		return
	}
	p.callOnce.Do(func() {
		d, err := s.NewCall(rpc.Params{
			"destination_number": p.conf.Call,
			"caller_id_name":     p.conf.Verto.Login,
		})
		if err != nil {
			p.log.Error("не удалось начать вызов", logger.F("destination", p.conf.Call), logger.ErrField(err))
			return
		}
		p.log.Info("исходящий вызов", logger.F("call_id", d.CallID()), logger.F("destination", p.conf.Call))
	})
}

func (p *phone) onDialogState(d *dialog.Dialog) {
	name, number := d.RemoteCallerID()
	p.log.Info("состояние вызова",
		logger.F("call_id", d.CallID()),
		logger.F("state", d.State().String()),
		logger.F("remote_name", name),
		logger.F("remote_number", number),
	)

	if d.State() != dialog.StateRinging || d.Direction() != dialog.Inbound || !p.conf.AutoAnswer {
		return
	}
	time.AfterFunc(p.conf.Verto.RingSleep, func() {
		if d.State() == dialog.StateRinging {
			d.Answer(nil)
		}
	})
}

func (p *phone) onMessage(_ *verto.Session, d *dialog.Dialog, kind dialog.MessageKind, params rpc.Params) {
	fields := []logger.Field{logger.F("kind", kind.String()), logger.F("params", params)}
	if d != nil {
		fields = append(fields, logger.F("call_id", d.CallID()))
	}
	p.log.Info("сообщение", fields...)
}
