package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cyclerhub/internal/alarms"
	"cyclerhub/internal/auth"
	"cyclerhub/internal/config"
	"cyclerhub/internal/ingest/mqttsource"
	"cyclerhub/internal/observability/metrics"
	"cyclerhub/internal/realtime"
	"cyclerhub/internal/telemetry/application"
	telemetry "cyclerhub/internal/telemetry/domain"
	"cyclerhub/internal/telemetry/infrastructure/memory"
	telemetryhttp "cyclerhub/internal/telemetry/interfaces/http"
	"cyclerhub/internal/telemetry/notify"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	metrics.Init()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}

	store := memory.NewStore(cfg.HistoryCapacity, cfg.MaxDevices)
	validator := telemetry.NewValidator(telemetry.Limits{
		MaxChannels: cfg.MaxChannels,
		MaxAux:      cfg.MaxAux,
		MaxCAN:      cfg.MaxCAN,
		MaxLIN:      cfg.MaxLIN,
		MaxAlarms:   cfg.MaxAlarms,
	})

	hub := realtime.NewHub(store, logger)
	broadcaster, err := notify.NewBroadcaster(hub, logger, notify.WithDeliveryTimeout(cfg.DeliveryTimeout.Std()))
	if err != nil {
		logger.Fatalf("broadcaster error: %v", err)
	}

	var serviceOpts []application.Option
	var journal alarms.Journal
	if db != nil {
		repo := alarms.NewRepository(db)
		journal = repo
		serviceOpts = append(serviceOpts, application.WithJournal(repo))
	}

	service, err := application.NewService(store, validator, broadcaster, application.SystemClock{}, logger, serviceOpts...)
	if err != nil {
		logger.Fatalf("telemetry service error: %v", err)
	}

	monitor, err := application.NewMonitor(store, broadcaster, application.SystemClock{}, logger, application.MonitorConfig{
		HeartbeatTimeout:    cfg.HeartbeatTimeout.Std(),
		InactivityWindow:    cfg.InactivityWindow.Std(),
		SweepInterval:       cfg.SweepInterval.Std(),
		SummaryInterval:     cfg.SummaryInterval.Std(),
		MaintenanceInterval: cfg.MaintenanceInterval.Std(),
		HistoryCapacity:     cfg.HistoryCapacity,
		HistoryHighWater:    cfg.HistoryHighWater,
	})
	if err != nil {
		logger.Fatalf("liveness monitor error: %v", err)
	}
	service.AttachSweeper(monitor)
	monitor.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source *mqttsource.Source
	if cfg.MQTT.BrokerURL != "" {
		source = mqttsource.New(cfg.MQTT, service, logger)
		go source.Start(ctx)
	}

	deviceHandler, err := telemetryhttp.NewHandler(service)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}
	wsHandler, err := realtime.NewHandler(hub)
	if err != nil {
		logger.Fatalf("websocket handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy(
		[]string{"/healthz", "/metrics", "/ws", "/api/v1/devices/data"},
		nil,
	)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/alarms", alarms.NewQueryHandler(journal))
	mux.Handle("/ws", wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
	if source != nil {
		source.Stop()
	}
	monitor.Stop()
	broadcaster.Close()
	hub.Close()
	logger.Println("stopped")
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so the websocket upgrade works behind the logger.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
