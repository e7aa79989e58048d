package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KiruthikKumar16/wb/internal/audit"
	"github.com/KiruthikKumar16/wb/internal/classify"
	"github.com/KiruthikKumar16/wb/internal/config"
	"github.com/KiruthikKumar16/wb/internal/dispatch"
	"github.com/KiruthikKumar16/wb/internal/mqttx"
	"github.com/KiruthikKumar16/wb/internal/notify"
	"github.com/KiruthikKumar16/wb/internal/ratelimit"
	"github.com/KiruthikKumar16/wb/internal/retry"
	"github.com/KiruthikKumar16/wb/internal/stream"
	"github.com/KiruthikKumar16/wb/internal/telemetry"
)

func main() {
	envFile := flag.String("env", "", "optional path to a .env-style config file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting wearable alert server",
		"broker", cfg.BrokerURL(),
		"sos", cfg.TopicSOS,
		"status", cfg.TopicStatus,
		"tamper", cfg.TopicTamper,
		"recipients", len(cfg.EmergencyNumbers),
		"calls", cfg.EnableCalls,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, log)

	auditLogs, err := audit.NewCSVLogs(cfg.SOSLogPath, cfg.StatusLogPath)
	if err != nil {
		log.Error("audit log init failed", "error", err)
		os.Exit(1)
	}

	var sms, call notify.Channel
	if cfg.TwilioEnabled() {
		tw := notify.NewTwilioClient(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom, 15*time.Second)
		sms = notify.NewSMSChannel(tw)
		call = notify.NewCallChannel(tw)
		log.Info("twilio enabled", "from", cfg.TwilioFrom)
	} else {
		sms = notify.NewConsoleChannel(notify.ChannelSMS, log)
		call = notify.NewConsoleChannel(notify.ChannelCall, log)
		log.Info("twilio not configured; notifications will be printed to console")
	}
	if !cfg.EnableCalls {
		call = nil
	}

	var mirror *stream.Mirror
	if cfg.KafkaEnabled() {
		mirror = stream.NewMirror(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaDLQTopic)
		defer mirror.Close()
		log.Info("kafka event mirror enabled", "topic", cfg.KafkaTopic, "dlq", cfg.KafkaDLQTopic)
	}

	var statusSink dispatch.StatusWriter
	if cfg.InfluxEnabled() {
		influx := telemetry.NewInflux(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, log)
		defer influx.Close()
		statusSink = influx
		log.Info("influx status telemetry enabled", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
	}

	acks := mqttx.NewAckPublisher()
	dispatcher := dispatch.New(dispatch.Options{
		Log:        log,
		Ack:        acks,
		Audit:      auditLogs,
		Limiter:    ratelimit.New(cfg.RateLimitWindow),
		Retrier:    retry.New(cfg.RetryAttempts, cfg.RetryBaseBackoff, log),
		SMS:        sms,
		Call:       call,
		Telemetry:  statusSink,
		Recipients: cfg.EmergencyNumbers,
		CallScript: cfg.CallMessage,
	})

	router := mqttx.NewRouter(log, classify.New(), dispatcher, mirror)
	client := mqttx.BuildClient(cfg, log, router.Handle)
	acks.SetClient(client)

	mqttx.ConnectWithBackoff(ctx, client, log, 2*time.Second, 30*time.Second)

	<-ctx.Done()
	log.Info("shutting down; waiting for in-flight notifications")
	dispatcher.Wait()
	client.Disconnect(1000)
	log.Info("server stopped")
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupGracefulShutdown(cancel context.CancelFunc, log *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info("received signal; shutting down", "signal", s.String())
		cancel()
	}()
}
