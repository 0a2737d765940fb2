package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/pairlink/relay/internal/auth"
)

const (
	envVarListenAddr      = "PAIRLINK_LISTEN_ADDR"
	envVarMode            = "PAIRLINK_MODE"
	envVarLogFormat       = "PAIRLINK_LOG_FORMAT"
	envVarLogLevel        = "PAIRLINK_LOG_LEVEL"
	envVarShutdownTimeout = "PAIRLINK_SHUTDOWN_TIMEOUT"
	envVarJWTSecret       = "PAIRLINK_JWT_SECRET"

	envVarAllowedOrigins = "ALLOWED_ORIGINS"
	envVarAuthMode       = "AUTH_MODE"
	envVarMaxConnections = "MAX_CONNECTIONS"

	// Signaling WebSocket hardening knobs.
	envVarAuthTimeout          = "PAIRLINK_AUTH_TIMEOUT"
	envVarWSIdleTimeout        = "PAIRLINK_WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "PAIRLINK_WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "PAIRLINK_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "PAIRLINK_MAX_MESSAGES_PER_SECOND"
	envVarSendBufferMessages   = "PAIRLINK_SEND_BUFFER_MESSAGES"
)

const (
	DefaultListenAddr           = ":8080"
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultAuthTimeout          = 5 * time.Second
	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendBufferMessages   = 32
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

const DefaultMode = ModeDev

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	AllowedOrigins []string

	AuthMode  auth.Mode
	JWTSecret string

	// AuthTimeout bounds how long an unauthenticated socket may sit idle before
	// being closed (AUTH_MODE=jwt only).
	AuthTimeout time.Duration

	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// SendBufferMessages sizes the per-connection outbound queue. A full queue
	// is treated as a dead client.
	SendBufferMessages int

	// MaxConnections caps concurrently registered connections. 0 = unlimited.
	MaxConnections int

	// ICEServers is the STUN/TURN list forwarded opaquely to clients; the relay
	// itself never dials them.
	ICEServers []webrtc.ICEServer
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, _ := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if logFormatDefault == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if logLevelDefault == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	fs := flag.NewFlagSet("pairlink-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "TCP listen address")
	modeStr := fs.String("mode", modeDefault, "deployment mode: dev or prod")
	logFormatStr := fs.String("log-format", logFormatDefault, "log format: text or json")
	logLevelStr := fs.String("log-level", logLevelDefault, "log level: debug, info, warn, or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode := Mode(strings.ToLower(strings.TrimSpace(*modeStr)))
	switch mode {
	case ModeDev, ModeProd:
	default:
		return Config{}, fmt.Errorf("invalid mode %q (want dev or prod)", *modeStr)
	}

	logFormat := LogFormat(strings.ToLower(strings.TrimSpace(*logFormatStr)))
	switch logFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("invalid log format %q (want text or json)", *logFormatStr)
	}

	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	authModeStr := strings.ToLower(strings.TrimSpace(envOrDefault(lookup, envVarAuthMode, string(auth.ModeNone))))
	authMode := auth.Mode(authModeStr)
	switch authMode {
	case auth.ModeNone, auth.ModeJWT:
	default:
		return Config{}, fmt.Errorf("invalid %s %q (want none or jwt)", envVarAuthMode, authModeStr)
	}
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	if authMode == auth.ModeJWT && jwtSecret == "" {
		return Config{}, fmt.Errorf("%s=jwt requires %s", envVarAuthMode, envVarJWTSecret)
	}

	authTimeout, err := envDurationOrDefault(lookup, envVarAuthTimeout, DefaultAuthTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			envVarWSPingInterval, wsPingInterval, envVarWSIdleTimeout, wsIdleTimeout)
	}

	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessagesPerSecond)
	}
	sendBufferMessages, err := envIntOrDefault(lookup, envVarSendBufferMessages, DefaultSendBufferMessages)
	if err != nil {
		return Config{}, err
	}
	if sendBufferMessages <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarSendBufferMessages)
	}
	maxConnections, err := envIntOrDefault(lookup, envVarMaxConnections, 0)
	if err != nil {
		return Config{}, err
	}
	if maxConnections < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", envVarMaxConnections)
	}

	iceServers, err := parseICEServersFromValues(
		envOrDefault(lookup, envICEServersJSON, ""),
		envOrDefault(lookup, envStunURLs, ""),
		envOrDefault(lookup, envTurnURLs, ""),
		envOrDefault(lookup, envTurnUsername, ""),
		envOrDefault(lookup, envTurnCredential, ""),
	)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:      *listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		AllowedOrigins: splitCommaSeparated(envOrDefault(lookup, envVarAllowedOrigins, "")),

		AuthMode:  authMode,
		JWTSecret: jwtSecret,

		AuthTimeout:    authTimeout,
		WSIdleTimeout:  wsIdleTimeout,
		WSPingInterval: wsPingInterval,

		MaxMessageBytes:      int64(maxMessageBytes),
		MaxMessagesPerSecond: maxMessagesPerSecond,
		SendBufferMessages:   sendBufferMessages,
		MaxConnections:       maxConnections,

		ICEServers: iceServers,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaSeparated(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
