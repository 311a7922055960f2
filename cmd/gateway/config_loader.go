package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting svcgw",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	applyEnvOverrides(cfg)

	if err := config.ValidateConfig(cfg); err != nil {
		fatalWithSync(logger, "invalid configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	logger.Info("configuration loaded",
		observability.Int("port", cfg.Server.Port),
		observability.String("prefix", cfg.Server.Prefix),
		observability.String("repository", cfg.Repository.Driver),
		observability.Int("services", len(cfg.Services)),
		observability.Int("routes", len(cfg.Routes)),
		observability.Int("aggregations", len(cfg.Aggregations)),
	)

	return cfg
}

// envPrefix namespaces every environment variable the gateway reads.
const envPrefix = "GATEWAY_"

// applyEnvOverrides lets deployments flip operational switches without
// editing the file. ENV values take priority over file-based configuration.
func applyEnvOverrides(cfg *config.GatewayConfig) {
	overrideBool(&cfg.Maintenance.Enabled, "MAINTENANCE")
	overrideInt(&cfg.Server.Port, "PORT")
	overrideString(&cfg.RateLimit.RedisAddress, "REDIS_ADDRESS")
	overrideString(&cfg.Repository.DSN, "REPOSITORY_DSN")
}

// gatewayEnv returns GATEWAY_<name> when it is set and not empty.
func gatewayEnv(name string) (string, bool) {
	v := os.Getenv(envPrefix + name)
	return v, v != ""
}

func overrideString(dst *string, name string) {
	if v, ok := gatewayEnv(name); ok {
		*dst = v
	}
}

func overrideInt(dst *int, name string) {
	v, ok := gatewayEnv(name)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// overrideBool accepts true/false, 1/0, yes/no and on/off. Anything else
// leaves dst untouched.
func overrideBool(dst *bool, name string) {
	v, ok := gatewayEnv(name)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	}
}

// initAppLogger rebuilds the logger from the configuration unless flags
// already chose level and format.
func initAppLogger(cfg *config.GatewayConfig, flags cliFlags, fallback observability.Logger) observability.Logger {
	logCfg := observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		fallback.Warn("invalid logging configuration, keeping bootstrap logger", observability.Error(err))
		return fallback
	}
	return logger
}

// initTracer initializes the tracer.
func initTracer(cfg *config.GatewayConfig, logger observability.Logger) *observability.Tracer {
	t := cfg.Observability.Tracing
	tracer, err := observability.NewTracer(context.Background(), observability.TracerConfig{
		ServiceName:  t.ServiceName,
		OTLPEndpoint: t.OTLPEndpoint,
		SamplingRate: t.SamplingRate,
		Enabled:      t.Enabled,
	})
	if err != nil {
		fatalWithSync(logger, "failed to initialize tracer", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	return tracer
}
