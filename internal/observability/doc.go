// Package observability provides logging and tracing for the gateway.
//
// Logging is structured and backed by zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request proxied",
//	    observability.String("service", "users-api"),
//	    observability.Int("status", 200),
//	)
//
// Tracing uses OpenTelemetry with an OTLP gRPC exporter. Request, trace and
// span ids stored in a context are attached to log lines by WithContext.
package observability
