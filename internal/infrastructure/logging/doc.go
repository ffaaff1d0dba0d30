// Package logging provides structured logging for the gateway on top of
// log/slog.
//
// Every record carries service=nukigateway and the build version.
// Components derive child loggers with Component:
//
//	log := logging.New(cfg.Logging, version)
//	schedLog := log.Component("scheduler")
//	schedLog.Info("bridge refreshed", "bridge", name, "devices", n)
package logging
