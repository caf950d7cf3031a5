package svc

import (
	"context"
	"log"
	"net"
	"os"

	"github.com/remind101/fieldcrypt/logger"
	"github.com/remind101/fieldcrypt/metrics"
)

// Env holds global dependencies that need to be initialized in main() and
// injected as dependencies into an application.
type Env struct {
	Logger  logger.Logger
	Context context.Context
	Close   func() // Should be called in a defer in main().
}

// InitAll will initialize the common dependencies: metrics and logging.
func InitAll(appName, logLevel, statsdAddr string) Env {
	metricsCloser := InitMetrics(appName, statsdAddr)

	l := InitLogger(logLevel)
	logger.DefaultLogger = l

	ctx := logger.WithLogger(context.Background(), l)

	return Env{
		Logger:  l,
		Context: ctx,
		Close: func() {
			metricsCloser()
		},
	}
}

// InitMetrics configures the metrics package to report to a statsd agent at
// addr, typically STATSD_ADDR. Metrics are discarded when addr is empty or
// does not resolve.
func InitMetrics(appName, addr string) (fn func()) {
	fn = func() {
		metrics.Close()
	}

	if addr == "" {
		return
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return
	}

	if len(addrs) == 0 {
		return
	}

	metrics.SetAppName(appName)
	if r, err := metrics.NewDataDogMetricsReporter(net.JoinHostPort(addrs[0], port), ""); err == nil {
		metrics.Reporter = r
	}

	return
}

// InitLogger configures a leveled logger writing to stdout.
//
// If you want to replace the global default logger:
//
//	logger.DefaultLogger = InitLogger("info")
func InitLogger(level string) logger.Logger {
	return logger.New(log.New(os.Stdout, "", 0), logger.ParseLevel(level))
}
