// Package metrics is a thin facade over a pluggable MetricsReporter.
//
// Usage:
//
//	metrics.SetAppName("fieldcrypt")
//	metrics.Reporter, _ = metrics.NewDataDogMetricsReporter("statsd:8125")
//	defer metrics.Close()
//	...
//	metrics.Count("rotation.scanned_total", 4, map[string]string{"target": "rotating"}, 1.0)
package metrics

import "sync"

var (
	// Reporter is the backend every package level function writes to. The
	// zero value discards everything.
	Reporter MetricsReporter

	mu          sync.RWMutex
	defaultTags map[string]string
)

func init() {
	resetReporter()
	resetDefaultTags()
}

type MetricsReporter interface {
	Count(name string, value int64, tags map[string]string, rate float64) error
	Gauge(name string, value float64, tags map[string]string, rate float64) error
	Histogram(name string, value float64, tags map[string]string, rate float64) error
	Set(name string, value string, tags map[string]string, rate float64) error
	TimeInMilliseconds(name string, value float64, tags map[string]string, rate float64) error
	Close() error
}

// SetAppName adds a "app:<name>" tag to each metric
func SetAppName(appName string) {
	mu.Lock()
	defer mu.Unlock()
	defaultTags["app"] = appName
}

// SetProcessName adds a "process:<name>" tag to each metric
func SetProcessName(processName string) {
	mu.Lock()
	defer mu.Unlock()
	defaultTags["process"] = processName
}

func resetDefaultTags() {
	mu.Lock()
	defer mu.Unlock()
	defaultTags = make(map[string]string, 2)
}

func resetReporter() {
	Reporter = &NoopMetricsReporter{}
}

func Count(name string, value int64, tags map[string]string, rate float64) error {
	return Reporter.Count(name, value, withDefaultTags(tags), rate)
}

func Gauge(name string, value float64, tags map[string]string, rate float64) error {
	return Reporter.Gauge(name, value, withDefaultTags(tags), rate)
}

func Histogram(name string, value float64, tags map[string]string, rate float64) error {
	return Reporter.Histogram(name, value, withDefaultTags(tags), rate)
}

func Set(name string, value string, tags map[string]string, rate float64) error {
	return Reporter.Set(name, value, withDefaultTags(tags), rate)
}

func TimeInMilliseconds(name string, value float64, tags map[string]string, rate float64) error {
	return Reporter.TimeInMilliseconds(name, value, withDefaultTags(tags), rate)
}

// Close closes the backend connection cleanly
func Close() error {
	return Reporter.Close()
}

// Time is a shorthand for TimeInMilliseconds for easy code block instrumentation
//
// Usage:
//
//	t := metrics.Time("db.Conn.Query", map[string]string{"driver": "postgres"}, 1.0)
//	defer t.Done()
func Time(name string, tags map[string]string, rate float64) *timer {
	t := &timer{name: name, tags: tags, rate: rate}
	t.Start()
	return t
}

func withDefaultTags(tags map[string]string) map[string]string {
	mu.RLock()
	defer mu.RUnlock()
	result := make(map[string]string, len(tags)+len(defaultTags))
	for k, v := range defaultTags {
		result[k] = v
	}
	for k, v := range tags {
		result[k] = v
	}
	return result
}
