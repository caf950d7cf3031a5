package metrics

import "sync"

// Metric is one observation captured by a FakeReporter.
type Metric struct {
	Kind  string
	Name  string
	Tags  map[string]string
	Rate  float64
	Value float64
}

// FakeReporter records every observation in memory. It's meant for tests
// that assert on emitted metrics.
type FakeReporter struct {
	mu      sync.Mutex
	Metrics []Metric
}

// NewFakeReporter returns an empty FakeReporter.
func NewFakeReporter() *FakeReporter {
	return &FakeReporter{}
}

// Install swaps the package level Reporter for r and returns a func that
// restores the previous one.
func (r *FakeReporter) Install() func() {
	prev := Reporter
	Reporter = r
	return func() { Reporter = prev }
}

func (r *FakeReporter) record(kind, name string, value float64, tags map[string]string, rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metrics = append(r.Metrics, Metric{Kind: kind, Name: name, Tags: tags, Rate: rate, Value: value})
}

func (r *FakeReporter) Count(name string, value int64, tags map[string]string, rate float64) error {
	r.record("count", name, float64(value), tags, rate)
	return nil
}

func (r *FakeReporter) Gauge(name string, value float64, tags map[string]string, rate float64) error {
	r.record("gauge", name, value, tags, rate)
	return nil
}

func (r *FakeReporter) Histogram(name string, value float64, tags map[string]string, rate float64) error {
	r.record("histogram", name, value, tags, rate)
	return nil
}

func (r *FakeReporter) Set(name string, value string, tags map[string]string, rate float64) error {
	r.record("set", name, 0, tags, rate)
	return nil
}

func (r *FakeReporter) TimeInMilliseconds(name string, value float64, tags map[string]string, rate float64) error {
	r.record("timing", name, value, tags, rate)
	return nil
}

func (r *FakeReporter) Close() error {
	return nil
}

// Sum adds up every observation of the given kind and name whose tags
// contain all of match.
func (r *FakeReporter) Sum(kind, name string, match map[string]string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for _, m := range r.Metrics {
		if m.Kind != kind || m.Name != name || !tagsMatch(m.Tags, match) {
			continue
		}
		total += m.Value
	}
	return total
}

// Last returns the most recent observation of the given kind and name.
func (r *FakeReporter) Last(kind, name string) (Metric, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Metrics) - 1; i >= 0; i-- {
		if r.Metrics[i].Kind == kind && r.Metrics[i].Name == name {
			return r.Metrics[i], true
		}
	}
	return Metric{}, false
}

func tagsMatch(tags, match map[string]string) bool {
	for k, v := range match {
		if tags[k] != v {
			return false
		}
	}
	return true
}
