package rotation

import (
	"math"
	"sort"
	"time"
)

// Failure kinds recorded in samples.
const (
	KindDecryptionFailure = "decryption_failure"
	KindInvalidPayload    = "invalid_payload"
	KindKeyNotFound       = "key_not_found"
	KindError             = "error"
)

// Sample describes one field that failed to decrypt. It never carries
// plaintext or key material.
type Sample struct {
	RowID         int64  `json:"row_id"`
	Field         string `json:"field"`
	CiphertextLen int    `json:"ciphertext_len"`
	NonceLen      int    `json:"nonce_len"`
	Kind          string `json:"kind"`
}

// LatencySummary summarizes per batch latencies, in seconds.
type LatencySummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

func summarize(latencies []time.Duration) LatencySummary {
	if len(latencies) == 0 {
		return LatencySummary{}
	}
	secs := make([]float64, len(latencies))
	var total float64
	for i, l := range latencies {
		secs[i] = l.Seconds()
		total += secs[i]
	}
	sort.Float64s(secs)
	return LatencySummary{
		Count: len(secs),
		Min:   secs[0],
		Max:   secs[len(secs)-1],
		Mean:  total / float64(len(secs)),
		P50:   percentile(secs, 0.50),
		P95:   percentile(secs, 0.95),
	}
}

// percentile uses nearest rank on sorted values.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// Result is the diagnostics payload of a Run.
type Result struct {
	RunID   string `json:"run_id"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	DryRun  bool   `json:"dry_run"`
	Batches int    `json:"batches"`

	Scanned     int64 `json:"scanned"`
	Processed   int64 `json:"processed"`
	Skipped     int64 `json:"skipped"`
	DecryptOK   int64 `json:"decrypt_ok"`
	DecryptFail int64 `json:"decrypt_fail"`

	FailuresByField map[string]int64 `json:"failures_by_field"`
	Samples         []Sample         `json:"samples"`

	Latency       LatencySummary `json:"batch_latency_seconds"`
	ElapsedSecs   float64        `json:"elapsed_seconds"`
	RowsPerSecond float64        `json:"rows_per_second"`
	Remaining     int64          `json:"remaining"`
	ETASeconds    float64        `json:"eta_seconds"`
	PrevETASecs   *float64       `json:"previous_eta_seconds,omitempty"`
	ETAWarning    string         `json:"eta_warning,omitempty"`

	// Interrupted is set when the context was cancelled between batches.
	Interrupted bool `json:"interrupted,omitempty"`
}

// FinalizeResult is returned by a successful Finalize.
type FinalizeResult struct {
	Previous   string `json:"previous"`
	WriteLabel string `json:"write_label"`
	Rows       int64  `json:"rows"`
	// Pending counts rows still under the previous label or unlabelled.
	Pending int64 `json:"pending"`
}

// Status reports rotation progress.
type Status struct {
	WriteLabel string `json:"write_label"`
	Target     string `json:"target,omitempty"`
	Active     int64  `json:"active"`
	Rotating   bool   `json:"rotating"`
	Done       int64  `json:"done"`
	Total      int64  `json:"total"`
}
