// Package rotation migrates encrypted rows from one key label to another.
//
// A rotation moves through three states. It starts when Begin creates the
// target key. Run is then invoked as many times as needed; each invocation
// rescans rows still under the source label (or no label) and relabels the
// ones it could decrypt, committing once per batch. Finalize makes the target
// the write label. Abandoning a rotation is simply never calling Finalize:
// writes keep targeting the unchanged write label and migrated rows stay
// readable under their new label.
package rotation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/crypto/aead"
	"github.com/remind101/fieldcrypt/cryptostate"
	"github.com/remind101/fieldcrypt/fieldcodec"
	"github.com/remind101/fieldcrypt/keyregistry"
	"github.com/remind101/fieldcrypt/logger"
	"github.com/remind101/fieldcrypt/metrics"
)

const (
	DefaultBatchSize       = 500
	DefaultFailSampleLimit = 20

	// LabelPrefix prefixes generated target labels.
	LabelPrefix = "rotating::"
)

// RowStore is the storage the engine scans and rewrites.
type RowStore interface {
	// ScanBatch returns up to limit rows with an ID above afterID, ordered by
	// ID, that carry encrypted data and are labelled source or unlabelled.
	ScanBatch(ctx context.Context, source string, afterID int64, limit int) ([]fieldcodec.Row, error)
	// ApplyBatch rewrites the label and fields of every row atomically.
	ApplyBatch(ctx context.Context, rows []fieldcodec.Row) error
	CountLabel(ctx context.Context, label string) (int64, error)
	// CountPending counts the rows ScanBatch would return from the start.
	CountPending(ctx context.Context, source string) (int64, error)
	CountEncrypted(ctx context.Context) (int64, error)
}

type Options struct {
	State  *cryptostate.Context
	Codec  *fieldcodec.Codec
	Rows   RowStore
	Fields []string
	RunLog RunLog

	BatchSize       int
	FailSampleLimit int
	ETA             ETAThresholds

	// Now defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	state  *cryptostate.Context
	codec  *fieldcodec.Codec
	rows   RowStore
	fields []*fieldcodec.Field
	runLog RunLog

	batchSize       int
	failSampleLimit int
	eta             ETAThresholds
	now             func() time.Time
}

func New(opts Options) *Engine {
	e := &Engine{
		state:           opts.State,
		codec:           opts.Codec,
		rows:            opts.Rows,
		runLog:          opts.RunLog,
		batchSize:       opts.BatchSize,
		failSampleLimit: opts.FailSampleLimit,
		eta:             opts.ETA,
		now:             opts.Now,
	}
	for _, name := range opts.Fields {
		e.fields = append(e.fields, opts.Codec.Field(name))
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	if e.failSampleLimit <= 0 {
		e.failSampleLimit = DefaultFailSampleLimit
	}
	if e.runLog == nil {
		e.runLog = NewMemoryRunLog()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Begin creates the target key of a new rotation. An empty label generates
// one from the current time.
func (e *Engine) Begin(ctx context.Context, label string) (*keyregistry.KeyRecord, error) {
	if label == "" {
		label = LabelPrefix + strconv.FormatInt(e.now().Unix(), 10)
	}
	r, err := e.state.CreateKey(ctx, label)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "rotation begun", "target", label, "write_label", e.state.WriteLabel())
	return r, nil
}

// Request parameterizes a Run.
type Request struct {
	// Source defaults to the current write label.
	Source string `json:"source"`
	Target string `json:"target"`
	// BatchSize defaults to the engine's batch size.
	BatchSize int  `json:"batch_size"`
	DryRun    bool `json:"dry_run"`
	// MaxBatches stops the run after that many batches. Zero means until
	// no pending rows are left.
	MaxBatches int `json:"max_batches"`
}

// Run rotates pending rows from req.Source to req.Target.
//
// Decryption failures are counted and sampled and leave the row under its
// old label. Failures to resolve either key abort the run before any row is
// touched. A cancelled context stops the run between batches; the returned
// Result covers the committed batches.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Source == "" {
		req.Source = e.state.WriteLabel()
	}
	if req.Target == "" {
		return nil, requestErrorf("target label is required")
	}
	if req.Source == req.Target {
		return nil, requestErrorf("source and target are both %q", req.Target)
	}
	if req.BatchSize <= 0 {
		req.BatchSize = e.batchSize
	}

	r := &run{
		Engine: e,
		req:    req,
		result: &Result{
			RunID:           uuid.New(),
			Source:          req.Source,
			Target:          req.Target,
			DryRun:          req.DryRun,
			FailuresByField: make(map[string]int64),
			Samples:         []Sample{},
		},
		readers: make(map[string]*fieldcodec.Reader),
		tags: map[string]string{
			"source":  req.Source,
			"target":  req.Target,
			"dry_run": strconv.FormatBool(req.DryRun),
		},
	}
	ctx = logger.WithLogger(ctx, logger.FromContextOrDefault(ctx).With("run_id", r.result.RunID, "source", req.Source, "target", req.Target, "dry_run", req.DryRun))

	if err := r.resolve(ctx); err != nil {
		return nil, err
	}
	if err := r.loop(ctx); err != nil {
		return r.result, err
	}
	if r.result.Interrupted {
		// Still report progress for the committed batches.
		ctx = context.WithoutCancel(ctx)
	}
	if err := r.finish(ctx); err != nil {
		return r.result, err
	}
	return r.result, nil
}

type run struct {
	*Engine
	req     Request
	result  *Result
	writer  *fieldcodec.Writer
	readers map[string]*fieldcodec.Reader
	tags    map[string]string

	latencies []time.Duration
	started   time.Time
}

// resolve makes sure both keys can be unwrapped right now rather than
// trusting the cache. A failure leaves the cache as it was, so live traffic
// keeps its DEKs.
func (r *run) resolve(ctx context.Context) error {
	if _, err := r.state.Refresh(ctx, r.codec.KeyLabel(r.req.Source)); err != nil {
		return errors.Wrapf(err, "resolving source %q", r.req.Source)
	}
	if _, err := r.state.Refresh(ctx, r.req.Target); err != nil {
		return errors.Wrapf(err, "resolving target %q", r.req.Target)
	}

	if _, err := r.reader(ctx, r.req.Source); err != nil {
		return errors.Wrapf(err, "resolving source %q", r.req.Source)
	}
	w, err := r.codec.WriterFor(ctx, r.req.Target)
	if err != nil {
		return errors.Wrapf(err, "resolving target %q", r.req.Target)
	}
	r.writer = w
	return nil
}

func (r *run) reader(ctx context.Context, label string) (*fieldcodec.Reader, error) {
	if rd, ok := r.readers[label]; ok {
		return rd, nil
	}
	rd, err := r.codec.Reader(ctx, label)
	if err != nil {
		return nil, err
	}
	r.readers[label] = rd
	return rd, nil
}

func (r *run) loop(ctx context.Context) error {
	r.started = r.now()

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			r.result.Interrupted = true
			logger.Warn(ctx, "rotation interrupted", "batches", r.result.Batches)
			return nil
		}
		if r.req.MaxBatches > 0 && r.result.Batches >= r.req.MaxBatches {
			return nil
		}

		rows, err := r.rows.ScanBatch(ctx, r.req.Source, afterID, r.req.BatchSize)
		if err != nil {
			return errors.Wrap(err, "scanning batch")
		}
		if len(rows) == 0 {
			return nil
		}

		if err := r.batch(ctx, rows); err != nil {
			return err
		}
		afterID = rows[len(rows)-1].ID
	}
}

func (r *run) batch(ctx context.Context, rows []fieldcodec.Row) error {
	start := r.now()

	var (
		updates   []fieldcodec.Row
		processed int64
		okBefore  = r.result.DecryptOK
	)
	for _, row := range rows {
		migrated, ok, err := r.row(ctx, row)
		if err != nil {
			return err
		}
		if !ok {
			r.result.Skipped++
			continue
		}
		processed++
		if !r.req.DryRun {
			updates = append(updates, migrated)
		}
	}

	if len(updates) > 0 {
		if err := r.rows.ApplyBatch(ctx, updates); err != nil {
			return errors.Wrap(err, "committing batch")
		}
	}

	latency := r.now().Sub(start)
	r.latencies = append(r.latencies, latency)
	r.result.Batches++
	r.result.Scanned += int64(len(rows))
	r.result.Processed += processed

	metrics.Count("fieldcrypt.rotation.scanned_total", int64(len(rows)), r.tags, 1.0)
	metrics.Count("fieldcrypt.rotation.processed_total", processed, r.tags, 1.0)
	metrics.Count("fieldcrypt.rotation.decrypt_ok_total", r.result.DecryptOK-okBefore, r.tags, 1.0)
	metrics.Gauge("fieldcrypt.rotation.last_batch_size", float64(len(rows)), r.tags, 1.0)
	metrics.Histogram("fieldcrypt.rotation.batch_latency_seconds", latency.Seconds(), r.tags, 1.0)

	logger.Info(ctx, "rotation batch",
		"batch", r.result.Batches,
		"rows", len(rows),
		"processed", processed,
		"latency", latency,
	)
	return nil
}

// row decrypts every field of row. ok is false when any field failed; the
// row then keeps its label so all of its fields stay under one key.
func (r *run) row(ctx context.Context, row fieldcodec.Row) (migrated fieldcodec.Row, ok bool, err error) {
	rd, err := r.reader(ctx, row.Label)
	if err != nil {
		if !errors.Is(err, keyregistry.ErrKeyNotFound) {
			return migrated, false, errors.Wrapf(err, "resolving label %q", r.codec.KeyLabel(row.Label))
		}
		// Every field of the row is unreadable.
		for _, f := range r.fields {
			if p := row.Fields[f.Name()]; !p.IsZero() {
				r.fail(row.ID, f.Name(), p, err)
			}
		}
		return migrated, false, nil
	}

	plain := make(map[string]*string, len(r.fields))
	ok = true
	for _, f := range r.fields {
		p := row.Fields[f.Name()]
		if p.IsZero() {
			continue
		}
		pt, err := rd.Open(f, p)
		if err != nil {
			r.fail(row.ID, f.Name(), p, err)
			ok = false
			continue
		}
		r.result.DecryptOK++
		plain[f.Name()] = pt
	}
	if !ok || r.req.DryRun {
		return migrated, ok, nil
	}

	migrated = fieldcodec.Row{ID: row.ID, Label: r.writer.Label(), Fields: make(map[string]fieldcodec.Payload, len(plain))}
	for _, f := range r.fields {
		pt, found := plain[f.Name()]
		if !found {
			continue
		}
		p, err := r.writer.Seal(f, pt)
		if err != nil {
			return migrated, false, errors.Wrapf(err, "row %d", row.ID)
		}
		migrated.Fields[f.Name()] = p
	}
	return migrated, true, nil
}

func (r *run) fail(rowID int64, field string, p fieldcodec.Payload, err error) {
	r.result.DecryptFail++
	r.result.FailuresByField[field]++

	tags := map[string]string{"field": field}
	for k, v := range r.tags {
		tags[k] = v
	}
	metrics.Count("fieldcrypt.rotation.decrypt_fail_total", 1, tags, 1.0)

	if len(r.result.Samples) < r.failSampleLimit {
		r.result.Samples = append(r.result.Samples, Sample{
			RowID:         rowID,
			Field:         field,
			CiphertextLen: len(p.Ciphertext),
			NonceLen:      len(p.Nonce),
			Kind:          failureKind(err),
		})
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, aead.ErrDecryptionFailure):
		return KindDecryptionFailure
	case errors.Is(err, fieldcodec.ErrInvalidPayload):
		return KindInvalidPayload
	case errors.Is(err, keyregistry.ErrKeyNotFound):
		return KindKeyNotFound
	default:
		return KindError
	}
}

func (r *run) finish(ctx context.Context) error {
	res := r.result
	res.Latency = summarize(r.latencies)

	elapsed := r.now().Sub(r.started)
	res.ElapsedSecs = elapsed.Seconds()
	if elapsed > 0 {
		res.RowsPerSecond = float64(res.Scanned) / elapsed.Seconds()
	}

	remaining, err := r.rows.CountPending(ctx, r.req.Source)
	if err != nil {
		return err
	}
	if r.req.DryRun {
		// Nothing moved; what would remain is what failed.
		remaining -= res.Processed
		if remaining < 0 {
			remaining = 0
		}
	}
	res.Remaining = remaining
	metrics.Gauge("fieldcrypt.rotation.remaining_estimate", float64(remaining), r.tags, 1.0)

	eta := estimate(remaining, res.RowsPerSecond)
	res.ETASeconds = eta.Seconds()

	if !r.req.DryRun {
		prev, err := r.runLog.Last(ctx, r.req.Source, r.req.Target)
		if err != nil {
			return err
		}
		if prev != nil {
			p := prev.ETA.Seconds()
			res.PrevETASecs = &p
			if w := r.eta.regression(prev.ETA, eta); w != "" {
				res.ETAWarning = w
				logger.Warn(ctx, "rotation eta regression", "warning", w)
			}
		}
		if err := r.runLog.Record(ctx, Run{
			ID:         res.RunID,
			Source:     r.req.Source,
			Target:     r.req.Target,
			FinishedAt: r.now(),
			ETA:        eta,
		}); err != nil {
			return err
		}
	}

	logger.Info(ctx, "rotation run finished",
		"scanned", res.Scanned,
		"processed", res.Processed,
		"skipped", res.Skipped,
		"decrypt_ok", res.DecryptOK,
		"decrypt_fail", res.DecryptFail,
		"remaining", res.Remaining,
		"eta", eta,
	)
	return nil
}

// Finalize makes target the write label. It refuses when target already is
// the write label or when no row carries target yet.
func (e *Engine) Finalize(ctx context.Context, target string) (*FinalizeResult, error) {
	if target == "" {
		return nil, requestErrorf("target label is required")
	}
	prev := e.state.WriteLabel()
	if target == prev {
		return nil, &FinalizeRefusedError{Target: target, Reason: "is already the write label"}
	}

	n, err := e.rows.CountLabel(ctx, target)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &FinalizeRefusedError{Target: target, Reason: "labels no rows"}
	}

	if err := e.state.SetWriteLabel(ctx, target); err != nil {
		return nil, errors.Wrap(err, "setting write label")
	}

	pending, err := e.rows.CountPending(ctx, prev)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		logger.Warn(ctx, "finalized with rows pending", "previous", prev, "pending", pending)
	}
	metrics.Count("fieldcrypt.rotation.finalized_total", 1, map[string]string{"target": target}, 1.0)

	return &FinalizeResult{Previous: prev, WriteLabel: target, Rows: n, Pending: pending}, nil
}

// Status reports progress towards target. An empty target only reports the
// rows pending under the write label.
func (e *Engine) Status(ctx context.Context, target string) (*Status, error) {
	s := &Status{WriteLabel: e.state.WriteLabel(), Target: target}

	var err error
	if s.Active, err = e.rows.CountPending(ctx, s.WriteLabel); err != nil {
		return nil, err
	}
	if s.Total, err = e.rows.CountEncrypted(ctx); err != nil {
		return nil, err
	}
	if target != "" {
		if s.Done, err = e.rows.CountLabel(ctx, target); err != nil {
			return nil, err
		}
		s.Rotating = target != s.WriteLabel
	}
	return s, nil
}

func (s *Status) String() string {
	return fmt.Sprintf("write_label=%s target=%s active=%d done=%d total=%d rotating=%t",
		s.WriteLabel, s.Target, s.Active, s.Done, s.Total, s.Rotating)
}
