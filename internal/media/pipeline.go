package media

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lokeshkhabiya/round0/internal/metrics"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/storage"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

var (
	ErrQueueFull = errors.New("upload queue full")
	ErrStopped   = errors.New("upload pipeline stopped")
)

type Blob struct {
	Data        []byte
	ContentType string
}

// UploadHandle tracks one enqueued upload. Err is only meaningful after Done is closed.
type UploadHandle struct {
	ID      string
	RoundID string

	done     chan struct{}
	err      error
	path     string
	attempts int
}

func (h *UploadHandle) Done() <-chan struct{} { return h.done }
func (h *UploadHandle) Err() error            { <-h.done; return h.err }
func (h *UploadHandle) Path() string          { <-h.done; return h.path }
func (h *UploadHandle) Attempts() int         { <-h.done; return h.attempts }

// Warning reports an upload that was given up on. It never aborts a round.
type Warning struct {
	RoundID  string
	HandleID string
	Attempts int
	Err      error
}

type WarningFunc func(Warning)

type RecordingStore interface {
	Insert(ctx context.Context, rec *models.Recording) error
}

type Options struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 2 * time.Minute
	}
}

type job struct {
	handle *UploadHandle
	blob   Blob
}

// Pipeline uploads round recordings out of band from round progression.
type Pipeline struct {
	uploader   storage.Uploader
	recordings RecordingStore
	opts       Options
	log        *logrus.Logger

	queue chan job
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	warnFns []WarningFunc
}

func NewPipeline(uploader storage.Uploader, recordings RecordingStore, log *logrus.Logger, opts Options) *Pipeline {
	opts.withDefaults()
	if log == nil {
		log = logrus.New()
	}
	return &Pipeline{
		uploader:   uploader,
		recordings: recordings,
		opts:       opts,
		log:        log,
		queue:      make(chan job, opts.QueueSize),
	}
}

// OnWarning registers a callback for uploads that failed for good.
func (p *Pipeline) OnWarning(fn WarningFunc) {
	p.mu.Lock()
	p.warnFns = append(p.warnFns, fn)
	p.mu.Unlock()
}

func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	wctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.queue {
				p.process(wctx, j)
			}
		}()
	}
}

// Stop rejects new uploads, lets queued ones finish, and waits for the workers.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		for j := range p.queue {
			p.fail(j.handle, 0, ErrStopped)
		}
		return
	}
	p.wg.Wait()
	p.cancel()
}

// EnqueueUpload never blocks. When the upload cannot even be queued the returned
// handle is already done with an UPLOAD_FAILURE error and a warning is emitted.
func (p *Pipeline) EnqueueUpload(roundID string, blob Blob) *UploadHandle {
	h := &UploadHandle{ID: uuid.NewString(), RoundID: roundID, done: make(chan struct{})}

	if len(blob.Data) == 0 {
		p.fail(h, 0, errors.New("empty recording"))
		return h
	}
	if blob.ContentType == "" {
		blob.ContentType = "application/octet-stream"
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.fail(h, 0, ErrStopped)
		return h
	}
	select {
	case p.queue <- job{handle: h, blob: blob}:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		metrics.RecordUpload("dropped")
		p.fail(h, 0, ErrQueueFull)
	}
	return h
}

// AwaitCompletion waits for the upload or ctx, whichever comes first.
func (p *Pipeline) AwaitCompletion(ctx context.Context, h *UploadHandle) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) process(ctx context.Context, j job) {
	h := j.handle
	log := p.log.WithFields(logrus.Fields{
		"round_id":  h.RoundID,
		"upload_id": h.ID,
		"bytes":     len(j.blob.Data),
	})
	objectName := storage.RecordingObjectName(h.RoundID, h.ID, j.blob.ContentType)

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		metrics.RecordUploadAttempt()

		actx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
		path, err := p.uploader.Upload(actx, objectName, j.blob.ContentType, bytes.NewReader(j.blob.Data))
		cancel()
		if err == nil {
			p.persist(ctx, log, h, path, j.blob, attempt)
			h.path = path
			h.attempts = attempt
			metrics.RecordUpload("success")
			close(h.done)
			return
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("recording upload attempt failed")

		if attempt == p.opts.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.backoff(attempt)):
		case <-ctx.Done():
			p.fail(h, attempt, ctx.Err())
			return
		}
	}
	p.fail(h, p.opts.MaxAttempts, lastErr)
}

func (p *Pipeline) persist(ctx context.Context, log *logrus.Entry, h *UploadHandle, path string, blob Blob, attempts int) {
	if p.recordings == nil {
		return
	}
	rec := &models.Recording{
		ID:          h.ID,
		RoundID:     h.RoundID,
		ObjectPath:  path,
		ContentType: blob.ContentType,
		SizeBytes:   int64(len(blob.Data)),
		Attempts:    attempts,
		UploadedAt:  time.Now().UTC(),
	}
	if err := p.recordings.Insert(ctx, rec); err != nil {
		// the object exists; only the index row is missing
		log.WithError(err).Error("failed to persist recording metadata")
	}
}

// backoff doubles per attempt: base, 2*base, 4*base ... capped at MaxBackoff.
func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.opts.BaseBackoff << (attempt - 1)
	if d <= 0 || d > p.opts.MaxBackoff {
		return p.opts.MaxBackoff
	}
	return d
}

func (p *Pipeline) fail(h *UploadHandle, attempts int, cause error) {
	const op = "MediaPipeline.Upload"

	h.err = utils.E(utils.CodeUploadFailure, op, "recording upload failed", cause)
	h.attempts = attempts
	if !errors.Is(cause, ErrQueueFull) {
		metrics.RecordUpload("failure")
	}

	p.log.WithFields(logrus.Fields{
		"round_id":  h.RoundID,
		"upload_id": h.ID,
		"attempts":  attempts,
	}).WithError(cause).Warn("recording upload given up")

	// warnings are delivered before the handle completes so that a waiter
	// observing Err() also observes the recorded warning
	p.mu.Lock()
	fns := append([]WarningFunc(nil), p.warnFns...)
	p.mu.Unlock()
	w := Warning{RoundID: h.RoundID, HandleID: h.ID, Attempts: attempts, Err: h.err}
	for _, fn := range fns {
		fn(w)
	}
	close(h.done)
}
