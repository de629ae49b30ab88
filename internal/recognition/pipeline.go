package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/raster"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

// JobState is the scan job lifecycle. A job moves forward through the
// recognition states and ends in RECONCILED or FAILED.
type JobState string

const (
	StateReceived    JobState = "RECEIVED"
	StateCalibrating JobState = "CALIBRATING"
	StateSampling    JobState = "SAMPLING"
	StateDecoding    JobState = "DECODING"
	StateReconciled  JobState = "RECONCILED"
	StateFailed      JobState = "FAILED"
)

// Page outcome statuses.
const (
	PageOK         = "OK"
	PageUnreadable = "UNREADABLE"
)

// PageOutcome reports what happened to one page. Pages that failed
// calibration or metadata checks are UNREADABLE with the error kind; the
// job itself carries on, since partial results are legitimate.
type PageOutcome struct {
	Page      int     `json:"page"`
	Status    string  `json:"status"`
	ErrorKind string  `json:"errorKind,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
	Entries   int     `json:"entries,omitempty"`
	BlankRows int     `json:"blankRows,omitempty"`
}

// JobRecorder receives job state transitions, typically into the job
// document. Recording failures are logged, never fatal to the job.
type JobRecorder interface {
	RecordTransition(ctx context.Context, jobID string, state JobState, detail string) error
}

// Submission is one scan handed to the pipeline.
type Submission struct {
	JobID       string
	Kind        string
	Data        []byte
	SessionHint *SessionRef
}

// Result is the full outcome of one job.
type Result struct {
	JobID         string             `json:"jobId"`
	State         JobState           `json:"state"`
	Session       *SessionMetadata   `json:"session,omitempty"`
	Pages         []PageOutcome      `json:"pages,omitempty"`
	Records       []AttendanceRecord `json:"records,omitempty"`
	Unmatched     []UnmatchedEntry   `json:"unmatched,omitempty"`
	Totals        Tally              `json:"totals"`
	Partial       bool               `json:"partial,omitempty"`
	FailureKind   string             `json:"failureKind,omitempty"`
	FailureDetail string             `json:"failureDetail,omitempty"`
}

// SessionID returns the resolved session identifier, or "" before
// resolution.
func (r *Result) SessionID() string {
	if r.Session == nil {
		return ""
	}
	return r.Session.ID()
}

// UnreadablePages lists the page numbers that ended UNREADABLE.
func (r *Result) UnreadablePages() []int {
	var pages []int
	for _, p := range r.Pages {
		if p.Status == PageUnreadable {
			pages = append(pages, p.Page)
		}
	}
	return pages
}

// Pipeline runs scans end to end: load, calibrate, read metadata, sample,
// decide, reconcile. One Pipeline is safe for concurrent jobs; all mutable
// state is per invocation.
type Pipeline struct {
	schema sheet.Schema
	cfg    Config
	roster RosterLookup
	rec    JobRecorder
	log    *slog.Logger
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithRecorder wires job state transitions into rec.
func WithRecorder(rec JobRecorder) Option {
	return func(p *Pipeline) { p.rec = rec }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New builds a pipeline over a sheet schema, a tuning config and a roster
// source.
func New(schema sheet.Schema, cfg Config, roster RosterLookup, opts ...Option) *Pipeline {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	p := &Pipeline{schema: schema, cfg: cfg, roster: roster, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// pageState accumulates one page's intermediate products across the
// pipeline phases. Each page is owned by one goroutine at a time, so no
// locking is needed.
type pageState struct {
	page    int
	gray    *raster.Grayscale
	bm      *raster.Bitmap
	frame   *Frame
	meta    *SessionMetadata
	metaErr error
	cells   []Bubble
	entries []Entry
	blanks  int

	skip       bool
	failKind   string
	failDetail string
}

func (st *pageState) fail(kind string, err error) {
	st.skip = true
	st.failKind = kind
	st.failDetail = err.Error()
}

// Run opens the submitted document and processes it. The returned Result is
// never nil; on failure it carries the failure kind alongside the error.
func (p *Pipeline) Run(ctx context.Context, sub Submission) (*Result, error) {
	doc, err := Open(sub.Kind, sub.Data)
	if err != nil {
		res := &Result{JobID: sub.JobID}
		return p.fail(ctx, res, err)
	}
	defer doc.Close()
	return p.RunDocument(ctx, sub, doc)
}

// RunDocument processes an already opened document. Callers that sniffed or
// staged the document themselves (or hold a multi-page source) enter here;
// Run is a convenience over it.
func (p *Pipeline) RunDocument(ctx context.Context, sub Submission, doc Document) (*Result, error) {
	log := p.log.With("jobId", sub.JobID)
	res := &Result{JobID: sub.JobID, State: StateReceived}

	pageCount := doc.PageCount()
	states := make([]pageState, pageCount)
	log.Info("Processing scan job.", "pages", pageCount, "kind", sub.Kind)

	// Phase A: rasterize, calibrate and read the session code on every page
	// in parallel.
	p.transition(ctx, sub.JobID, StateCalibrating, "")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxWorkers)
	for i := range states {
		g.Go(func() error {
			return p.prepPage(gctx, doc, i+1, &states[i], log)
		})
	}
	if err := g.Wait(); err != nil {
		res.Pages = outcomes(states)
		return p.cancelled(ctx, res, err)
	}

	// A page printed from another layout generation is an operator error
	// affecting the whole batch, not a page defect.
	for i := range states {
		if errors.Is(states[i].metaErr, ErrUnsupportedSchemaVersion) {
			res.Pages = outcomes(states)
			return p.fail(ctx, res, states[i].metaErr)
		}
	}

	session, err := p.resolveSession(sub, states)
	if err != nil {
		res.Pages = outcomes(states)
		return p.fail(ctx, res, err)
	}
	res.Session = session
	log.Info("Session resolved.", "sessionId", session.ID())

	// Exactly one roster lookup per job, before any sampling.
	roster, err := p.roster.Roster(ctx, session.SessionRef)
	if err != nil {
		res.Pages = outcomes(states)
		return p.fail(ctx, res, fmt.Errorf("roster lookup: %w", err))
	}

	// Phase B: sample the grid on every page that survived phase A.
	p.transition(ctx, sub.JobID, StateSampling, "")
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxWorkers)
	for i := range states {
		if states[i].skip {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st := &states[i]
			st.cells = SampleGrid(st.bm, st.frame, p.schema, p.cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.Pages = outcomes(states)
		return p.cancelled(ctx, res, err)
	}

	p.transition(ctx, sub.JobID, StateDecoding, "")
	var entries []Entry
	for i := range states {
		if err := ctx.Err(); err != nil {
			res.Pages = outcomes(states)
			return p.cancelled(ctx, res, err)
		}
		st := &states[i]
		if st.skip {
			continue
		}
		st.entries, st.blanks = DecodeEntries(st.page, st.cells, p.schema, p.cfg)
		entries = append(entries, st.entries...)
	}

	records, unmatched, tally := Reconcile(session.SessionRef, roster, entries)
	res.Pages = outcomes(states)
	res.Records = records
	res.Unmatched = unmatched
	res.Totals = tally
	res.State = StateReconciled

	detail := fmt.Sprintf("present=%d absent=%d unresolved=%d duplicate=%d unmatched=%d",
		tally.Present, tally.Absent, tally.Unresolved, tally.Duplicate, tally.Unmatched)
	p.transition(ctx, sub.JobID, StateReconciled, detail)
	log.Info("Job reconciled.", "sessionId", session.ID(), "totals", detail)
	return res, nil
}

// prepPage runs phase A for one page. Page-level problems mark the page
// UNREADABLE and return nil; only cancellation propagates as an error.
func (p *Pipeline) prepPage(ctx context.Context, doc Document, n int, st *pageState, log *slog.Logger) error {
	st.page = n

	gray, err := doc.Page(ctx, n)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Page could not be rasterized.", "page", n, "error", err)
		st.fail(KindPageDecode, err)
		return nil
	}
	st.gray = gray
	st.bm = raster.Binarize(gray, p.cfg.WindowFrac, p.cfg.Sensitivity)

	frame, err := Calibrate(st.bm, p.schema, p.cfg)
	if err != nil {
		log.Warn("Page failed calibration.", "page", n, "error", err)
		st.fail(KindCalibration, err)
		return nil
	}
	st.frame = frame

	meta, err := ExtractMetadata(gray, frame, p.schema)
	st.meta, st.metaErr = meta, err
	st.gray = nil
	if err != nil {
		if !errors.Is(err, ErrUnsupportedSchemaVersion) {
			log.Warn("Page session code unreadable.", "page", n, "error", err)
			st.fail(KindMetadataUnreadable, err)
		}
		return nil
	}

	log.Debug("Page calibrated.",
		"page", n, "quality", frame.Quality, "inverted", frame.Inverted, "sessionId", meta.ID())
	return nil
}

// resolveSession fixes the job's session: the caller's declared hint wins,
// otherwise the first readable page in page order. Pages whose code
// disagrees are reported as mismatches and excluded from sampling, never
// auto-corrected.
func (p *Pipeline) resolveSession(sub Submission, states []pageState) (*SessionMetadata, error) {
	var session *SessionMetadata
	if sub.SessionHint != nil {
		session = &SessionMetadata{SessionRef: *sub.SessionHint}
	} else {
		for i := range states {
			if !states[i].skip && states[i].meta != nil {
				session = states[i].meta
				break
			}
		}
		if session == nil {
			return nil, fmt.Errorf("%w: no page yielded a readable session code", ErrMetadataUnreadable)
		}
	}

	for i := range states {
		st := &states[i]
		if st.skip || st.meta == nil {
			continue
		}
		if !st.meta.Equal(session.SessionRef) {
			err := fmt.Errorf("%w: page %d says %s, job session is %s",
				ErrMetadataMismatch, st.page, st.meta.ID(), session.ID())
			st.fail(KindMetadataMismatch, err)
		}
	}
	return session, nil
}

func outcomes(states []pageState) []PageOutcome {
	out := make([]PageOutcome, len(states))
	for i := range states {
		st := &states[i]
		po := PageOutcome{Page: st.page, Status: PageOK}
		if po.Page == 0 {
			po.Page = i + 1
		}
		if st.frame != nil {
			po.Quality = st.frame.Quality
		}
		if st.skip {
			po.Status = PageUnreadable
			po.ErrorKind = st.failKind
			po.Detail = st.failDetail
		} else {
			po.Entries = len(st.entries)
			po.BlankRows = st.blanks
		}
		out[i] = po
	}
	return out
}

// fail finalizes a job-level failure: terminal state, kind and transition.
func (p *Pipeline) fail(ctx context.Context, res *Result, err error) (*Result, error) {
	res.State = StateFailed
	res.FailureKind = FailureKind(err)
	res.FailureDetail = err.Error()
	p.transition(ctx, res.JobID, StateFailed, res.FailureKind+": "+res.FailureDetail)
	p.log.Error("Scan job failed.", "jobId", res.JobID, "kind", res.FailureKind, "error", err)
	return res, err
}

// cancelled finalizes an aborted job. The partial flag tells consumers the
// page outcomes reflect wherever work had gotten to.
func (p *Pipeline) cancelled(ctx context.Context, res *Result, err error) (*Result, error) {
	res.Partial = true
	return p.fail(ctx, res, err)
}

// transition records a state change, outliving ctx so terminal states still
// land when a job was cancelled.
func (p *Pipeline) transition(ctx context.Context, jobID string, state JobState, detail string) {
	if p.rec == nil {
		return
	}
	if err := p.rec.RecordTransition(context.WithoutCancel(ctx), jobID, state, detail); err != nil {
		p.log.Error("CRITICAL: failed to record job state transition.",
			"jobId", jobID, "state", string(state), "error", err)
	}
}
