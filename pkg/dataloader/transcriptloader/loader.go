// Package transcriptloader drives one sync pass: it determines the
// incremental window, paginates the remote transcript listing, fetches full
// transcript bodies with bounded concurrency, and ingests each transcript
// atomically.
package transcriptloader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"

	apitypes "github.com/propwise/chatsync/pkg/apis/voiceflow"
	"github.com/propwise/chatsync/pkg/db"
	"github.com/propwise/chatsync/pkg/sessionstate"
	"github.com/propwise/chatsync/pkg/voiceflow"
)

const (
	defaultPageSize = 100
	// maxPages caps listing pagination as a defense against a remote API
	// that never returns a short page.
	defaultMaxPages = 500

	defaultFetchConcurrency = 10
	// Ingestion holds a transactional connection per worker, so it runs
	// narrower than the fetch stage.
	defaultIngestConcurrency = 4
)

var transcriptsSyncedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chatsync_transcripts_synced",
	Help: "The number of transcripts synced in the last pass",
})

// transcriptAPI is the slice of the remote API this loader consumes.
type transcriptAPI interface {
	ListTranscripts(ctx context.Context, opts voiceflow.ListOptions) ([]apitypes.TranscriptSummary, error)
	GetTranscript(ctx context.Context, id string) ([]apitypes.LogEntry, error)
}

// Options tunes one sync pass.
type Options struct {
	// Force ignores the stored watermark and runs a full sync.
	Force bool
	// Tag optionally scopes the listing to one environment's report tag.
	Tag string

	PageSize          int
	MaxPages          int
	FetchConcurrency  int
	IngestConcurrency int
}

// SyncResult aggregates one pass across the fetch and ingest stages.
type SyncResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

type TranscriptLoader struct {
	ctx           context.Context
	dbc           *db.DB
	client        transcriptAPI
	reconstructor *sessionstate.Reconstructor
	opts          Options
	promPusher    *push.Pusher

	passID string
	now    func() time.Time

	errors   []error
	warnings []string
	synced   atomic.Int32
	failed   atomic.Int32
}

func New(ctx context.Context, dbc *db.DB, client transcriptAPI, aliases map[string]string, opts Options, promPusher *push.Pusher) *TranscriptLoader {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = defaultFetchConcurrency
	}
	if opts.IngestConcurrency <= 0 {
		opts.IngestConcurrency = defaultIngestConcurrency
	}

	return &TranscriptLoader{
		ctx:           ctx,
		dbc:           dbc,
		client:        client,
		reconstructor: sessionstate.NewReconstructor(aliases),
		opts:          opts,
		promPusher:    promPusher,
		passID:        uuid.New().String(),
		now:           time.Now,
	}
}

func (l *TranscriptLoader) Name() string {
	return "transcripts"
}

func (l *TranscriptLoader) Errors() []error {
	return l.errors
}

func (l *TranscriptLoader) Load() {
	result := l.Sync()
	log.WithFields(log.Fields{
		"pass":   l.passID,
		"synced": result.Synced,
		"failed": result.Failed,
	}).Info("transcript sync pass complete")

	transcriptsSyncedGauge.Set(float64(result.Synced))
	if l.promPusher != nil {
		l.promPusher.Collector(transcriptsSyncedGauge)
	}
}

// Sync runs one full pass and returns the aggregated result. Per-transcript
// failures are recorded and do not abort the batch.
func (l *TranscriptLoader) Sync() SyncResult {
	start := time.Now()
	logger := log.WithField("pass", l.passID)

	// The watermark is computed once here and threaded down as a value;
	// nothing re-reads or mutates it mid-pass.
	since := l.syncWindow()
	if since.IsZero() {
		logger.Info("no sync watermark, running full sync")
	} else {
		logger.WithField("since", since).Info("running incremental sync")
	}

	summaries := l.listAll(since)
	logger.Infof("listed %d transcript summaries", len(summaries))

	fetched := l.fetchBodies(summaries)
	l.ingestAll(fetched)

	logger.WithField("elapsed", time.Since(start)).Info("sync pass finished")
	return l.result()
}

// syncWindow returns the incremental lower bound: the most recent updated_at
// across already-ingested transcripts. Zero means full sync. Failed
// transcripts never advance the watermark, so they are naturally revisited
// on the next pass.
func (l *TranscriptLoader) syncWindow() time.Time {
	if l.opts.Force {
		return time.Time{}
	}

	var watermark time.Time
	row := l.dbc.DB.Table("transcripts").Select("MAX(updated_at)").Row()
	// Ignoring error, zero time means full sync (new db).
	_ = row.Scan(&watermark)
	return watermark
}

func (l *TranscriptLoader) listAll(since time.Time) []apitypes.TranscriptSummary {
	var summaries []apitypes.TranscriptSummary

	for page := 0; page < l.opts.MaxPages; page++ {
		batch, err := l.client.ListTranscripts(l.ctx, voiceflow.ListOptions{
			Offset: page * l.opts.PageSize,
			Limit:  l.opts.PageSize,
			Since:  since,
			Tag:    l.opts.Tag,
		})
		if err != nil {
			l.errors = append(l.errors, errors.Wrapf(err, "error listing transcripts at page %d", page))
			break
		}

		summaries = append(summaries, batch...)
		if len(batch) < l.opts.PageSize {
			break
		}
	}

	return summaries
}

type fetchedTranscript struct {
	summary apitypes.TranscriptSummary
	logs    []apitypes.LogEntry
}

// fetchBodies pulls the full raw log for every summary with a bounded worker
// pool. Individual fetch failures are recorded per id and do not abort the
// batch.
func (l *TranscriptLoader) fetchBodies(summaries []apitypes.TranscriptSummary) []fetchedTranscript {
	queue := make(chan apitypes.TranscriptSummary)
	results := make(chan fetchedTranscript, len(summaries))
	errsCh := make(chan error, len(summaries))

	go func() {
		defer close(queue)
		for _, summary := range summaries {
			if summary.ExternalID() == "" {
				log.Warn("skipping transcript summary with no id or session id")
				continue
			}
			select {
			case queue <- summary:
			case <-l.ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < l.opts.FetchConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for summary := range queue {
				logs, err := l.client.GetTranscript(l.ctx, summary.ExternalID())
				if err != nil {
					l.failed.Add(1)
					errsCh <- errors.Wrapf(err, "error fetching transcript %s", summary.ExternalID())
					continue
				}
				results <- fetchedTranscript{summary: summary, logs: logs}
			}
		}()
	}

	wg.Wait()
	close(results)
	close(errsCh)

	for err := range errsCh {
		l.errors = append(l.errors, err)
	}

	fetched := make([]fetchedTranscript, 0, len(summaries))
	for item := range results {
		fetched = append(fetched, item)
	}
	return fetched
}

// ingestAll runs the ingestion engine over every fetched transcript with a
// second bounded pool. Each transcript commits or rolls back on its own.
func (l *TranscriptLoader) ingestAll(fetched []fetchedTranscript) {
	queue := make(chan fetchedTranscript)
	errsCh := make(chan error, len(fetched))
	warningsCh := make(chan string, len(fetched)*4)

	go func() {
		defer close(queue)
		for _, item := range fetched {
			select {
			case queue <- item:
			case <-l.ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < l.opts.IngestConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				result, err := l.ingestTranscript(item)
				if err != nil {
					l.failed.Add(1)
					errsCh <- errors.Wrapf(err, "error ingesting transcript %s", item.summary.ExternalID())
					continue
				}
				l.synced.Add(1)
				for _, warning := range result.Warnings {
					warningsCh <- warning
				}
				log.WithFields(log.Fields{
					"pass":       l.passID,
					"transcript": item.summary.ExternalID(),
					"turns":      result.Turns,
					"events":     result.Events,
				}).Debug("transcript ingested")
			}
		}()
	}

	wg.Wait()
	close(errsCh)
	close(warningsCh)

	for err := range errsCh {
		l.errors = append(l.errors, err)
	}
	for warning := range warningsCh {
		l.warnings = append(l.warnings, warning)
	}
}

func (l *TranscriptLoader) result() SyncResult {
	result := SyncResult{
		Synced: int(l.synced.Load()),
		Failed: int(l.failed.Load()),
	}
	for _, err := range l.errors {
		result.Errors = append(result.Errors, err.Error())
	}
	// Business-rule violations ride along as errors but don't count as
	// failures: the rows were stored.
	result.Errors = append(result.Errors, l.warnings...)
	return result
}
