// Package voiceflow implements the HTTP client for the transcript API.
package voiceflow

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	apitypes "github.com/propwise/chatsync/pkg/apis/voiceflow"
)

const DefaultBaseURL = "https://api.voiceflow.com"

// Client talks to the transcript listing/fetch endpoints. Safe for use from
// multiple goroutines.
type Client struct {
	rest      *resty.Client
	projectID string
}

// ListOptions narrows a transcript listing request.
type ListOptions struct {
	Offset int
	Limit  int
	// Since, when non-zero, asks only for transcripts updated at or after
	// this time (the incremental sync lower bound).
	Since time.Time
	// Tag optionally filters to transcripts carrying a report tag, used to
	// scope a project to one environment.
	Tag string
}

func NewClient(baseURL, apiKey, projectID string) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", apiKey).
		SetHeader("Accept", "application/json").
		SetTimeout(2 * time.Minute)

	return &Client{
		rest:      rest,
		projectID: projectID,
	}
}

// ListTranscripts fetches one page of transcript summaries.
func (c *Client) ListTranscripts(ctx context.Context, opts ListOptions) ([]apitypes.TranscriptSummary, error) {
	summaries := []apitypes.TranscriptSummary{}

	req := c.rest.R().
		SetContext(ctx).
		SetQueryParam("offset", strconv.Itoa(opts.Offset)).
		SetQueryParam("limit", strconv.Itoa(opts.Limit)).
		SetResult(&summaries)
	if !opts.Since.IsZero() {
		req.SetQueryParam("startDate", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Tag != "" {
		req.SetQueryParam("tag", opts.Tag)
	}

	resp, err := req.Get(fmt.Sprintf("/v2/transcripts/%s", c.projectID))
	if err != nil {
		return nil, errors.Wrap(err, "error listing transcripts")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("transcript listing returned status %d", resp.StatusCode())
	}

	log.WithFields(log.Fields{
		"offset": opts.Offset,
		"count":  len(summaries),
	}).Debug("fetched transcript summary page")
	return summaries, nil
}

// GetTranscript fetches the full body (the ordered raw log) for one transcript.
func (c *Client) GetTranscript(ctx context.Context, transcriptID string) ([]apitypes.LogEntry, error) {
	logs := []apitypes.LogEntry{}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&logs).
		Get(fmt.Sprintf("/v2/transcripts/%s/%s", c.projectID, transcriptID))
	if err != nil {
		return nil, errors.Wrapf(err, "error fetching transcript %s", transcriptID)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("transcript %s fetch returned status %d", transcriptID, resp.StatusCode())
	}

	return logs, nil
}
