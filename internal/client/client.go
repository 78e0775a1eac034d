// Package client is a demo polling worker: it pulls jobs from relay's HTTP
// surface and executes them locally. Unlike the source repo's in-process
// dispatch, the core never pushes work to a remote worker — delivery to
// remote workers is explicitly out of scope for the broker itself, so
// every worker is a puller like this one.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Executor runs one job's payload and reports success or failure.
type Executor func(ctx context.Context, payload []byte) error

// Poller repeatedly pulls jobs from one queue and executes them.
type Poller struct {
	BaseURL      string
	Queue        string
	PollInterval time.Duration
	Execute      Executor
	Log          *slog.Logger

	httpClient *http.Client
}

// jobDTO mirrors httpapi's job response shape.
type jobDTO struct {
	ID      string `json:"id"`
	Queue   string `json:"queue"`
	Payload string `json:"payload"`
}

// Run polls until ctx is cancelled. Each iteration pulls at most one job;
// callers wanting concurrency should run multiple Poller instances.
func (p *Poller) Run(ctx context.Context) error {
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}

	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job, ok, err := p.poll(ctx)
			if err != nil {
				log.Warn("poll failed", "queue", p.Queue, "err", err)
				continue
			}
			if !ok {
				continue
			}
			p.handle(ctx, log, job)
		}
	}
}

func (p *Poller) poll(ctx context.Context) (jobDTO, bool, error) {
	url := fmt.Sprintf("%s/queues/%s/next", p.BaseURL, p.Queue)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return jobDTO{}, false, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return jobDTO{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return jobDTO{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return jobDTO{}, false, fmt.Errorf("next: unexpected status %d", resp.StatusCode)
	}

	var job jobDTO
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return jobDTO{}, false, err
	}
	return job, true, nil
}

func (p *Poller) handle(ctx context.Context, log *slog.Logger, job jobDTO) {
	// httpapi base64-encodes the payload into the JSON response; decode it
	// back to the caller's original bytes rather than handing Execute the
	// base64 text itself.
	payload, err := base64.StdEncoding.DecodeString(job.Payload)
	if err != nil {
		log.Warn("payload decode failed, leaving for reaper", "queue", p.Queue, "id", job.ID, "err", err)
		return
	}

	if err := p.Execute(ctx, payload); err != nil {
		// Leave the job in-flight: the broker's reaper will retry or
		// terminate it on its next pass. Workers must be idempotent
		// for exactly this reason.
		log.Warn("job execution failed, leaving for reaper", "queue", p.Queue, "id", job.ID, "err", err)
		return
	}

	if err := p.complete(ctx, job.ID); err != nil {
		log.Warn("complete failed", "queue", p.Queue, "id", job.ID, "err", err)
	}
}

func (p *Poller) complete(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/queues/%s/jobs/%s/complete", p.BaseURL, p.Queue, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("complete: unexpected status %d", resp.StatusCode)
	}
	return nil
}
