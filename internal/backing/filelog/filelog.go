// Package filelog is a concrete Backing over an append-only, checksummed
// log file with batched async fsync — the file-based alternative to
// sqlstore for a durable tier with no external database dependency.
package filelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/relay/internal/backing"
	"github.com/ChuLiYu/relay/pkg/types"
)

type recordType string

const (
	recordPush   recordType = "push"
	recordUpdate recordType = "update"
	recordRemove recordType = "remove"
)

// record is one append-only log entry. Only the fields relevant to Type
// are populated; json omits the rest.
type record struct {
	Seq      uint64          `json:"seq"`
	Type     recordType      `json:"type"`
	Queue    types.QueueName `json:"queue"`
	ID       types.JobID     `json:"id"`
	Job      *types.Job      `json:"job,omitempty"`
	Retries  *uint8          `json:"retries,omitempty"`
	InFlight *bool           `json:"in_flight,omitempty"`
	// StateSet distinguishes "this update didn't touch state" (false) from
	// "state was explicitly set, possibly to nil to clear it" (true) — JSON
	// null and an absent key both decode to a nil State, so a plain *[]byte
	// here wouldn't survive the round trip through the log.
	StateSet bool   `json:"state_set,omitempty"`
	State    []byte `json:"state,omitempty"`
	Checksum uint32 `json:"checksum"`
}

func checksum(r record) uint32 {
	h := crc32.NewIEEE()
	fmt.Fprintf(h, "%d|%s|%s|%s", r.Seq, r.Type, r.Queue, r.ID)
	return h.Sum32()
}

type appendRequest struct {
	rec record
	ack chan error
}

// Store is a Backing persisting to a single append-only file. Appends are
// batched: concurrent append calls within one flush window share a single
// fsync, the same optimization the source WAL implementation uses.
type Store struct {
	path string

	mu   sync.Mutex
	file *os.File
	seq  uint64

	batchCh       chan appendRequest
	bufferSize    int
	flushInterval time.Duration
	closeCh       chan struct{}
	wg            sync.WaitGroup
}

// Option customizes Store construction.
type Option func(*Store)

// WithBufferSize caps how many pending appends accumulate before a forced
// flush. Default 64.
func WithBufferSize(n int) Option {
	return func(s *Store) { s.bufferSize = n }
}

// WithFlushInterval bounds how long an append can wait for batchmates
// before the periodic ticker flushes it anyway. Default 10ms.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) { s.flushInterval = d }
}

// Open opens (creating if absent) the log file at path and starts the
// background batch writer.
func Open(path string, opts ...Option) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open filelog: %w", err)
	}

	s := &Store{
		path:          path,
		file:          f,
		batchCh:       make(chan appendRequest, 256),
		bufferSize:    64,
		flushInterval: 10 * time.Millisecond,
		closeCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	lastSeq, err := s.lastSeq()
	if err != nil {
		f.Close()
		return nil, err
	}
	s.seq = lastSeq

	s.wg.Add(1)
	go s.batchWriter()
	return s, nil
}

// Close stops the batch writer (flushing anything pending) and closes the
// file.
func (s *Store) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	return s.file.Close()
}

func (s *Store) lastSeq() (uint64, error) {
	recs, err := s.readAll()
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, r := range recs {
		if r.Seq > max {
			max = r.Seq
		}
	}
	return max, nil
}

func (s *Store) readAll() ([]record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var recs []record
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var r record
		if err := dec.Decode(&r); err != nil {
			break // truncated trailing write; stop at last complete record
		}
		if checksum(r) != r.Checksum {
			break
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// batchWriter accumulates appendRequests and flushes them with a single
// fsync per batch, matching the source WAL's batching strategy.
func (s *Store) batchWriter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	var pending []appendRequest

	flush := func() {
		if len(pending) == 0 {
			return
		}
		enc := json.NewEncoder(s.file)
		var encErr error
		for _, req := range pending {
			if encErr == nil {
				encErr = enc.Encode(req.rec)
			}
		}
		if encErr == nil {
			encErr = s.file.Sync()
		}
		for _, req := range pending {
			req.ack <- encErr
		}
		pending = pending[:0]
	}

	for {
		select {
		case req := <-s.batchCh:
			pending = append(pending, req)
			if len(pending) >= s.bufferSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.closeCh:
			for {
				select {
				case req := <-s.batchCh:
					pending = append(pending, req)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Store) append(r record) error {
	s.mu.Lock()
	s.seq++
	r.Seq = s.seq
	s.mu.Unlock()
	r.Checksum = checksum(r)

	ack := make(chan error, 1)
	s.batchCh <- appendRequest{rec: r, ack: ack}
	return <-ack
}

func (s *Store) Recover(ctx context.Context) ([]types.StoredJob, error) {
	recs, err := s.readAll()
	if err != nil {
		return nil, backing.Wrap("", "recover", err)
	}

	type key struct {
		queue types.QueueName
		id    types.JobID
	}
	jobs := make(map[key]*types.StoredJob)
	var order []key
	// lastPush is each key's index in order of its latest push, so a job
	// removed and enqueued again is emitted once, at its newest position.
	lastPush := make(map[key]int)

	for _, r := range recs {
		k := key{r.Queue, r.ID}
		switch r.Type {
		case recordPush:
			if r.Job == nil {
				continue
			}
			jobs[k] = &types.StoredJob{Job: *r.Job}
			lastPush[k] = len(order)
			order = append(order, k)
		case recordUpdate:
			sj, ok := jobs[k]
			if !ok {
				continue
			}
			if r.StateSet {
				sj.State = r.State
			}
			if r.Retries != nil {
				sj.Retries = *r.Retries
			}
			if r.InFlight != nil {
				sj.InFlight = *r.InFlight
			}
		case recordRemove:
			delete(jobs, k)
		}
	}

	out := make([]types.StoredJob, 0, len(jobs))
	for i, k := range order {
		if sj, ok := jobs[k]; ok && lastPush[k] == i {
			out = append(out, *sj)
		}
	}
	return out, nil
}

func (s *Store) Push(ctx context.Context, stored types.StoredJob) error {
	job := stored.Job
	err := s.append(record{Type: recordPush, Queue: job.Queue, ID: job.ID, Job: &job})
	if err != nil {
		return backing.Wrap(job.Queue, "push", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, queue types.QueueName, id types.JobID, u backing.Update) error {
	if u.State == nil && u.Retries == nil && u.InFlight == nil {
		return nil
	}
	rec := record{Type: recordUpdate, Queue: queue, ID: id, Retries: u.Retries, InFlight: u.InFlight}
	if u.State != nil {
		rec.StateSet = true
		rec.State = *u.State
	}
	err := s.append(rec)
	if err != nil {
		return backing.Wrap(queue, "update", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, stored types.StoredJob) error {
	err := s.append(record{Type: recordRemove, Queue: stored.Job.Queue, ID: stored.Job.ID})
	if err != nil {
		return backing.Wrap(stored.Job.Queue, "remove", err)
	}
	return nil
}

// Compact rewrites the log to hold, for each surviving job, one push record
// plus one update record carrying its folded retries/in-flight/state when
// any of those differ from a fresh push, dropping the rest of the
// update/remove history. It writes to a temp file
// and renames over the original so a crash mid-compaction never leaves a
// half-written log in place.
func (s *Store) Compact(ctx context.Context) error {
	survivors, err := s.Recover(ctx)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("compact: open temp: %w", err)
	}

	enc := json.NewEncoder(f)
	var seq uint64
	for _, sj := range survivors {
		seq++
		job := sj.Job
		r := record{Seq: seq, Type: recordPush, Queue: job.Queue, ID: job.ID, Job: &job}
		r.Checksum = checksum(r)
		if err := enc.Encode(r); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("compact: encode: %w", err)
		}
		if sj.Retries != 0 || sj.InFlight || sj.State != nil {
			seq++
			retries := sj.Retries
			inFlight := sj.InFlight
			u := record{Seq: seq, Type: recordUpdate, Queue: job.Queue, ID: job.ID, Retries: &retries, InFlight: &inFlight, StateSet: sj.State != nil, State: sj.State}
			u.Checksum = checksum(u)
			if err := enc.Encode(u); err != nil {
				f.Close()
				os.Remove(tmp)
				return fmt.Errorf("compact: encode: %w", err)
			}
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("compact: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("compact: close: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("compact: close live handle: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("compact: rename: %w", err)
	}
	newFile, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("compact: reopen: %w", err)
	}
	s.file = newFile
	s.seq = seq
	return nil
}
