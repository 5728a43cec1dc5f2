package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/whisper/report-bot/internal/report"
)

// usageText is the reply to the help keyword when no report is in progress.
const usageText = "Use the `report` command to begin the reporting process.\nUse the `cancel` command to cancel the report process."

// Result is the outcome of one message handled by the Registry.
type Result struct {
	Lines []string

	Started   bool // a new report was created by this message
	Completed bool // the report finished and was discarded
	Cancelled bool // the report finished without a submission

	// Submission is set when the reporter confirmed the report.
	Submission *report.Submission
}

// Registry maps reporters to their report in progress. Messages from the same
// reporter are processed one at a time, also across registries sharing a
// store; different reporters proceed in parallel.
type Registry struct {
	store   SnapshotStore
	fetcher report.ItemFetcher
	locks   *keyedMutex
}

// NewRegistry creates a Registry persisting conversations in store and
// resolving links with fetcher.
func NewRegistry(store SnapshotStore, fetcher report.ItemFetcher) *Registry {
	return &Registry{
		store:   store,
		fetcher: fetcher,
		locks:   newKeyedMutex(),
	}
}

// Handle routes one message from a reporter. Without a report in progress
// only the start keyword (as a prefix) and the help keyword get a reply.
func (r *Registry) Handle(ctx context.Context, reporterID, text string) (Result, error) {
	var res Result

	unlock, err := r.lock(ctx, reporterID)
	if err != nil {
		return res, err
	}
	defer unlock()

	s, err := r.load(ctx, reporterID)
	switch {
	case errors.Is(err, ErrNoSession):
		lower := strings.ToLower(text)
		if lower == report.HelpKeyword {
			res.Lines = []string{usageText}
			return res, nil
		}
		if !strings.HasPrefix(lower, report.StartKeyword) {
			return res, nil
		}
		s = report.NewSession(r.fetcher)
		res.Started = true
	case err != nil:
		return res, err
	}

	res.Lines = s.HandleMessage(ctx, text)

	if !s.IsComplete() {
		if err := r.store.Save(ctx, reporterID, s.Snapshot()); err != nil {
			return res, err
		}
		return res, nil
	}

	res.Completed = true
	if sub, ok := s.Submission(); ok {
		sub.ReporterID = reporterID
		res.Submission = &sub
	} else {
		res.Cancelled = true
	}
	if err := r.store.Delete(ctx, reporterID); err != nil {
		return res, err
	}
	return res, nil
}

// Active reports whether the reporter has a report in progress.
func (r *Registry) Active(ctx context.Context, reporterID string) (bool, error) {
	_, err := r.store.Load(ctx, reporterID)
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Evict discards a reporter's report without replying, e.g. when the
// reporter disconnects.
func (r *Registry) Evict(ctx context.Context, reporterID string) error {
	unlock, err := r.lock(ctx, reporterID)
	if err != nil {
		return err
	}
	defer unlock()
	return r.store.Delete(ctx, reporterID)
}

// lock queues local callers on the in-process mutex before contending for
// the store lock, so only one goroutine per reporter polls the store.
func (r *Registry) lock(ctx context.Context, reporterID string) (func(), error) {
	unlockLocal := r.locks.Lock(reporterID)
	unlockStore, err := r.store.Lock(ctx, reporterID)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		unlockStore()
		unlockLocal()
	}, nil
}

// load restores the reporter's session. A snapshot that no longer decodes is
// dropped and treated as absent.
func (r *Registry) load(ctx context.Context, reporterID string) (*report.Session, error) {
	snap, err := r.store.Load(ctx, reporterID)
	if err != nil && !errors.Is(err, ErrBadSnapshot) {
		return nil, err
	}
	var s *report.Session
	if err == nil {
		s, err = report.Restore(snap, r.fetcher)
	}
	if err != nil {
		log.Printf("[session] dropping unreadable snapshot reporter=%s: %v", reporterID, err)
		if err := r.store.Delete(ctx, reporterID); err != nil {
			return nil, fmt.Errorf("session: drop snapshot: %w", err)
		}
		return nil, ErrNoSession
	}
	return s, nil
}

// keyedMutex hands out one mutex per key and forgets it when nobody holds or
// waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns the function that releases it.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
