package progress_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/models"
	"github.com/ternarybob/harvestyard/internal/services/billing"
	"github.com/ternarybob/harvestyard/internal/services/progress"
)

// fakeCounterStore is an in-memory stand-in for the Redis-backed
// CounterStore, letting the tracker's CAS and counter logic be exercised
// without a running Redis instance.
type fakeCounterStore struct {
	mu    sync.Mutex
	hsets map[string]map[string]string
	sets  map[string]map[string]struct{}
	kv    map[string]string
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		hsets: make(map[string]map[string]string),
		sets:  make(map[string]map[string]struct{}),
		kv:    make(map[string]string),
	}
}

func (f *fakeCounterStore) hash(key string) map[string]string {
	h, ok := f.hsets[key]
	if !ok {
		h = make(map[string]string)
		f.hsets[key] = h
	}
	return h
}

func (f *fakeCounterStore) AcquireLock(ctx context.Context, name string, ttl time.Duration, token string) (bool, error) {
	return true, nil
}

func (f *fakeCounterStore) ReleaseLock(ctx context.Context, name string, token string) error {
	return nil
}

func (f *fakeCounterStore) HIncrBy(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hash(hashKey)
	n, _ := strconv.ParseInt(h[field], 10, 64)
	n += delta
	h[field] = strconv.FormatInt(n, 10)
	return n, nil
}

func (f *fakeCounterStore) HDecrByFloor(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hash(hashKey)
	n, _ := strconv.ParseInt(h[field], 10, 64)
	n -= delta
	if n < 0 {
		n = 0
	}
	h[field] = strconv.FormatInt(n, 10)
	return n, nil
}

func (f *fakeCounterStore) HGet(ctx context.Context, hashKey, field string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hash(hashKey)[field], nil
}

func (f *fakeCounterStore) HSet(ctx context.Context, hashKey, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hash(hashKey)[field] = value
	return nil
}

func (f *fakeCounterStore) HGetAll(ctx context.Context, hashKey string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.hash(hashKey) {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCounterStore) HSetNX(ctx context.Context, hashKey, field, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hash(hashKey)
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (f *fakeCounterStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hsets, key)
	delete(f.kv, key)
	return nil
}

func (f *fakeCounterStore) SAdd(ctx context.Context, setKey, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sets[setKey]
	if !ok {
		s = make(map[string]struct{})
		f.sets[setKey] = s
	}
	s[member] = struct{}{}
	return nil
}

func (f *fakeCounterStore) SRem(ctx context.Context, setKey, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sets[setKey], member)
	return nil
}

func (f *fakeCounterStore) SMembers(ctx context.Context, setKey string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[setKey] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeCounterStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return nil
}

func (f *fakeCounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	return v, ok, nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeJobStore(jobs ...*models.Job) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]*models.Job)}
	for _, j := range jobs {
		s.jobs[j.UUID] = j
	}
	return s
}

func (s *fakeJobStore) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.UUID] = job
	return nil
}

func (s *fakeJobStore) Get(ctx context.Context, uuid string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[uuid]
	if !ok {
		return nil, apperr.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (s *fakeJobStore) GetByJobID(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.JobID == jobID {
			copied := *j
			return &copied, nil
		}
	}
	return nil, apperr.ErrJobNotFound
}

func (s *fakeJobStore) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.UUID] = job
	return nil
}

func (s *fakeJobStore) ListRunningByType(ctx context.Context, jobType string) ([]*models.Job, error) {
	return nil, nil
}

// S4: a crawl that hits its page limit finalizes exactly once, and a
// second TryFinalize call observes the already-finalized state.
func TestTracker_TryFinalize_ReachedLimitFinalizesOnce(t *testing.T) {
	ctx := context.Background()
	counters := newFakeCounterStore()
	jobs := newFakeJobStore(&models.Job{UUID: "job-1-uuid", JobID: "job-1", ApiKeyID: "key-1", Limit: 3})
	logger := arbor.NewLogger()

	tracker := progress.NewTracker(counters, jobs, billing.NewEngine(jobs, nil, nil, false, logger), nil, 0.9, logger)

	require.NoError(t, tracker.EnsureStarted(ctx, "job-1"))
	for i := 0; i < 3; i++ {
		_, err := tracker.MarkPageDone(ctx, "job-1", true, 3)
		require.NoError(t, err)
	}

	won, err := tracker.TryFinalize(ctx, "job-1", 3)
	require.NoError(t, err)
	require.True(t, won)

	wonAgain, err := tracker.TryFinalize(ctx, "job-1", 3)
	require.NoError(t, err)
	require.False(t, wonAgain)

	job, err := jobs.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
	require.True(t, job.IsSuccess)
}

// Queue drained (no limit configured) also triggers finalize once
// enqueued equals done.
func TestTracker_TryFinalize_QueueDrainedWithoutLimit(t *testing.T) {
	ctx := context.Background()
	counters := newFakeCounterStore()
	jobs := newFakeJobStore(&models.Job{UUID: "job-2-uuid", JobID: "job-2", ApiKeyID: "key-2"})
	logger := arbor.NewLogger()
	tracker := progress.NewTracker(counters, jobs, billing.NewEngine(jobs, nil, nil, false, logger), nil, 0.9, logger)

	require.NoError(t, tracker.IncrementEnqueued(ctx, "job-2", 2))
	_, err := tracker.MarkPageDone(ctx, "job-2", true, 0)
	require.NoError(t, err)
	_, err = tracker.MarkPageDone(ctx, "job-2", false, 0)
	require.NoError(t, err)

	won, err := tracker.TryFinalize(ctx, "job-2", 0)
	require.NoError(t, err)
	require.True(t, won)

	job, err := jobs.GetByJobID(ctx, "job-2")
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
}

// S4 recovery path: a crawl reaches its limit and gets enrolled in the
// pending-finalize set, but no caller ever wins the TryFinalize race
// directly (simulating a crash between enrollment and finalization).
// The periodic sweep must finish the job and drop it from the set.
func TestTracker_SweepPendingFinalize_FinalizesEnrolledJob(t *testing.T) {
	ctx := context.Background()
	counters := newFakeCounterStore()
	jobs := newFakeJobStore(&models.Job{UUID: "job-7-uuid", JobID: "job-7", ApiKeyID: "key-7", Limit: 3})
	logger := arbor.NewLogger()
	tracker := progress.NewTracker(counters, jobs, billing.NewEngine(jobs, nil, nil, false, logger), nil, 0.9, logger)

	require.NoError(t, tracker.EnsureStarted(ctx, "job-7"))
	for i := 0; i < 3; i++ {
		_, err := tracker.MarkPageDone(ctx, "job-7", true, 3)
		require.NoError(t, err)
	}

	members, err := counters.SMembers(ctx, "jobs:pending_finalize")
	require.NoError(t, err)
	require.Contains(t, members, "job-7")

	tracker.SweepPendingFinalize(ctx, func(jobID string) int { return 3 })

	job, err := jobs.GetByJobID(ctx, "job-7")
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)

	membersAfter, err := counters.SMembers(ctx, "jobs:pending_finalize")
	require.NoError(t, err)
	require.NotContains(t, membersAfter, "job-7")
}

// A cancelled crawl short-circuits further progress writes.
func TestTracker_Cancel_StopsFurtherProgress(t *testing.T) {
	ctx := context.Background()
	counters := newFakeCounterStore()
	jobs := newFakeJobStore(&models.Job{UUID: "job-3-uuid", JobID: "job-3", ApiKeyID: "key-3"})
	logger := arbor.NewLogger()
	tracker := progress.NewTracker(counters, jobs, billing.NewEngine(jobs, nil, nil, false, logger), nil, 0.9, logger)

	require.NoError(t, tracker.Cancel(ctx, "job-3"))

	state, err := tracker.MarkPageDone(ctx, "job-3", true, 10)
	require.NoError(t, err)
	require.True(t, state.Cancelled)
	require.Equal(t, int64(0), state.Done)
}
