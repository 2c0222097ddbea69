// Package queue implements named FIFO queues keyed by (task_type,
// engine), built on badgerhold the way the teacher's storage layer uses
// it for every other durable collection, rather than the unused goqite
// import present in the teacher's own queue package (see DESIGN.md).
package queue

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/apperr"
	"github.com/ternarybob/harvestyard/internal/interfaces"
)

// queueRow is the badgerhold-persisted representation of one enqueued
// message.
type queueRow struct {
	Key         string `badgerholdKey:"Key"` // queueName + ":" + jobID
	QueueName   string `badgerholdIndex:"QueueName"`
	JobID       string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	BaseDelayMS int
	Factor      float64
	NextAttemptAt int64 `badgerholdIndex:"NextAttemptAt"`
	Locked      bool
	EnqueuedAt  int64
}

func rowKey(queueName, jobID string) string {
	return queueName + ":" + jobID
}

// Manager implements interfaces.QueueManager over badgerhold, polling
// each registered queue on an interval from one goroutine that handles
// its due rows one at a time. A row's Locked flag is set with a plain
// Update (not a compare-and-swap) and hides the row from later polls; a
// second Start call launches a second poller per queue, and two pollers
// of one queue can handle the same row.
type Manager struct {
	store  *badgerhold.Store
	logger arbor.ILogger

	mu        sync.Mutex
	handlers  map[string]interfaces.JobHandler
	pollEvery time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewManager(store *badgerhold.Store, pollEvery time.Duration, logger arbor.ILogger) *Manager {
	return &Manager{
		store:     store,
		logger:    logger,
		handlers:  make(map[string]interfaces.JobHandler),
		pollEvery: pollEvery,
		stop:      make(chan struct{}),
	}
}

func (m *Manager) Enqueue(ctx context.Context, queueName, jobID string, payload []byte, policy interfaces.RetryPolicy) error {
	row := queueRow{
		Key:           rowKey(queueName, jobID),
		QueueName:     queueName,
		JobID:         jobID,
		Payload:       payload,
		MaxAttempts:   policy.MaxAttempts,
		BaseDelayMS:   policy.BaseDelayMS,
		Factor:        policy.Factor,
		NextAttemptAt: time.Now().UnixMilli(),
		EnqueuedAt:    time.Now().UnixMilli(),
	}
	return m.store.Upsert(row.Key, &row)
}

func (m *Manager) GetJob(ctx context.Context, queueName, jobID string) (*interfaces.QueueMessage, error) {
	var row queueRow
	err := m.store.Get(rowKey(queueName, jobID), &row)
	if err == badgerhold.ErrNotFound {
		return nil, apperr.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &interfaces.QueueMessage{JobID: row.JobID, Queue: row.QueueName, Payload: row.Payload, Attempts: row.Attempts}, nil
}

func (m *Manager) RemoveJob(ctx context.Context, queueName, jobID string) error {
	err := m.store.Delete(rowKey(queueName, jobID), &queueRow{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

func (m *Manager) Register(queueName string, handler interfaces.JobHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[queueName] = handler
}

// Start launches one poller goroutine per registered queue.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	queues := make([]string, 0, len(m.handlers))
	for q := range m.handlers {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	for _, q := range queues {
		m.wg.Add(1)
		go m.pollLoop(ctx, q)
	}
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	close(m.stop)
	m.wg.Wait()
	return nil
}

func (m *Manager) pollLoop(ctx context.Context, queueName string) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.drainOnce(ctx, queueName)
		}
	}
}

func (m *Manager) drainOnce(ctx context.Context, queueName string) {
	m.mu.Lock()
	handler := m.handlers[queueName]
	m.mu.Unlock()
	if handler == nil {
		return
	}

	var rows []queueRow
	query := badgerhold.Where("QueueName").Eq(queueName).
		And("Locked").Eq(false).
		And("NextAttemptAt").Le(time.Now().UnixMilli()).
		SortBy("EnqueuedAt")
	if err := m.store.Find(&rows, query); err != nil {
		m.logger.Warn().Err(err).Str("queue", queueName).Msg("queue poll failed")
		return
	}

	for i := range rows {
		row := rows[i]
		row.Locked = true
		if err := m.store.Update(row.Key, &row); err != nil {
			continue // row removed since the query, or a storage error
		}
		m.processOne(ctx, queueName, row, handler)
	}
}

func (m *Manager) processOne(ctx context.Context, queueName string, row queueRow, handler interfaces.JobHandler) {
	msg := interfaces.QueueMessage{JobID: row.JobID, Queue: queueName, Payload: row.Payload, Attempts: row.Attempts}

	err := handler(ctx, msg)
	if err == nil {
		_ = m.store.Delete(row.Key, &queueRow{})
		return
	}

	row.Attempts++
	row.Locked = false

	if row.MaxAttempts > 0 && row.Attempts >= row.MaxAttempts {
		m.logger.Warn().Str("queue", queueName).Str("job_id", row.JobID).Int("attempts", row.Attempts).Err(err).Msg("job exhausted retries, dropping from queue")
		_ = m.store.Delete(row.Key, &queueRow{})
		return
	}

	delay := backoffDelay(row.BaseDelayMS, row.Factor, row.Attempts)
	row.NextAttemptAt = time.Now().Add(delay).UnixMilli()
	if updateErr := m.store.Update(row.Key, &row); updateErr != nil {
		m.logger.Warn().Err(updateErr).Str("job_id", row.JobID).Msg("failed to reschedule retried job")
	}
}

func backoffDelay(baseMS int, factor float64, attempt int) time.Duration {
	if baseMS <= 0 {
		baseMS = 1000
	}
	if factor <= 1 {
		factor = 2
	}
	delayMS := float64(baseMS) * math.Pow(factor, float64(attempt-1))
	return time.Duration(delayMS) * time.Millisecond
}

// MarshalJSON is a convenience wrapper for callers building Enqueue
// payloads without importing encoding/json directly.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
