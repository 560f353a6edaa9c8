package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/authbatch/internal/credentials"
	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/kursadbilgin/authbatch/internal/provider"
	"github.com/kursadbilgin/authbatch/internal/queue"
	"github.com/kursadbilgin/authbatch/internal/repository"
)

// memBatchStore applies the same guards as the SQL repository: counters only
// move on processing batches and never pass the total.
type memBatchStore struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
	now     func() time.Time

	recordOutcomeHook func(id string, sent, failed int) error
	finalizeFn        func(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error)
	outcomeCalls      atomic.Int64
}

var _ repository.BatchRepository = (*memBatchStore)(nil)

func newMemBatchStore() *memBatchStore {
	return &memBatchStore{
		batches: make(map[string]*domain.Batch),
		now:     time.Now,
	}
}

func (m *memBatchStore) Create(_ context.Context, b *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b.CreatedAt, b.UpdatedAt = now, now
	stored := *b
	m.batches[b.ID] = &stored
	return nil
}

func (m *memBatchStore) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (m *memBatchStore) List(_ context.Context, params repository.ListParams) ([]domain.Batch, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]domain.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		if params.ProjectID != nil && b.ProjectID != *params.ProjectID {
			continue
		}
		if params.Status != nil && b.Status != *params.Status {
			continue
		}
		all = append(all, *b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, int64(len(all)), nil
}

func (m *memBatchStore) StartProcessing(_ context.Context, id string, totalItems int) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if b.Status != domain.BatchStatusPending {
		return nil, domain.ErrConflict
	}
	b.TotalItems = totalItems
	b.Status = domain.ResolveStatus(domain.BatchStatusProcessing, totalItems, 0, 0)
	b.UpdatedAt = m.now()
	out := *b
	return &out, nil
}

func (m *memBatchStore) RecordOutcome(_ context.Context, id string, sent int, failed int) (*domain.Batch, error) {
	m.outcomeCalls.Add(1)
	if m.recordOutcomeHook != nil {
		if err := m.recordOutcomeHook(id, sent, failed); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if b.Status != domain.BatchStatusProcessing || b.SentCount+b.FailedCount+sent+failed > b.TotalItems {
		return nil, domain.ErrConflict
	}
	b.SentCount += sent
	b.FailedCount += failed
	b.Status = domain.ResolveStatus(b.Status, b.TotalItems, b.SentCount, b.FailedCount)
	b.UpdatedAt = m.now()
	out := *b
	return &out, nil
}

func (m *memBatchStore) MarkFailed(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Status != domain.BatchStatusPending {
		return domain.ErrConflict
	}
	b.Status = domain.BatchStatusFailed
	b.TotalItems = 0
	b.ErrorMessage = &reason
	b.UpdatedAt = m.now()
	return nil
}

func (m *memBatchStore) FinalizeStalled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error) {
	if m.finalizeFn != nil {
		return m.finalizeFn(ctx, cutoff, limit)
	}
	return nil, nil
}

func (m *memBatchStore) get(id string) domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.batches[id]
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	publishFn func(ctx context.Context, queueName string, msg queue.ChunkMessage) error
}

type publishedMessage struct {
	queue string
	msg   queue.ChunkMessage
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.ChunkMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{queue: queueName, msg: msg})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeResolver struct {
	calls     atomic.Int64
	resolveFn func(ctx context.Context, projectID string) (*credentials.Credential, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, projectID string) (*credentials.Credential, error) {
	f.calls.Add(1)
	if f.resolveFn != nil {
		return f.resolveFn(ctx, projectID)
	}
	return &credentials.Credential{ProjectID: projectID, ClientEmail: "sa@" + projectID + ".iam.gserviceaccount.com"}, nil
}

type fakeFactory struct {
	calls        atomic.Int64
	provider     provider.AuthProvider
	forProjectFn func(ctx context.Context, cred credentials.Credential) (provider.AuthProvider, error)
}

func (f *fakeFactory) ForProject(ctx context.Context, cred credentials.Credential) (provider.AuthProvider, error) {
	f.calls.Add(1)
	if f.forProjectFn != nil {
		return f.forProjectFn(ctx, cred)
	}
	return f.provider, nil
}

// fakeProvider counts every upstream call it receives.
type fakeProvider struct {
	calls atomic.Int64

	createUserFn  func(ctx context.Context, item domain.WorkItem) (string, error)
	deleteUserFn  func(ctx context.Context, uid string) error
	deleteUsersFn func(ctx context.Context, uids []string) (*provider.DeleteResult, error)
	sendResetFn   func(ctx context.Context, email string) error
	sendVerifyFn  func(ctx context.Context, email string) error
	listUsersFn   func(ctx context.Context, pageToken string, pageSize int) (*provider.UserPage, error)
	templateFn    func(ctx context.Context, tpl provider.ResetTemplate) error
}

var _ provider.AuthProvider = (*fakeProvider)(nil)

func (f *fakeProvider) CreateUser(ctx context.Context, item domain.WorkItem) (string, error) {
	f.calls.Add(1)
	if f.createUserFn != nil {
		return f.createUserFn(ctx, item)
	}
	return "uid-" + item.Email, nil
}

func (f *fakeProvider) DeleteUser(ctx context.Context, uid string) error {
	f.calls.Add(1)
	if f.deleteUserFn != nil {
		return f.deleteUserFn(ctx, uid)
	}
	return nil
}

func (f *fakeProvider) DeleteUsers(ctx context.Context, uids []string) (*provider.DeleteResult, error) {
	f.calls.Add(1)
	if f.deleteUsersFn != nil {
		return f.deleteUsersFn(ctx, uids)
	}
	return &provider.DeleteResult{SuccessCount: len(uids)}, nil
}

func (f *fakeProvider) SendPasswordResetLink(ctx context.Context, email string) error {
	f.calls.Add(1)
	if f.sendResetFn != nil {
		return f.sendResetFn(ctx, email)
	}
	return nil
}

func (f *fakeProvider) SendEmailVerificationLink(ctx context.Context, email string) error {
	f.calls.Add(1)
	if f.sendVerifyFn != nil {
		return f.sendVerifyFn(ctx, email)
	}
	return nil
}

func (f *fakeProvider) ListUsers(ctx context.Context, pageToken string, pageSize int) (*provider.UserPage, error) {
	f.calls.Add(1)
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx, pageToken, pageSize)
	}
	return &provider.UserPage{}, nil
}

func (f *fakeProvider) UpdatePasswordResetTemplate(ctx context.Context, tpl provider.ResetTemplate) error {
	f.calls.Add(1)
	if f.templateFn != nil {
		return f.templateFn(ctx, tpl)
	}
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	claimFn  func(ctx context.Context, batchID, taskID string) (bool, error)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claimed: make(map[string]bool)}
}

func (f *fakeLedger) Claim(ctx context.Context, batchID, taskID string) (bool, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, batchID, taskID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := batchID + ":" + taskID
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeLedger) Release(_ context.Context, batchID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := batchID + ":" + taskID
	delete(f.claimed, key)
	f.released = append(f.released, key)
	return nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

func emailItems(n int) []domain.WorkItem {
	items := make([]domain.WorkItem, n)
	for i := range items {
		items[i] = domain.WorkItem{Email: "user" + itoa(i) + "@example.com", Password: "secret123"}
	}
	return items
}

func itoa(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "0"
	}
	var buf []byte
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return string(buf)
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.InterCallDelay = 0
	cfg.RiskyCallDelay = 0
	return cfg
}

func repositoryListAll() repository.ListParams {
	return repository.ListParams{Page: 1, PageSize: 100}
}
