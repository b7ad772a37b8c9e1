package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
	"github.com/noah-isme/hostel-api/pkg/jobs"
	"github.com/noah-isme/hostel-api/pkg/notify"
)

type mockNotificationRepo struct {
	mu       sync.Mutex
	items    map[string]*models.Notification
	seq      int
	failures []string
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{items: map[string]*models.Notification{}}
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	n.ID = fmt.Sprintf("n-%d", m.seq)
	n.UpdatedAt = time.Now().UTC()
	c := *n
	m.items[n.ID] = &c
	return nil
}

func (m *mockNotificationRepo) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.items[id]; ok {
		c := *n
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockNotificationRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Status = models.NotificationSent
	m.items[id].SentAt = &at
	return nil
}

func (m *mockNotificationRepo) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Status = models.NotificationFailed
	m.items[id].RetryCount++
	m.items[id].ErrorMessage = &message
	m.items[id].UpdatedAt = at
	m.failures = append(m.failures, message)
	return nil
}

func (m *mockNotificationRepo) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || (n.Status != models.NotificationQueued && n.Status != models.NotificationFailed) {
		return false, nil
	}
	n.Status = models.NotificationSending
	n.UpdatedAt = at
	return true, nil
}

func retryable(n *models.Notification, staleBefore time.Time) bool {
	switch n.Status {
	case models.NotificationFailed:
		return true
	case models.NotificationQueued, models.NotificationSending:
		return n.UpdatedAt.Before(staleBefore)
	}
	return false
}

func (m *mockNotificationRepo) Requeue(ctx context.Context, id string, staleBefore, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || !retryable(n, staleBefore) {
		return sql.ErrNoRows
	}
	n.Status = models.NotificationQueued
	n.UpdatedAt = at
	return nil
}

func (m *mockNotificationRepo) ListRetryable(ctx context.Context, maxRetries int, staleBefore time.Time, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.items {
		if retryable(n, staleBefore) && n.RetryCount < maxRetries && len(out) < limit {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *mockNotificationRepo) ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.items {
		if n.UserID == filter.UserID && (!filter.UnreadOnly || n.ReadAt == nil) {
			out = append(out, *n)
		}
	}
	return out, len(out), nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return sql.ErrNoRows
	}
	n.ReadAt = &at
	return nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.items {
		if n.UserID == userID && n.ReadAt == nil {
			n.ReadAt = &at
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) status(id string) models.NotificationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Status
}

type recordingDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type stubProvider struct {
	mu       sync.Mutex
	failures []error
	sent     []notify.Message
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Send(ctx context.Context, msg notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *stubProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func newNotificationFixture(queue jobs.Dispatcher, email *stubProvider) (*NotificationService, *mockNotificationRepo, *MetricsService) {
	phone := "+628123456789"
	users := &mockUserRepo{users: map[string]*models.User{
		testUserID:   {ID: testUserID, Email: "ayu@hostel.test", Phone: &phone, Role: models.RoleStudent, Active: true},
		testWardenID: {ID: testWardenID, Email: "warden@hostel.test", Role: models.RoleWarden, Active: true},
	}}
	repo := newMockNotificationRepo()
	metrics := NewMetricsService()
	providers := map[models.NotificationChannel]notify.Provider{models.ChannelEmail: email}
	svc := NewNotificationService(repo, users, queue, providers, metrics, nil, zap.NewNop(), NotificationConfig{MaxRetries: 3, StaleAfter: 15 * time.Minute})
	return svc, repo, metrics
}

func TestSendInAppIsDeliveredImmediately(t *testing.T) {
	queue := &recordingDispatcher{}
	svc, repo, metrics := newNotificationFixture(queue, &stubProvider{})

	n, err := svc.Send(context.Background(), models.NotificationRequest{UserID: testUserID, Channel: models.ChannelInApp, Title: "Hi", Body: "Welcome"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, n.Status)
	assert.NotNil(t, n.SentAt)
	assert.Equal(t, models.NotificationGeneral, n.Type)
	assert.Empty(t, queue.jobs)
	assert.Equal(t, models.NotificationSent, repo.status(n.ID))
	assert.Equal(t, uint64(1), metrics.Snapshot().NotificationsDispatched["IN_APP:SENT"])
}

func TestSendResolvesRecipients(t *testing.T) {
	queue := &recordingDispatcher{}
	svc, repo, _ := newNotificationFixture(queue, &stubProvider{})
	ctx := context.Background()

	n, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelSMS, Title: "Gate", Body: "Closing at 10pm"})
	require.NoError(t, err)
	assert.Equal(t, "+628123456789", n.Recipient)
	assert.Equal(t, models.NotificationQueued, n.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobDeliverNotification, queue.jobs[0].Type)
	assert.Equal(t, DeliveryPayload{NotificationID: n.ID}, queue.jobs[0].Payload)

	_, err = svc.Send(ctx, models.NotificationRequest{UserID: testWardenID, Channel: models.ChannelSMS, Title: "Gate", Body: "x"})
	assertCode(t, err, appErrors.ErrValidation)

	_, err = svc.Send(ctx, models.NotificationRequest{UserID: testWardenID, Channel: models.ChannelPush, Title: "Gate", Body: "x"})
	assertCode(t, err, appErrors.ErrValidation)

	push, err := svc.Send(ctx, models.NotificationRequest{UserID: testWardenID, Channel: models.ChannelPush, Title: "Gate", Body: "x",
		Metadata: map[string]string{models.MetadataDeviceToken: "device-1"}})
	require.NoError(t, err)
	assert.Equal(t, "device-1", push.Recipient)

	_, err = svc.Send(ctx, models.NotificationRequest{UserID: otherUserID, Channel: models.ChannelEmail, Title: "Gate", Body: "x"})
	assertCode(t, err, appErrors.ErrNotFound)

	_, err = svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: "FAX", Title: "Gate", Body: "x"})
	assertCode(t, err, appErrors.ErrValidation)
	assert.Len(t, repo.items, 2)
}

func TestSendMarksFailedWhenQueueRejects(t *testing.T) {
	queue := &recordingDispatcher{err: errors.New("queue full")}
	svc, repo, _ := newNotificationFixture(queue, &stubProvider{})

	n, err := svc.Send(context.Background(), models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationFailed, n.Status)
	assert.Equal(t, models.NotificationFailed, repo.status(n.ID))
}

func TestDeliverRoutesAndRecordsOutcome(t *testing.T) {
	queue := &recordingDispatcher{}
	email := &stubProvider{failures: []error{errors.New("connection reset")}}
	svc, repo, metrics := newNotificationFixture(queue, email)
	ctx := context.Background()

	n, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Leave approved", Body: "Enjoy",
		Metadata: map[string]string{"leave_id": "leave-1"}})
	require.NoError(t, err)

	err = svc.HandleJob(ctx, queue.jobs[0])
	require.Error(t, err)
	stored, _ := repo.FindByID(ctx, n.ID)
	assert.Equal(t, models.NotificationFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "connection reset", *stored.ErrorMessage)

	require.NoError(t, svc.Deliver(ctx, n.ID))
	assert.Equal(t, models.NotificationSent, repo.status(n.ID))
	require.Len(t, email.sent, 1)
	assert.Equal(t, "ayu@hostel.test", email.sent[0].Recipient)
	assert.Equal(t, "leave-1", email.sent[0].Data["leave_id"])

	require.NoError(t, svc.Deliver(ctx, n.ID))
	assert.Len(t, email.sent, 1)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.NotificationsDispatched["EMAIL:FAILED"])
	assert.Equal(t, uint64(1), snap.NotificationsDispatched["EMAIL:SENT"])

	require.NoError(t, svc.Deliver(ctx, "missing"))
}

func TestDeliverDoesNotRetryPermanentFailures(t *testing.T) {
	queue := &recordingDispatcher{}
	email := &stubProvider{failures: []error{&notify.ProviderError{Provider: "stub", StatusCode: 422, Body: "bad address"}}}
	svc, repo, _ := newNotificationFixture(queue, email)

	n, err := svc.Send(context.Background(), models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "x"})
	require.NoError(t, err)
	require.NoError(t, svc.Deliver(context.Background(), n.ID))
	assert.Equal(t, models.NotificationFailed, repo.status(n.ID))
}

func TestRetryFailedRequeues(t *testing.T) {
	queue := &recordingDispatcher{}
	svc, repo, _ := newNotificationFixture(queue, &stubProvider{})
	ctx := context.Background()

	n, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "x"})
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, n.ID, "timeout", time.Now()))

	exhausted, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "y"})
	require.NoError(t, err)
	repo.items[exhausted.ID].Status = models.NotificationFailed
	repo.items[exhausted.ID].RetryCount = 3

	count, err := svc.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, models.NotificationQueued, repo.status(n.ID))
	assert.Equal(t, models.NotificationFailed, repo.status(exhausted.ID))
	assert.Len(t, queue.jobs, 3)
}

func TestInboxReadState(t *testing.T) {
	svc, _, _ := newNotificationFixture(&recordingDispatcher{}, &stubProvider{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelInApp, Title: "Hi", Body: "x"})
		require.NoError(t, err)
	}

	items, page, err := svc.ListForUser(ctx, testUserID, true, 0, 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, 20, page.PageSize)

	require.NoError(t, svc.MarkRead(ctx, testUserID, items[0].ID))
	assertCode(t, svc.MarkRead(ctx, testWardenID, items[1].ID), appErrors.ErrNotFound)

	count, err := svc.MarkAllRead(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	items, _, err = svc.ListForUser(ctx, testUserID, true, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNotificationsFlowThroughQueue(t *testing.T) {
	email := &stubProvider{failures: []error{errors.New("temporary")}}
	queue := jobs.NewQueue("notifications", jobs.QueueConfig{Workers: 2, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	svc, repo, _ := newNotificationFixture(queue, email)
	queue.Register(JobDeliverNotification, svc.HandleJob)
	queue.Start(context.Background())
	defer queue.Stop()

	n, err := svc.Send(context.Background(), models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "x"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return repo.status(n.ID) == models.NotificationSent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, email.count())
}

func TestUnconfiguredChannelsUseLogProvider(t *testing.T) {
	svc, repo, _ := newNotificationFixture(&recordingDispatcher{}, &stubProvider{})
	n, err := svc.Send(context.Background(), models.NotificationRequest{UserID: testUserID, Channel: models.ChannelSMS, Title: "Hi", Body: "x"})
	require.NoError(t, err)
	require.NoError(t, svc.Deliver(context.Background(), n.ID))
	assert.Equal(t, models.NotificationSent, repo.status(n.ID))
	assert.Equal(t, "log-SMS", svc.providers[models.ChannelSMS].Name())
}

func TestDeliverStoresTruncatedErrorAsValidUTF8(t *testing.T) {
	long := errors.New(strings.Repeat("a", 499) + strings.Repeat("é…", 300))
	email := &stubProvider{failures: []error{long}}
	svc, repo, _ := newNotificationFixture(&recordingDispatcher{}, email)
	ctx := context.Background()

	n, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "x"})
	require.NoError(t, err)
	require.Error(t, svc.Deliver(ctx, n.ID))

	require.Len(t, repo.failures, 1)
	stored := repo.failures[0]
	assert.True(t, utf8.ValidString(stored))
	assert.Equal(t, maxErrorMessageRunes, utf8.RuneCountInString(stored))
	assert.True(t, strings.HasSuffix(stored, "aé"))
	assert.Equal(t, models.NotificationFailed, repo.status(n.ID))
}

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short", in: "gateway 503", limit: 500, want: "gateway 503"},
		{name: "multi-byte boundary", in: "ab€cd", limit: 3, want: "ab€"},
		{name: "invalid bytes", in: "ok\xc3", limit: 10, want: "ok\uFFFD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, truncateRunes(tc.in, tc.limit))
		})
	}
}

func TestDeliverSendsOnceUnderConcurrentJobs(t *testing.T) {
	email := &stubProvider{}
	svc, repo, _ := newNotificationFixture(&recordingDispatcher{}, email)
	ctx := context.Background()

	n, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Deliver(ctx, n.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, email.count())
	assert.Equal(t, models.NotificationSent, repo.status(n.ID))
}

func TestDeliverSkipsNotificationInFlight(t *testing.T) {
	email := &stubProvider{}
	svc, repo, _ := newNotificationFixture(&recordingDispatcher{}, email)
	ctx := context.Background()

	n, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "x"})
	require.NoError(t, err)
	repo.items[n.ID].Status = models.NotificationSending

	require.NoError(t, svc.Deliver(ctx, n.ID))
	assert.Zero(t, email.count())
	assert.Equal(t, models.NotificationSending, repo.status(n.ID))
}

func TestRetryFailedRecoversStaleRows(t *testing.T) {
	queue := &recordingDispatcher{}
	svc, repo, _ := newNotificationFixture(queue, &stubProvider{})
	ctx := context.Background()

	lost, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "lost"})
	require.NoError(t, err)
	stuck, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "stuck"})
	require.NoError(t, err)
	fresh, err := svc.Send(ctx, models.NotificationRequest{UserID: testUserID, Channel: models.ChannelEmail, Title: "Hi", Body: "fresh"})
	require.NoError(t, err)

	hourAgo := time.Now().UTC().Add(-time.Hour)
	repo.items[lost.ID].UpdatedAt = hourAgo
	repo.items[stuck.ID].Status = models.NotificationSending
	repo.items[stuck.ID].UpdatedAt = hourAgo
	queue.jobs = nil

	count, err := svc.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, models.NotificationQueued, repo.status(lost.ID))
	assert.Equal(t, models.NotificationQueued, repo.status(stuck.ID))
	assert.Equal(t, models.NotificationQueued, repo.status(fresh.ID))

	var ids []string
	for _, job := range queue.jobs {
		ids = append(ids, job.ID)
	}
	assert.ElementsMatch(t, []string{lost.ID, stuck.ID}, ids)

	count, err = svc.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, count)
}
