package service

import (
	"context"
	"sync"

	"github.com/noah-isme/hostel-api/internal/models"
)

type passthroughTx struct {
	calls int
}

func (p *passthroughTx) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

type mockAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Action)
	}
	return out
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []models.NotificationRequest
	err  error
}

func (m *mockNotifier) Send(ctx context.Context, req models.NotificationRequest) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, req)
	return &models.Notification{UserID: req.UserID, Channel: req.Channel, Type: req.Type}, nil
}

func (m *mockNotifier) types() []models.NotificationType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.NotificationType, 0, len(m.sent))
	for _, r := range m.sent {
		out = append(out, r.Type)
	}
	return out
}
