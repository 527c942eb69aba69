// Package jobs moves outbound email off the request path through an asynq
// queue, so a slow or failing mail transport cannot block or fail the
// request that triggered it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Code-co-tech/cyber-doc-server/internal/mail"
)

const taskTypeResetEmail = "email:password_reset"

type resetEmailPayload struct {
	Email string `json:"email"`
	Link  string `json:"link"`
}

// Manager owns the queue client and the worker server.
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	sender mail.Sender
	logger *slog.Logger
}

func NewManager(redisAddr string, sender mail.Sender, logger *slog.Logger) *Manager {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	manager := &Manager{
		client: asynq.NewClient(opt),
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"email": 1,
			},
		}),
		mux:    asynq.NewServeMux(),
		sender: sender,
		logger: logger,
	}
	manager.mux.HandleFunc(taskTypeResetEmail, manager.handleResetEmail)
	return manager
}

// DispatchResetEmail enqueues the reset message for delivery. The enqueue is
// synchronous; delivery is not.
func (m *Manager) DispatchResetEmail(ctx context.Context, email, link string) error {
	payload, err := json.Marshal(resetEmailPayload{Email: email, Link: link})
	if err != nil {
		return fmt.Errorf("marshal reset email payload: %w", err)
	}
	_, err = m.client.EnqueueContext(ctx,
		asynq.NewTask(taskTypeResetEmail, payload),
		asynq.Queue("email"),
		asynq.MaxRetry(5),
	)
	if err != nil {
		return fmt.Errorf("enqueue reset email: %w", err)
	}
	return nil
}

func (m *Manager) handleResetEmail(ctx context.Context, task *asynq.Task) error {
	var payload resetEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode reset email payload: %w", err)
	}
	if err := m.sender.Send(ctx, mail.ResetMessage(payload.Email, payload.Link)); err != nil {
		m.logger.Error("reset email delivery failed", "to", payload.Email, "error", err)
		return err
	}
	m.logger.Info("reset email delivered", "to", payload.Email)
	return nil
}

// StartWorkers runs the asynq server in the background.
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("job server stopped", "error", err)
		}
	}()
}

func (m *Manager) Shutdown() {
	m.server.Shutdown()
	_ = m.client.Close()
}
