package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis-backed queue.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Queue       string
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	Logger      *zap.Logger
}

func (c RedisConfig) connOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// RedisQueue enqueues jobs into Redis for a RedisWorker to process, possibly
// in another process.
type RedisQueue struct {
	client *asynq.Client
	cfg    RedisConfig
}

// NewRedisQueue builds an asynq producer.
func NewRedisQueue(cfg RedisConfig) *RedisQueue {
	cfg = cfg.withDefaults()
	return &RedisQueue{client: asynq.NewClient(cfg.connOpt()), cfg: cfg}
}

// Dispatch implements Dispatcher. Jobs with an ID are de-duplicated while a
// task with the same ID is still pending.
func (q *RedisQueue) Dispatch(ctx context.Context, job Job) error {
	task, err := NewTask(job, q.cfg)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			q.cfg.Logger.Debug("job already queued", zap.String("job_id", job.ID), zap.String("type", job.Type))
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// NewTask converts a job into an asynq task carrying a JSON payload.
func NewTask(job Job, cfg RedisConfig) (*asynq.Task, error) {
	cfg = cfg.withDefaults()
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", job.Type, err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(cfg.MaxRetries),
		asynq.Queue(cfg.Queue),
		asynq.Timeout(cfg.Timeout),
	}
	if job.ID != "" {
		opts = append(opts, asynq.TaskID(job.Type+":"+job.ID))
	}
	return asynq.NewTask(job.Type, payload, opts...), nil
}

// RedisWorker consumes jobs enqueued by RedisQueue.
type RedisWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewRedisWorker builds an asynq server bound to the configured queue.
func NewRedisWorker(cfg RedisConfig) *RedisWorker {
	cfg = cfg.withDefaults()
	delay := cfg.RetryDelay
	server := asynq.NewServer(cfg.connOpt(), asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return delay * time.Duration(n+1)
		},
		Logger: cfg.Logger.Sugar(),
	})
	return &RedisWorker{server: server, mux: asynq.NewServeMux(), logger: cfg.Logger}
}

// Register binds a handler to a job type.
func (w *RedisWorker) Register(jobType string, handler Handler) {
	w.mux.HandleFunc(jobType, TaskHandler(handler))
}

// Start begins processing in the background.
func (w *RedisWorker) Start() error {
	w.logger.Info("redis worker starting")
	return w.server.Start(w.mux)
}

// Stop waits for in-flight tasks and stops the worker.
func (w *RedisWorker) Stop() {
	w.server.Shutdown()
	w.logger.Info("redis worker stopped")
}

// TaskHandler adapts a Handler to the asynq handler signature.
func TaskHandler(handler Handler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		job := Job{Type: t.Type(), Payload: json.RawMessage(t.Payload())}
		if id, ok := asynq.GetTaskID(ctx); ok {
			job.ID = id
		}
		if attempt, ok := asynq.GetRetryCount(ctx); ok {
			job.Attempt = attempt
		}
		return handler(ctx, job)
	}
}
