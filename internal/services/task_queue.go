package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/pkg/logger"
)

const (
	TaskTypeTeamCreated = "notify:team_created"
	TaskTypeTaskCreated = "notify:task_created"
)

// NotificationJob is the "new team/task created" signal handed to the
// notification collaborator.
type NotificationJob struct {
	Type    string `json:"type"`
	TeamID  uint   `json:"team_id"`
	TaskID  uint   `json:"task_id,omitempty"`
	ActorID uint   `json:"actor_id,omitempty"`
}

// TaskQueue delivers notification jobs outside the request that produced them.
type TaskQueue interface {
	Enqueue(job *NotificationJob) error
	IsAsync() bool
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue picks the Redis-backed queue when enabled and reachable,
// otherwise the in-process one.
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := redisClientOpt(cfg)
	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func (q *AsyncQueue) Enqueue(job *NotificationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	info, err := q.client.Enqueue(asynq.NewTask(job.Type, payload),
		asynq.Queue("notifications"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("id", info.ID).Str("type", job.Type).Msg("[AsyncQueue] job enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool { return true }

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs jobs in a goroutine of the current process (no Redis).
type SyncQueue struct {
	processor func(context.Context, *NotificationJob) error
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor func(context.Context, *NotificationJob) error) {
	q.processor = processor
}

func (q *SyncQueue) Enqueue(job *NotificationJob) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, %s job dropped", job.Type)
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(context.Background(), job); err != nil {
			logger.Warnf("[SyncQueue] %s job failed: %v", job.Type, err)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool { return false }

// Close waits for jobs already started.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
