// Package scheduler запускает периодические задачи движка
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job периодическая задача
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler запускает задачи по таймеру. Прогоны не перекрываются:
// RunOnce во время тика ждет завершения текущего прогона.
type Scheduler struct {
	logger *zap.Logger
	jobs   []Job
	mu     sync.Mutex
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// AddJob добавляет задачу. Вызывается до Start.
func (s *Scheduler) AddJob(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start выполняет задачи сразу и затем с заданным интервалом, пока не отменен ctx
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("запуск планировщика задач",
		zap.Duration("interval", interval),
		zap.Int("jobs_count", len(s.jobs)))

	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("остановка планировщика задач")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce по очереди выполняет все задачи. Ошибка одной задачи не останавливает остальные.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := job.Run(ctx)
		if err != nil {
			s.logger.Error("ошибка выполнения задачи",
				zap.String("job", job.Name()),
				zap.Duration("duration", time.Since(started)),
				zap.Error(err))
			continue
		}
		s.logger.Debug("задача выполнена",
			zap.String("job", job.Name()),
			zap.Duration("duration", time.Since(started)))
	}
}
