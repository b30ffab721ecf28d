package progress

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища документа прогресса.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит ровно один Record на слушателя.
type Repository interface {
	// GetOrCreate возвращает документ слушателя, создавая пустой при первом
	// обращении. Вызывающий получает собственную копию.
	GetOrCreate(ctx context.Context, learnerID string) (*Record, error)

	// Get возвращает документ без создания.
	// Возвращает shared.ErrRecordNotFound, если документа нет.
	Get(ctx context.Context, learnerID string) (*Record, error)

	// Save записывает документ целиком, если версия в хранилище совпадает
	// с record.Version. При успехе увеличивает record.Version.
	// Возвращает shared.ErrConcurrentModification при расхождении версий.
	Save(ctx context.Context, record *Record) error
}

// Cache - кеш чтения поверх Repository.
type Cache interface {
	// Get возвращает закешированный документ или shared.ErrRecordNotFound.
	Get(ctx context.Context, learnerID string) (*Record, error)

	// Set кладёт документ в кеш.
	Set(ctx context.Context, record *Record, ttl time.Duration) error

	// Invalidate удаляет документ из кеша.
	Invalidate(ctx context.Context, learnerID string) error
}

// LearnerLocker сериализует изменения одного слушателя.
type LearnerLocker interface {
	// Lock блокирует слушателя и возвращает функцию освобождения.
	// Блокируется до получения блокировки или отмены ctx.
	Lock(ctx context.Context, learnerID string) (unlock func(), err error)
}
