package roster

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository - долговременное хранилище пакетов загрузки.
type Repository interface {
	// SaveBatch сохраняет пакет целиком в одной транзакции.
	SaveBatch(ctx context.Context, batch *Batch) error

	// LatestBatch возвращает текущий пакет: последний сохранённый, если после
	// него не было ClearCurrent. Иначе возвращает ErrBatchNotFound.
	LatestBatch(ctx context.Context) (*Batch, error)

	// ClearCurrent снимает отметку текущего пакета. История сохраняется.
	ClearCurrent(ctx context.Context) error

	// GetBatch возвращает пакет по ID.
	// Возвращает ErrBatchNotFound, если пакет не найден.
	GetBatch(ctx context.Context, id string) (*Batch, error)
}

// Cache - кеш текущего пакета.
type Cache interface {
	// Get возвращает текущий пакет. При промахе возвращает ошибку вида ErrNotFound.
	Get(ctx context.Context) (*Batch, error)

	// Set сохраняет пакет как текущий.
	Set(ctx context.Context, batch *Batch) error

	// Invalidate удаляет текущий пакет из кеша.
	Invalidate(ctx context.Context) error
}
