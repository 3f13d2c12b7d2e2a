package roster

import (
	"context"
	"sync"

	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER CONTEXT
// Явный объект с жизненным циклом Load / Replace / Clear вместо глобального
// изменяемого кеша. Читатели получают неизменяемый снимок.
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - согласованная пара: пакет и построенный из него состав.
type Snapshot struct {
	Batch  *Batch
	Roster *Roster
}

// ErrorHandler получает некритичные ошибки (например, сбой записи в кеш).
type ErrorHandler func(op string, err error)

// Context хранит текущий состав. Repository и Cache необязательны:
// без них Context работает только в памяти.
type Context struct {
	repo    Repository
	cache   Cache
	onError ErrorHandler

	// writeMu сериализует Replace/Clear/Load, чтобы порядок
	// "хранилище -> кеш -> память" не перемешивался между вызовами.
	writeMu sync.Mutex

	mu      sync.RWMutex
	current *Snapshot
}

// Option настраивает Context.
type Option func(*Context)

// WithRepository подключает долговременное хранилище.
func WithRepository(repo Repository) Option {
	return func(c *Context) { c.repo = repo }
}

// WithCache подключает кеш текущего пакета.
func WithCache(cache Cache) Option {
	return func(c *Context) { c.cache = cache }
}

// WithErrorHandler задаёт обработчик некритичных ошибок.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Context) { c.onError = h }
}

// NewContext создаёт пустой Context.
func NewContext(opts ...Option) *Context {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	if c.onError == nil {
		c.onError = func(string, error) {}
	}
	return c
}

// Load загружает текущий пакет: сначала из кеша, затем из хранилища.
// Если пакетов нет нигде, Context остаётся пустым и ошибка не возвращается.
func (c *Context) Load(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cache != nil {
		batch, err := c.cache.Get(ctx)
		if err == nil && batch != nil {
			snap, serr := newSnapshot(batch)
			if serr == nil {
				c.store(snap)
				return nil
			}
			c.onError("load.cache_decode", serr)
		} else if err != nil && !shared.IsNotFound(err) {
			c.onError("load.cache", err)
		}
	}

	if c.repo == nil {
		return nil
	}

	batch, err := c.repo.LatestBatch(ctx)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil
		}
		return shared.WrapError("roster", "Load", shared.ErrServiceUnavailable, "failed to load latest batch", err)
	}

	snap, err := newSnapshot(batch)
	if err != nil {
		return err
	}
	c.store(snap)

	if c.cache != nil {
		if err := c.cache.Set(ctx, batch); err != nil {
			c.onError("load.cache_warm", err)
		}
	}
	return nil
}

// Replace атомарно заменяет состав: сохраняет пакет, обновляет кеш и
// только затем переключает снимок в памяти. Если пакет невалиден или
// сохранение не удалось, текущий снимок не меняется.
func (c *Context) Replace(ctx context.Context, batch *Batch) (*Snapshot, error) {
	if batch == nil {
		return nil, shared.NewDomainError("roster", "Replace", shared.ErrInvalidInput, "batch is nil")
	}

	snap, err := newSnapshot(batch)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.repo != nil {
		if err := c.repo.SaveBatch(ctx, snap.Batch); err != nil {
			return nil, shared.WrapError("roster", "Replace", shared.ErrServiceUnavailable, "failed to persist batch", err)
		}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, snap.Batch); err != nil {
			// Устаревший кеш хуже пустого.
			c.onError("replace.cache", err)
			if err := c.cache.Invalidate(ctx); err != nil {
				c.onError("replace.invalidate", err)
			}
		}
	}

	c.store(snap)
	return snap, nil
}

// Clear сбрасывает текущий состав в памяти и в кеше.
// История пакетов в хранилище сохраняется.
func (c *Context) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.repo != nil {
		if err := c.repo.ClearCurrent(ctx); err != nil {
			return shared.WrapError("roster", "Clear", shared.ErrServiceUnavailable, "failed to clear current batch", err)
		}
	}
	if c.cache != nil {
		if err := c.cache.Invalidate(ctx); err != nil {
			return shared.WrapError("roster", "Clear", shared.ErrServiceUnavailable, "failed to invalidate cache", err)
		}
	}
	c.store(nil)
	return nil
}

// Refresh сверяет снимок в памяти с текущим пакетом хранилища и
// переключается, если другой экземпляр заменил или сбросил состав.
// Возвращает true, если снимок изменился. Кеш не трогает.
func (c *Context) Refresh(ctx context.Context) (bool, error) {
	if c.repo == nil {
		return false, nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	batch, err := c.repo.LatestBatch(ctx)
	if err != nil {
		if !shared.IsNotFound(err) {
			return false, shared.WrapError("roster", "Refresh", shared.ErrServiceUnavailable, "failed to load latest batch", err)
		}
		if !c.Loaded() {
			return false, nil
		}
		c.store(nil)
		return true, nil
	}

	if cur := c.currentBatchID(); cur == batch.ID {
		return false, nil
	}

	snap, err := newSnapshot(batch)
	if err != nil {
		return false, err
	}
	c.store(snap)
	return true, nil
}

func (c *Context) currentBatchID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return ""
	}
	return c.current.Batch.ID
}

// Snapshot возвращает текущий снимок или ErrRosterNotLoaded.
func (c *Context) Snapshot() (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, shared.ErrRosterNotLoaded
	}
	return c.current, nil
}

// Roster возвращает текущий состав; пустой, если ничего не загружено.
func (c *Context) Roster() *Roster {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Empty()
	}
	return c.current.Roster
}

// Loaded сообщает, есть ли текущий состав.
func (c *Context) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

func (c *Context) store(s *Snapshot) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}

func newSnapshot(batch *Batch) (*Snapshot, error) {
	r, err := batch.Roster()
	if err != nil {
		return nil, err
	}
	// Снимок держит собственную копию записей.
	b := *batch
	b.Records = r.Records()
	return &Snapshot{Batch: &b, Roster: r}, nil
}
