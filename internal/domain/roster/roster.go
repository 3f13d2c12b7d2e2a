package roster

import (
	"fmt"

	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// Roster - упорядоченный неизменяемый состав. Никакие две записи
// не имеют одинакового ID. Состав заменяется целиком, а не частично.
type Roster struct {
	records []StudentRecord
	index   map[int]int
}

// New создаёт состав, проверяя уникальность ID и инварианты каждой записи.
// Записи копируются, поэтому дальнейшие изменения входного среза не влияют на состав.
func New(records []StudentRecord) (*Roster, error) {
	r := &Roster{
		records: make([]StudentRecord, 0, len(records)),
		index:   make(map[int]int, len(records)),
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.index[rec.ID]; dup {
			return nil, shared.WrapError("roster", "New", shared.ErrAlreadyExists,
				fmt.Sprintf("student id %d appears more than once", rec.ID), shared.ErrDuplicateStudent)
		}
		r.index[rec.ID] = len(r.records)
		r.records = append(r.records, rec.clone())
	}
	return r, nil
}

// Empty возвращает пустой состав.
func Empty() *Roster {
	return &Roster{index: map[int]int{}}
}

// Find ищет запись по ID.
func (r *Roster) Find(id int) (StudentRecord, bool) {
	if r == nil {
		return StudentRecord{}, false
	}
	i, ok := r.index[id]
	if !ok {
		return StudentRecord{}, false
	}
	return r.records[i].clone(), true
}

// Records возвращает копию записей в исходном порядке.
func (r *Roster) Records() []StudentRecord {
	if r == nil {
		return nil
	}
	out := make([]StudentRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.clone()
	}
	return out
}

// Filter возвращает записи, для которых keep вернул true, сохраняя порядок.
func (r *Roster) Filter(keep func(StudentRecord) bool) []StudentRecord {
	if r == nil {
		return nil
	}
	var out []StudentRecord
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec.clone())
		}
	}
	return out
}

// Len возвращает количество записей.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}
