package access

import (
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Action - операция, на которую проверяются права.
type Action int

const (
	ActionViewRecord Action = iota + 1
	ActionListRecords
	ActionViewSummary
	ActionAnalyzeRoster
	ActionClearRoster
)

var actionNames = map[Action]string{
	ActionViewRecord:    "view_record",
	ActionListRecords:   "list_records",
	ActionViewSummary:   "view_summary",
	ActionAnalyzeRoster: "analyze_roster",
	ActionClearRoster:   "clear_roster",
}

// AllActions возвращает все действия в фиксированном порядке.
func AllActions() []Action {
	return []Action{ActionViewRecord, ActionListRecords, ActionViewSummary, ActionAnalyzeRoster, ActionClearRoster}
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

func (s Scope) String() string {
	switch s {
	case ScopeOwn:
		return "own"
	case ScopeAll:
		return "all"
	default:
		return "none"
	}
}

// Scope - объём доступа роли к действию.
type Scope int

const (
	// ScopeNone - действие запрещено.
	ScopeNone Scope = iota
	// ScopeOwn - только записи, принадлежащие запрашивающему.
	ScopeOwn
	// ScopeAll - любые записи.
	ScopeAll
)

// Policy - таблица прав: роль -> действие -> объём.
type Policy map[Role]map[Action]Scope

// DefaultPolicy возвращает стандартную таблицу прав.
func DefaultPolicy() Policy {
	return Policy{
		RoleAdmin: {
			ActionViewRecord:    ScopeAll,
			ActionListRecords:   ScopeAll,
			ActionViewSummary:   ScopeAll,
			ActionAnalyzeRoster: ScopeAll,
			ActionClearRoster:   ScopeAll,
		},
		RoleDocente: {
			ActionViewRecord:  ScopeAll,
			ActionListRecords: ScopeAll,
			ActionViewSummary: ScopeAll,
		},
		RolePadre: {
			ActionViewRecord:  ScopeOwn,
			ActionListRecords: ScopeOwn,
		},
		RoleAlumno: {
			ActionViewRecord:  ScopeOwn,
			ActionListRecords: ScopeOwn,
		},
	}
}

// ScopeFor возвращает объём доступа; для неизвестной роли - ScopeNone.
func (p Policy) ScopeFor(role Role, action Action) Scope {
	actions, ok := p[role]
	if !ok {
		return ScopeNone
	}
	return actions[action]
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// Resolver - чистая детерминированная функция доступа к записям.
// Не изменяет состав и не имеет побочных эффектов.
type Resolver struct {
	policy  Policy
	matcher IdentityMatcher
}

// NewResolver создаёт резолвер. Пустая policy заменяется DefaultPolicy.
func NewResolver(policy Policy, matcher IdentityMatcher) *Resolver {
	if len(policy) == 0 {
		policy = DefaultPolicy()
	}
	return &Resolver{policy: policy, matcher: matcher}
}

// Authorize проверяет сессию и возвращает объём доступа к действию.
// Порядок проверок: нет сессии -> Unauthenticated; неизвестная роль -> Forbidden;
// действие не разрешено -> Forbidden.
func (r *Resolver) Authorize(session *Session, action Action) (Scope, error) {
	if session == nil {
		return ScopeNone, shared.ErrNoSession
	}
	if !session.Role.Valid() {
		return ScopeNone, shared.ErrUnknownRole
	}
	scope := r.policy.ScopeFor(session.Role, action)
	if scope == ScopeNone {
		return ScopeNone, shared.ErrRoleNotAllowed
	}
	return scope, nil
}

// Resolve возвращает запись ученика rawID, если сессия имеет к ней доступ.
//
// Ошибки различимы через errors.Is: ErrUnauthenticated (нет сессии),
// ErrForbidden (неизвестная роль или чужая запись), ErrInvalidID
// (нечисловой ID), ErrNotFound (ID отсутствует в составе).
func (r *Resolver) Resolve(session *Session, rawID string, rs *roster.Roster) (roster.StudentRecord, error) {
	scope, err := r.Authorize(session, ActionViewRecord)
	if err != nil {
		return roster.StudentRecord{}, err
	}

	id, err := ParseStudentID(rawID)
	if err != nil {
		return roster.StudentRecord{}, err
	}

	rec, ok := rs.Find(id)
	if !ok {
		return roster.StudentRecord{}, shared.ErrStudentNotFound
	}

	if scope == ScopeAll {
		return rec, nil
	}
	if r.matcher.Matches(session.Identity, rec) {
		return rec, nil
	}
	return roster.StudentRecord{}, shared.ErrIdentityMismatch
}

// Visible возвращает записи, которые сессия может просматривать, в порядке состава.
func (r *Resolver) Visible(session *Session, rs *roster.Roster) ([]roster.StudentRecord, error) {
	scope, err := r.Authorize(session, ActionListRecords)
	if err != nil {
		return nil, err
	}
	if scope == ScopeAll {
		return rs.Records(), nil
	}
	return rs.Filter(func(rec roster.StudentRecord) bool {
		return r.matcher.Matches(session.Identity, rec)
	}), nil
}
