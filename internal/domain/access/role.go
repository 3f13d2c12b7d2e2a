// Package access реализует фильтрацию доступа к записям учеников:
// закрытый набор ролей, сессию, сопоставление личности с записью и
// резолвер, решающий, может ли запрашивающий увидеть запись.
package access

import (
	"strings"

	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROLE
// ══════════════════════════════════════════════════════════════════════════════

// Role - закрытое перечисление ролей. Нулевое значение - неизвестная роль.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleDocente
	RolePadre
	RoleAlumno
)

var roleNames = map[Role]string{
	RoleAdmin:   "Admin",
	RoleDocente: "Docente",
	RolePadre:   "Padre",
	RoleAlumno:  "Alumno",
}

// AllRoles возвращает все известные роли.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleDocente, RolePadre, RoleAlumno}
}

// String возвращает каноническое имя роли.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "Unknown"
}

// Valid сообщает, является ли роль одной из четырёх известных.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole - единственный парсер ролей. Регистр и пробелы по краям
// не учитываются. Неизвестное значение даёт RoleUnknown и ошибку.
func ParseRole(s string) (Role, error) {
	trimmed := strings.TrimSpace(s)
	for role, name := range roleNames {
		if strings.EqualFold(trimmed, name) {
			return role, nil
		}
	}
	return RoleUnknown, shared.NewDomainError("access", "ParseRole", shared.ErrInvalidInput, "unknown role "+quote(trimmed))
}

// MarshalText кодирует роль каноническим именем.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText не возвращает ошибку для неизвестных ролей: такая сессия
// декодируется с RoleUnknown и отклоняется резолвером.
func (r *Role) UnmarshalText(text []byte) error {
	role, _ := ParseRole(string(text))
	*r = role
	return nil
}

func quote(s string) string {
	return "\"" + s + "\""
}
