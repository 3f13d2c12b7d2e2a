package access

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY MATCHING
// ══════════════════════════════════════════════════════════════════════════════

// NormalizeName приводит строку к сравнимому виду: снимает диакритику,
// выполняет case folding, заменяет пунктуацию пробелами и схлопывает пробелы.
// "Andrés  López-Díaz" -> "andres lopez diaz".
func NormalizeName(s string) string {
	// transform.Chain хранит состояние, поэтому создаётся на каждый вызов.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)

	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}

// IdentityFragment возвращает нормализованную часть идентификатора до "@".
// Для "andrea.lopez@mail.com" результат - "andrea lopez".
// Пустой результат никогда ничему не соответствует.
func IdentityFragment(identity string) string {
	local := identity
	if i := strings.IndexByte(identity, '@'); i >= 0 {
		local = identity[:i]
	}
	return NormalizeName(local)
}

// IdentityMatcher решает, принадлежит ли запись запрашивающему.
type IdentityMatcher struct {
	// LegacyNameMatch разрешает сопоставление по фрагменту имени для записей
	// без явных связей. При явных связях фрагмент не используется.
	LegacyNameMatch bool
}

// Matches проверяет соответствие личности записи.
//
// Если у записи есть LinkedIdentities, требуется точное (без учёта регистра)
// совпадение идентификатора с одной из связей. Иначе, при включённом
// LegacyNameMatch, нормализованное имя должно содержать фрагмент.
func (m IdentityMatcher) Matches(identity string, rec roster.StudentRecord) bool {
	id := strings.TrimSpace(identity)
	if id == "" {
		return false
	}

	if rec.HasLinks() {
		for _, link := range rec.LinkedIdentities {
			if strings.EqualFold(id, strings.TrimSpace(link)) {
				return true
			}
		}
		return false
	}

	if !m.LegacyNameMatch {
		return false
	}

	fragment := IdentityFragment(id)
	if fragment == "" {
		return false
	}
	return strings.Contains(NormalizeName(rec.Name), fragment)
}
