package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

func exampleRoster(t *testing.T) *roster.Roster {
	t.Helper()
	r, err := roster.New([]roster.StudentRecord{
		{ID: 1, Name: "Andrea Lopez"},
		{ID: 2, Name: "Marco Diaz"},
	})
	require.NoError(t, err)
	return r
}

func legacyResolver() *Resolver {
	return NewResolver(nil, IdentityMatcher{LegacyNameMatch: true})
}

func TestResolve_Example(t *testing.T) {
	rs := exampleRoster(t)
	res := legacyResolver()
	alumno := &Session{Role: RoleAlumno, Identity: "andrea.lopez@mail.com"}
	admin := &Session{Role: RoleAdmin, Identity: "director@mail.com"}

	rec, err := res.Resolve(alumno, "1", rs)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ID)

	_, err = res.Resolve(alumno, "2", rs)
	assert.True(t, shared.IsForbidden(err))

	rec, err = res.Resolve(admin, "2", rs)
	require.NoError(t, err)
	assert.Equal(t, "Marco Diaz", rec.Name)
}

func TestResolve_ErrorTaxonomy(t *testing.T) {
	rs := exampleRoster(t)
	res := legacyResolver()

	tests := []struct {
		name    string
		session *Session
		id      string
		check   func(error) bool
	}{
		{"no session", nil, "1", shared.IsUnauthenticated},
		{"unknown role", &Session{Role: RoleUnknown, Identity: "andrea.lopez@mail.com"}, "1", shared.IsForbidden},
		{"unknown role beats bad id", &Session{Role: Role(42)}, "abc", shared.IsForbidden},
		{"non-numeric id", &Session{Role: RoleDocente}, "abc", shared.IsValidation},
		{"float id", &Session{Role: RoleAdmin}, "1.0", shared.IsValidation},
		{"padded id", &Session{Role: RoleAdmin}, " 1", shared.IsValidation},
		{"plus sign", &Session{Role: RoleAdmin}, "+1", shared.IsValidation},
		{"empty id", &Session{Role: RoleAdmin}, "", shared.IsValidation},
		{"absent id", &Session{Role: RoleAdmin}, "3", shared.IsNotFound},
		{"absent id self-service", &Session{Role: RolePadre, Identity: "andrea@mail.com"}, "3", shared.IsNotFound},
		{"mismatch", &Session{Role: RolePadre, Identity: "marco@mail.com"}, "1", shared.IsForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := res.Resolve(tt.session, tt.id, rs)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
		})
	}
}

func TestResolve_MismatchIsDistinctFromNotFound(t *testing.T) {
	rs := exampleRoster(t)
	_, err := legacyResolver().Resolve(&Session{Role: RoleAlumno, Identity: "andrea.lopez@mail.com"}, "2", rs)

	assert.True(t, shared.IsForbidden(err))
	assert.False(t, shared.IsNotFound(err))
	assert.ErrorIs(t, err, shared.ErrIdentityMismatch)
}

func TestResolve_EmptyFragmentDenied(t *testing.T) {
	rs := exampleRoster(t)
	for _, identity := range []string{"", "@mail.com", "...@mail.com"} {
		_, err := legacyResolver().Resolve(&Session{Role: RoleAlumno, Identity: identity}, "1", rs)
		assert.True(t, shared.IsForbidden(err), identity)
	}
}

func TestResolve_ExplicitLinksOverrideNameMatch(t *testing.T) {
	rs, err := roster.New([]roster.StudentRecord{
		{ID: 1, Name: "Andrea Lopez", LinkedIdentities: []string{"mama.andrea@mail.com", "a.lopez@school.mx"}},
		{ID: 2, Name: "Andrea Lopezana"},
	})
	require.NoError(t, err)
	res := legacyResolver()

	// Name fragment alone is not enough once links exist.
	_, err = res.Resolve(&Session{Role: RoleAlumno, Identity: "andrea.lopez@mail.com"}, "1", rs)
	assert.True(t, shared.IsForbidden(err))

	rec, err := res.Resolve(&Session{Role: RolePadre, Identity: "Mama.Andrea@Mail.com"}, "1", rs)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ID)

	// Unlinked records still fall back to the legacy heuristic.
	_, err = res.Resolve(&Session{Role: RoleAlumno, Identity: "andrea.lopez@mail.com"}, "2", rs)
	assert.NoError(t, err)
}

func TestResolve_LegacyMatchDisabled(t *testing.T) {
	rs := exampleRoster(t)
	res := NewResolver(nil, IdentityMatcher{LegacyNameMatch: false})

	_, err := res.Resolve(&Session{Role: RoleAlumno, Identity: "andrea.lopez@mail.com"}, "1", rs)
	assert.True(t, shared.IsForbidden(err))

	_, err = res.Resolve(&Session{Role: RoleDocente}, "1", rs)
	assert.NoError(t, err)
}

func TestResolve_DiacriticsAndCase(t *testing.T) {
	rs, err := roster.New([]roster.StudentRecord{{ID: 7, Name: "José Ángel Núñez"}})
	require.NoError(t, err)

	_, err = legacyResolver().Resolve(&Session{Role: RoleAlumno, Identity: "JOSE_ANGEL@correo.mx"}, "7", rs)
	assert.NoError(t, err)
}

func TestVisible(t *testing.T) {
	rs := exampleRoster(t)
	res := legacyResolver()

	all, err := res.Visible(&Session{Role: RoleDocente}, rs)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := res.Visible(&Session{Role: RoleAlumno, Identity: "marco.diaz@mail.com"}, rs)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, 2, own[0].ID)

	_, err = res.Visible(nil, rs)
	assert.True(t, shared.IsUnauthenticated(err))
}

func TestAuthorize_PolicyTable(t *testing.T) {
	res := legacyResolver()

	scope, err := res.Authorize(&Session{Role: RoleAdmin}, ActionAnalyzeRoster)
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, scope)

	for _, role := range []Role{RoleDocente, RolePadre, RoleAlumno} {
		_, err := res.Authorize(&Session{Role: role}, ActionAnalyzeRoster)
		assert.ErrorIs(t, err, shared.ErrRoleNotAllowed, role.String())
	}

	_, err = res.Authorize(&Session{Role: RoleAlumno}, ActionViewSummary)
	assert.True(t, shared.IsForbidden(err))
}
