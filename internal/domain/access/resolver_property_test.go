package access

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

func propertyRoster(n int) *roster.Roster {
	recs := make([]roster.StudentRecord, n)
	for i := range recs {
		recs[i] = roster.StudentRecord{ID: i + 1, Name: fmt.Sprintf("Alumno Numero%d", i+1)}
	}
	r, err := roster.New(recs)
	if err != nil {
		panic(err)
	}
	return r
}

func roleAt(i int) Role { return AllRoles()[i%len(AllRoles())] }

func TestResolverProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	rs := propertyRoster(20)
	res := NewResolver(nil, IdentityMatcher{LegacyNameMatch: true})

	properties.Property("absent ids are not found for every valid role", prop.ForAll(
		func(id int, roleIdx int, identity string) bool {
			s := &Session{Role: roleAt(roleIdx), Identity: identity + "@mail.com"}
			_, err := res.Resolve(s, strconv.Itoa(id), rs)
			return shared.IsNotFound(err)
		},
		gen.IntRange(21, 100000),
		gen.IntRange(0, 3),
		gen.AlphaString(),
	))

	properties.Property("admin and docente always get the exact record", prop.ForAll(
		func(id int, docente bool) bool {
			role := RoleAdmin
			if docente {
				role = RoleDocente
			}
			rec, err := res.Resolve(&Session{Role: role}, strconv.Itoa(id), rs)
			return err == nil && rec.ID == id
		},
		gen.IntRange(1, 20),
		gen.Bool(),
	))

	properties.Property("self-service succeeds only on own record", prop.ForAll(
		func(own int, target int, padre bool) bool {
			role := RoleAlumno
			if padre {
				role = RolePadre
			}
			s := &Session{Role: role, Identity: fmt.Sprintf("alumno.numero%d@mail.com", own)}
			rec, err := res.Resolve(s, strconv.Itoa(target), rs)

			// "numero1" is also a fragment of "numero10".."numero19".
			name := strings.ToLower(mustFind(rs, target).Name)
			if strings.Contains(name, "numero"+strconv.Itoa(own)) {
				return err == nil && rec.ID == target
			}
			return shared.IsForbidden(err)
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 20),
		gen.Bool(),
	))

	properties.Property("resolution is deterministic and idempotent", prop.ForAll(
		func(rawID string, roleIdx int, identity string) bool {
			s := &Session{Role: roleAt(roleIdx), Identity: identity}
			a, errA := res.Resolve(s, rawID, rs)
			b, errB := res.Resolve(s, rawID, rs)
			if (errA == nil) != (errB == nil) {
				return false
			}
			if errA != nil {
				return errA.Error() == errB.Error()
			}
			return a.ID == b.ID && a.Name == b.Name
		},
		gen.AlphaString(),
		gen.IntRange(0, 3),
		gen.AlphaString(),
	))

	properties.Property("no session is always denied", prop.ForAll(
		func(id int) bool {
			_, err := res.Resolve(nil, strconv.Itoa(id), rs)
			return shared.IsUnauthenticated(err)
		},
		gen.IntRange(-100, 100),
	))

	properties.Property("non-numeric ids are rejected, never coerced", prop.ForAll(
		func(word string) bool {
			if word == "" {
				return true
			}
			_, err := res.Resolve(&Session{Role: RoleAdmin}, word, rs)
			return shared.IsValidation(err)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func mustFind(rs *roster.Roster, id int) roster.StudentRecord {
	rec, ok := rs.Find(id)
	if !ok {
		panic(fmt.Sprintf("record %d missing", id))
	}
	return rec
}
