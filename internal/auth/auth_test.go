package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct{ users []User }

func (m *memRepo) LoadAll() ([]User, error) { return append([]User{}, m.users...), nil }
func (m *memRepo) Upsert(u User) error {
	for i, x := range m.users {
		if x.Username == u.Username {
			m.users[i] = u
			return nil
		}
	}
	m.users = append(m.users, u)
	return nil
}
func (m *memRepo) Remove(name string) error {
	out := make([]User, 0, len(m.users))
	for _, x := range m.users {
		if x.Username != name {
			out = append(out, x)
		}
	}
	m.users = out
	return nil
}

func TestServiceBasic(t *testing.T) {
	repo := &memRepo{users: []User{{Username: "alice"}}}
	svc, err := NewWithRepo(repo, Options{InitialUsers: []string{"Bob"}})
	require.NoError(t, err)

	assert.True(t, svc.IsAllowed("alice"), "repo preload")
	assert.True(t, svc.IsAllowed("bob"), "initial list, case-insensitive")
	assert.False(t, svc.IsAllowed("carol"))

	require.NoError(t, svc.Upsert(User{Username: "carol"}))
	assert.True(t, svc.IsAllowed("carol"))

	require.NoError(t, svc.Remove("alice"))
	assert.False(t, svc.IsAllowed("alice"))
	assert.Len(t, repo.users, 1)

	lst := svc.List()
	require.Len(t, lst, 2)
	assert.Equal(t, "Bob", lst[0].Username)
	assert.Equal(t, "carol", lst[1].Username)
}

func TestServiceDomains(t *testing.T) {
	svc, err := NewWithRepo(nil, Options{Domains: []string{"@Example.com"}})
	require.NoError(t, err)

	assert.True(t, svc.IsAllowed("someone@example.com"))
	assert.False(t, svc.IsAllowed("someone@other.com"))
	assert.False(t, svc.IsAllowed("no-domain"))
}

func TestServiceOpenWhenNothingConfigured(t *testing.T) {
	svc, err := NewWithRepo(nil, Options{})
	require.NoError(t, err)
	assert.NoError(t, svc.Authenticate("anyone", ""))
	assert.ErrorIs(t, svc.Authenticate("  ", ""), ErrInvalidCredentials)
	assert.True(t, svc.Open())
}

func TestServiceNotOpen(t *testing.T) {
	for name, opts := range map[string]Options{
		"users":    {InitialUsers: []string{"admin"}},
		"domains":  {Domains: []string{"example.com"}},
		"password": {Password: "pw"},
	} {
		t.Run(name, func(t *testing.T) {
			svc, err := NewWithRepo(nil, opts)
			require.NoError(t, err)
			assert.False(t, svc.Open())
		})
	}

	svc, err := NewWithRepo(nil, Options{})
	require.NoError(t, err)
	require.NoError(t, svc.Upsert(User{Username: "carol"}))
	assert.False(t, svc.Open())
	require.NoError(t, svc.Remove("carol"))
	assert.True(t, svc.Open())
}

func TestAuthenticatePassword(t *testing.T) {
	svc, err := NewWithRepo(nil, Options{InitialUsers: []string{"alice"}, Password: "s3cret"})
	require.NoError(t, err)

	assert.NoError(t, svc.Authenticate("alice", "s3cret"))
	assert.ErrorIs(t, svc.Authenticate("alice", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, svc.Authenticate("mallory", "s3cret"), ErrInvalidCredentials)
}

func TestFileRepository(t *testing.T) {
	p := filepath.Join(t.TempDir(), "data", "allowlist.json")
	repo, err := NewFileRepository(p)
	require.NoError(t, err)

	users, err := repo.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, users, "fresh file is empty")

	require.NoError(t, repo.Upsert(User{Username: "alice"}))
	require.NoError(t, repo.Upsert(User{Username: "bob"}))
	require.NoError(t, repo.Upsert(User{Username: "Alice", DisplayName: "Alice A."}))
	require.NoError(t, repo.Remove("bob"))

	users, err = repo.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []User{{Username: "Alice", DisplayName: "Alice A."}}, users)

	svc, err := NewWithRepo(repo, Options{})
	require.NoError(t, err)
	assert.True(t, svc.IsAllowed("alice"))
}

func TestFileRepositoryMalformed(t *testing.T) {
	p := filepath.Join(t.TempDir(), "allowlist.json")
	require.NoError(t, os.WriteFile(p, []byte("{not a list"), 0o644))
	repo, err := NewFileRepository(p)
	require.NoError(t, err)

	users, err := repo.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, repo.Upsert(User{Username: "bob"}))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"username":"bob"}]`, string(data))
}

func TestIssuerRoundTrip(t *testing.T) {
	iss, err := NewIssuer("secret", 0)
	require.NoError(t, err)

	token, err := iss.Issue("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	sub, err := iss.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestIssuerRejects(t *testing.T) {
	iss, err := NewIssuer("secret", 0)
	require.NoError(t, err)
	other, err := NewIssuer("other", 0)
	require.NoError(t, err)

	token, err := other.Issue("alice")
	require.NoError(t, err)
	_, err = iss.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewIssuer("secret", -time.Hour)
	require.NoError(t, err)
	token, err = expired.Issue("alice")
	require.NoError(t, err)
	_, err = iss.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = NewIssuer("", 0)
	assert.Error(t, err)
}
