package auth

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"parley/pkg/interfaces"
	"parley/pkg/types"
)

var fastParams = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type mockUserStore struct {
	mu    sync.Mutex
	users map[string]interfaces.StoredUser
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]interfaces.StoredUser)}
}

func (m *mockUserStore) CreateUser(_ context.Context, u interfaces.StoredUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return types.NewError(types.KindInvalidState, "exists")
	}
	m.users[u.Username] = u
	return nil
}

func (m *mockUserStore) GetUserByUsername(_ context.Context, username string) (interfaces.StoredUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return u, types.NewError(types.KindNotFound, "user not found")
	}
	return u, nil
}

func (m *mockUserStore) GetUser(_ context.Context, id string) (interfaces.StoredUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return interfaces.StoredUser{}, types.NewError(types.KindNotFound, "user not found")
}

func (m *mockUserStore) DeleteUser(context.Context, string) error { return nil }

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("correct horse", fastParams)
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	ok, err := ComparePassword("correct horse", hash)
	req.NoError(err)
	req.True(ok)

	ok, err = ComparePassword("wrong horse", hash)
	req.NoError(err)
	req.False(ok)

	other, err := HashPassword("correct horse", fastParams)
	req.NoError(err)
	req.NotEqual(hash, other, "salts differ")
}

func TestComparePassword_RejectsMalformedHash(t *testing.T) {
	for _, h := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA", "$argon2id$v=19$m=1,t=1,p=1$!!$aGFzaA"} {
		_, err := ComparePassword("pw", h)
		require.ErrorIs(t, err, ErrInvalidHash, h)
	}
}

func TestNewToken(t *testing.T) {
	req := require.New(t)
	a, err := NewToken()
	req.NoError(err)
	b, err := NewToken()
	req.NoError(err)
	req.Len(a, 64)
	req.NotEqual(a, b)
}

func TestService_RegisterAndLogin(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc := NewService(newMockUserStore()).WithParams(fastParams)

	user, err := svc.Register(ctx, Credentials{Username: "alice", Password: "password1"}, types.RoleHuman)
	req.NoError(err)
	req.NotEmpty(user.ID)

	got, token, err := svc.Login(ctx, Credentials{Username: "alice", Password: "password1"})
	req.NoError(err)
	req.Equal(user, got)
	req.Len(token, 64)

	_, _, err = svc.Login(ctx, Credentials{Username: "alice", Password: "nope-nope"})
	req.ErrorIs(err, ErrInvalidCredentials)
	req.Equal(types.KindUnauthenticated, types.KindOf(err))

	_, _, err = svc.Login(ctx, Credentials{Username: "nobody", Password: "password1"})
	req.ErrorIs(err, ErrInvalidCredentials)
}

func TestService_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore()).WithParams(fastParams)

	cases := []struct {
		name  string
		creds Credentials
		role  types.Role
	}{
		{"short password", Credentials{"alice", "short"}, types.RoleHuman},
		{"bad username", Credentials{"al ice", "password1"}, types.RoleHuman},
		{"unknown role", Credentials{"alice", "password1"}, types.Role("GUEST")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.creds, tc.role)
			require.ErrorIs(t, err, types.ErrValidation)
		})
	}
}
