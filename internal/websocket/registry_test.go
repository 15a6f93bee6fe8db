package websocket

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"parley/pkg/types"
)

type mockConnection struct {
	mu      sync.Mutex
	session types.UserSession
	authed  bool
	closed  bool
}

func newMockConnection(userID, token string) *mockConnection {
	return &mockConnection{session: types.UserSession{UserID: userID, Token: token, Role: types.RoleHuman}, authed: true}
}

func (m *mockConnection) WriteJSON(any) error { return nil }

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConnection) GetUserID() string     { return m.session.UserID }
func (m *mockConnection) GetRole() types.Role   { return m.session.Role }
func (m *mockConnection) GetSessionID() string  { return m.session.SessionID }
func (m *mockConnection) GetToken() string      { return m.session.Token }
func (m *mockConnection) IsAuthenticated() bool { return m.authed }

func (m *mockConnection) SetCredentials(s types.UserSession) error {
	m.session = s
	m.authed = true
	return nil
}

func TestRegistry_RegisterValidation(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	req.ErrorIs(r.RegisterConnection(nil), ErrNilConnection)
	anon := newMockConnection("alice", "t1")
	anon.authed = false
	req.ErrorIs(r.RegisterConnection(anon), ErrConnectionNotAuthenticated)
	req.Zero(r.Count())
}

func TestRegistry_MultipleConnectionsPerUser(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	tab1 := newMockConnection("alice", "t1")
	tab2 := newMockConnection("alice", "t1")
	phone := newMockConnection("alice", "t2")

	for _, c := range []*mockConnection{tab1, tab2, phone} {
		req.NoError(r.RegisterConnection(c))
	}
	req.Equal(3, r.Count())
	req.Len(r.UserConnections("alice"), 3)

	r.UnregisterConnection(tab2)
	r.UnregisterConnection(tab2)
	req.Equal(2, r.Count())
}

func TestRegistry_CloseToken(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	a := newMockConnection("alice", "t1")
	b := newMockConnection("alice", "t2")
	req.NoError(r.RegisterConnection(a))
	req.NoError(r.RegisterConnection(b))

	req.Equal(1, r.CloseToken("t1"))
	req.True(a.IsClosed())
	req.False(b.IsClosed())
	req.Zero(r.CloseToken("unknown"))
}

func TestRegistry_CloseUser(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	a := newMockConnection("alice", "t1")
	b := newMockConnection("alice", "t2")
	c := newMockConnection("bob", "t3")
	for _, conn := range []*mockConnection{a, b, c} {
		req.NoError(r.RegisterConnection(conn))
	}

	req.Equal(2, r.CloseUser("alice"))
	req.True(a.IsClosed())
	req.True(b.IsClosed())
	req.False(c.IsClosed())
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newMockConnection("alice", "t1")
			_ = r.RegisterConnection(c)
			_ = r.UserConnections("alice")
			r.UnregisterConnection(c)
		}()
	}
	wg.Wait()
	require.Zero(t, r.Count())
}
