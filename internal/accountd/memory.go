package accountd

import (
	"context"
	"strings"
	"sync"

	"github.com/dmitrijs2005/gophnotes/internal/common"
)

// MemoryStore keeps accounts in process memory. It backs tests and the
// zero-config development server.
type MemoryStore struct {
	txMu sync.Mutex

	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
	tokens  map[string]*RefreshToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		tokens:  make(map[string]*RefreshToken),
	}
}

func (m *MemoryStore) Users() UserRepository                 { return (*memUsers)(m) }
func (m *MemoryStore) RefreshTokens() RefreshTokenRepository { return (*memTokens)(m) }

// InTx serializes fn against other InTx calls. Partial writes are not
// rolled back; fn bodies in this package only fail before their writes.
func (m *MemoryStore) InTx(ctx context.Context, fn func(context.Context, UserRepository, RefreshTokenRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, m.Users(), m.RefreshTokens())
}

type memUsers MemoryStore

func normEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

func (r *memUsers) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := normEmail(user.Email)
	if _, ok := r.byEmail[email]; ok {
		return common.ErrAlreadyExists
	}
	u := *user
	r.users[u.ID] = &u
	r.byEmail[email] = u.ID
	return nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[normEmail(email)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u := *r.users[id]
	return &u, nil
}

func (r *memUsers) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) Update(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.users[user.ID]
	if !ok {
		return common.ErrorNotFound
	}
	newEmail := normEmail(user.Email)
	if oldEmail := normEmail(old.Email); newEmail != oldEmail {
		if _, taken := r.byEmail[newEmail]; taken {
			return common.ErrAlreadyExists
		}
		delete(r.byEmail, oldEmail)
		r.byEmail[newEmail] = user.ID
	}
	u := *user
	r.users[user.ID] = &u
	return nil
}

type memTokens MemoryStore

func (r *memTokens) Create(_ context.Context, token *RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := *token
	r.tokens[t.Token] = &t
	return nil
}

func (r *memTokens) Find(_ context.Context, token string) (*RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTokens) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}

func (r *memTokens) DeleteForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, t := range r.tokens {
		if t.UserID == userID {
			delete(r.tokens, k)
		}
	}
	return nil
}
