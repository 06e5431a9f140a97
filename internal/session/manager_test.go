package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/account"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/kv"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

/*************
 * Fakes
 *************/

type fakeAccounts struct {
	mu sync.Mutex

	password string
	calls    atomic.Int32

	refreshCalls atomic.Int32
	refreshGate  chan struct{}
	refreshErr   error
	refreshExp   time.Time

	signOutTokens []string
	expiresAt     time.Time
}

func (f *fakeAccounts) session(email string) *models.Session {
	return &models.Session{
		AccessToken:  "A-" + email,
		RefreshToken: "R1",
		ExpiresAt:    f.expiresAt.Unix(),
		UserID:       "uid-" + email,
	}
}

func (f *fakeAccounts) SignUp(_ context.Context, email, _ string) (*models.Session, error) {
	f.calls.Add(1)
	return f.session(email), nil
}

func (f *fakeAccounts) SignInWithPassword(_ context.Context, email, password string) (*models.Session, error) {
	f.calls.Add(1)
	if password != f.password {
		return nil, common.ErrAuthentication
	}
	return f.session(email), nil
}

func (f *fakeAccounts) SignInWithOAuth(_ context.Context, provider, _ string) (string, error) {
	return "https://auth/" + provider, nil
}

func (f *fakeAccounts) SignOut(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutTokens = append(f.signOutTokens, token)
	return errors.New("remote down")
}

func (f *fakeAccounts) ResetPasswordForEmail(context.Context, string) error { return nil }

func (f *fakeAccounts) UpdateUser(_ context.Context, token string, attrs account.UserAttributes) (*models.User, error) {
	return &models.User{ID: "u"}, nil
}

func (f *fakeAccounts) RefreshSession(_ context.Context, refresh string) (*models.Session, error) {
	f.refreshCalls.Add(1)
	if f.refreshGate != nil {
		<-f.refreshGate
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &models.Session{AccessToken: "A2", RefreshToken: "R2", ExpiresAt: f.refreshExp.Unix()}, nil
}

type fakeKeys struct {
	mu         sync.Mutex
	inits      []string
	passwords  [][]byte
	cleanups   int
	initErr    error
	createdKey bool
}

func (f *fakeKeys) Initialize(_ context.Context, password []byte, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return false, f.initErr
	}
	f.inits = append(f.inits, userID)
	f.passwords = append(f.passwords, password)
	return f.createdKey, nil
}

func (f *fakeKeys) Cleanup(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
}

// failingStore отказывает в записи одного ключа.
type failingStore struct {
	kv.Store
	key string
}

func (s failingStore) Set(ctx context.Context, key string, value []byte) error {
	if key == s.key {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

type fixture struct {
	m         *Manager
	clk       *quartz.Mock
	accounts  *fakeAccounts
	keys      *fakeKeys
	durable   kv.Store
	ephemeral kv.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(start)
	f := &fixture{
		clk:       clk,
		accounts:  &fakeAccounts{password: "Correct-Horse1!", expiresAt: start.Add(time.Hour)},
		keys:      &fakeKeys{},
		durable:   kv.NewMemoryStore(),
		ephemeral: kv.NewMemoryStore(),
	}
	f.m = NewManager(DefaultConfig(), f.accounts, f.keys, f.durable, f.ephemeral, clk, logging.Nop())
	t.Cleanup(f.m.Close)
	return f
}

/*************
 * Tests
 *************/

func TestSignIn_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.m.Subscribe(ctx)

	s, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)
	assert.Equal(t, "uid-u@x.io", s.UserID)
	assert.Equal(t, StateSignedIn, f.m.State())
	assert.True(t, f.m.IsAuthenticated())

	// encryption initialized with the deterministic password
	require.Equal(t, []string{"uid-u@x.io"}, f.keys.inits)
	assert.Equal(t, EncryptionPassword("u@x.io", "uid-u@x.io"), f.keys.passwords[0])

	var persisted models.Session
	found, err := kv.GetJSON(ctx, f.ephemeral, "session", &persisted)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, start.UnixMilli(), persisted.StoredAt)

	last, err := f.m.LastActivity(ctx)
	require.NoError(t, err)
	assert.True(t, start.Equal(last))

	ev := <-sub.C()
	assert.Equal(t, EventSignedIn, ev.Kind)
	assert.Equal(t, "u@x.io", ev.Identity)
}

func TestSignUp_PolicyCheckedBeforeNetwork(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.SignUp(context.Background(), "u@x.io", "short1!")
	require.ErrorIs(t, err, common.ErrPolicyViolation)
	assert.Equal(t, int32(0), f.accounts.calls.Load())
}

func TestSignUp_Success(t *testing.T) {
	f := newFixture(t)
	f.keys.createdKey = true
	sub := f.m.Subscribe(context.Background())

	_, err := f.m.SignUp(context.Background(), "new@x.io", "Correct-Horse1!")
	require.NoError(t, err)

	assert.Equal(t, EventKeyCreated, (<-sub.C()).Kind)
	assert.Equal(t, EventSignedUp, (<-sub.C()).Kind)
}

func TestLockout_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		_, err := f.m.SignIn(ctx, "u@x.io", "wrong")
		require.ErrorIs(t, err, common.ErrAuthentication)
		f.clk.Advance(time.Minute)
	}
	require.Equal(t, int32(5), f.accounts.calls.Load())

	// шестая попытка, даже с верным паролем, блокируется без сетевого вызова
	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.ErrorIs(t, err, common.ErrLockout)
	assert.Equal(t, int32(5), f.accounts.calls.Load())

	// other identities are not affected
	_, err = f.m.SignIn(ctx, "other@x.io", "Correct-Horse1!")
	require.NoError(t, err)
	require.NoError(t, f.m.SignOut(ctx))

	// first failure was at 12:00; at 12:15 it is exactly 15 minutes old
	f.clk.Set(start.Add(15 * time.Minute))
	_, err = f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)

	// success clears the ledger
	raw, err := f.durable.Get(ctx, "failed_attempts_u@x.io")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestLockout_StillLockedInsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		_, _ = f.m.SignIn(ctx, "u@x.io", "wrong")
	}
	f.clk.Set(start.Add(15*time.Minute - time.Millisecond))
	locked, err := f.m.IsLockedOut(ctx, "u@x.io")
	require.NoError(t, err)
	assert.True(t, locked)

	f.clk.Set(start.Add(15 * time.Minute))
	locked, err = f.m.IsLockedOut(ctx, "u@x.io")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLockout_StoredAsEpochMillis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _ = f.m.SignIn(ctx, "u@x.io", "wrong")
	raw, err := f.durable.Get(ctx, "failed_attempts_u@x.io")
	require.NoError(t, err)
	assert.JSONEq(t, `[1704110400000]`, string(raw))
}

func TestLock_Forced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.m.Lock(ctx, "u@x.io", start.Add(10*time.Minute)))
	// earlier deadline does not shorten the lock
	require.NoError(t, f.m.Lock(ctx, "u@x.io", start.Add(time.Minute)))

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.ErrorIs(t, err, common.ErrLockout)

	f.clk.Set(start.Add(10 * time.Minute))
	_, err = f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)
}

func TestSignOut_ClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)

	// remote failure does not block local sign-out
	require.NoError(t, f.m.SignOut(ctx))

	assert.Equal(t, StateSignedOut, f.m.State())
	assert.Nil(t, f.m.Session())
	assert.Equal(t, 1, f.keys.cleanups)
	assert.Equal(t, []string{"A-u@x.io"}, f.accounts.signOutTokens)

	all, err := f.ephemeral.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSignIn_EncryptionFailureLeavesSignedOut(t *testing.T) {
	f := newFixture(t)
	f.keys.initErr = common.ErrUnsupportedEnvironment

	_, err := f.m.SignIn(context.Background(), "u@x.io", "Correct-Horse1!")
	require.ErrorIs(t, err, common.ErrUnsupportedEnvironment)
	assert.Equal(t, StateSignedOut, f.m.State())
	assert.Nil(t, f.m.Session())
}

func TestRefreshIfNeeded_Window(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.accounts.refreshExp = start.Add(2 * time.Hour)

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)

	// expires at 13:00; at 12:55 exactly 5 minutes remain, no refresh yet
	f.clk.Set(start.Add(55 * time.Minute))
	refreshed, err := f.m.RefreshIfNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, int32(0), f.accounts.refreshCalls.Load())

	f.clk.Set(start.Add(55*time.Minute + time.Millisecond))
	refreshed, err = f.m.RefreshIfNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, refreshed)

	s := f.m.Session()
	assert.Equal(t, "A2", s.AccessToken)
	assert.Equal(t, "uid-u@x.io", s.UserID)
}

func TestRefreshIfNeeded_FailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.accounts.refreshErr = common.ErrUnavailable

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)

	f.clk.Set(start.Add(58 * time.Minute))
	_, err = f.m.RefreshIfNeeded(ctx)
	require.ErrorIs(t, err, common.ErrUnavailable)
	assert.True(t, f.m.IsAuthenticated())
	assert.Equal(t, "A-u@x.io", f.m.Session().AccessToken)
}

func TestRefreshIfNeeded_Deduplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.accounts.refreshExp = start.Add(2 * time.Hour)

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)
	f.clk.Set(start.Add(58 * time.Minute))

	f.accounts.refreshGate = make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.RefreshIfNeeded(ctx)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return f.accounts.refreshCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.accounts.refreshGate)
	wg.Wait()

	assert.Equal(t, int32(1), f.accounts.refreshCalls.Load())
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)

	// a fresh manager over the same stores picks the session up
	other := NewManager(DefaultConfig(), f.accounts, f.keys, f.durable, f.ephemeral, f.clk, logging.Nop())
	defer other.Close()
	ok, err := other.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, other.IsAuthenticated())
	assert.Len(t, f.keys.inits, 2)

	f.clk.Set(start.Add(2 * time.Hour))
	third := NewManager(DefaultConfig(), f.accounts, f.keys, f.durable, f.ephemeral, f.clk, logging.Nop())
	defer third.Close()
	ok, err = third.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := f.ephemeral.Get(ctx, "session")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestUpdatePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.ErrorIs(t, f.m.UpdatePassword(ctx, "N3w-Password!"), common.ErrNotAuthenticated)
	require.ErrorIs(t, f.m.UpdatePassword(ctx, "weak"), common.ErrPolicyViolation)

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)
	require.NoError(t, f.m.UpdatePassword(ctx, "N3w-Password!"))
}

func TestSignInWithOAuth(t *testing.T) {
	f := newFixture(t)
	u, err := f.m.SignInWithOAuth(context.Background(), "github", "")
	require.NoError(t, err)
	assert.Equal(t, "https://auth/github", u)
}

func TestLockout_IdentityIsCanonical(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		_, err := f.m.SignIn(ctx, "u@x.io", "wrong")
		require.ErrorIs(t, err, common.ErrAuthentication)
	}

	for _, spelling := range []string{"U@x.io", "U@X.IO", " u@x.io", "u@x.io\t"} {
		_, err := f.m.SignIn(ctx, spelling, "Correct-Horse1!")
		require.ErrorIs(t, err, common.ErrLockout, spelling)

		locked, err := f.m.IsLockedOut(ctx, spelling)
		require.NoError(t, err)
		assert.True(t, locked, spelling)
	}
	assert.Equal(t, int32(5), f.accounts.calls.Load())

	// failures under different spellings share one ledger
	g := newFixture(t)
	for _, spelling := range []string{"a@x.io", "A@x.io", " a@X.io", "A@X.IO", "a@x.io "} {
		_, _ = g.m.SignIn(ctx, spelling, "wrong")
	}
	_, err := g.m.SignIn(ctx, "a@x.io", "Correct-Horse1!")
	require.ErrorIs(t, err, common.ErrLockout)
}

func TestLock_Canonical(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.m.Lock(ctx, " Mallory@X.io", start.Add(time.Hour)))
	_, err := f.m.SignIn(ctx, "mallory@x.io", "Correct-Horse1!")
	require.ErrorIs(t, err, common.ErrLockout)
	assert.Equal(t, int32(0), f.accounts.calls.Load())
}

func TestOnEvent_ReceivesEveryEventInline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var got []Event
	f.m.OnEvent(func(_ context.Context, ev Event) { got = append(got, ev) })

	const attempts = 200
	for i := 0; i < attempts; i++ {
		_, err := f.m.SignIn(ctx, "Mallory@x.io", "wrong")
		require.Error(t, err)
	}

	// 5 failures, the lockout they cause, then one lockout per blocked attempt
	require.Len(t, got, attempts+1)
	failed := 0
	for _, ev := range got {
		assert.Equal(t, "mallory@x.io", ev.Identity)
		if ev.Kind == EventSignInFailed {
			failed++
		}
	}
	assert.Equal(t, 5, failed)
}

func TestSignIn_RejectedWhileSignedIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.NoError(t, err)

	_, err = f.m.SignIn(ctx, "other@x.io", "Correct-Horse1!")
	require.ErrorIs(t, err, common.ErrAlreadySignedIn)
	_, err = f.m.SignUp(ctx, "new@x.io", "Correct-Horse1!")
	require.ErrorIs(t, err, common.ErrAlreadySignedIn)

	assert.Equal(t, int32(1), f.accounts.calls.Load())
	assert.Equal(t, StateSignedIn, f.m.State())
	assert.Equal(t, "uid-u@x.io", f.m.Session().UserID)
	assert.Equal(t, []string{"uid-u@x.io"}, f.keys.inits)
}

func TestSignIn_ActivityStampFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ephemeral = failingStore{Store: kv.NewMemoryStore(), key: "last_activity"}
	f.m = NewManager(DefaultConfig(), f.accounts, f.keys, f.durable, f.ephemeral, f.clk, logging.Nop())
	t.Cleanup(f.m.Close)

	_, err := f.m.SignIn(ctx, "u@x.io", "Correct-Horse1!")
	require.Error(t, err)
	assert.Equal(t, StateSignedOut, f.m.State())
	assert.Nil(t, f.m.Session())
	assert.Equal(t, 1, f.keys.cleanups)

	raw, err := f.ephemeral.Get(ctx, "session")
	require.NoError(t, err)
	assert.Nil(t, raw)
}
