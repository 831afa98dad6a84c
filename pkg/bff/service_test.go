package bff_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tutorbff/pkg/backend"
	"tutorbff/pkg/bff"
	"tutorbff/pkg/session"
	"tutorbff/pkg/user"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Call(ctx context.Context, req backend.Request, accessToken string) (*backend.Response, error) {
	args := m.Called(ctx, req, accessToken)
	return args.Get(0).(*backend.Response), args.Error(1)
}

func (m *mockGateway) Refresh(ctx context.Context, refreshToken string) (backend.Tokens, error) {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(backend.Tokens), args.Error(1)
}

func (m *mockGateway) Logout(ctx context.Context, accessToken, refreshToken string) error {
	args := m.Called(ctx, accessToken, refreshToken)
	return args.Error(0)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Create(ctx context.Context, s session.Session) (string, error) {
	args := m.Called(ctx, s)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, ref string) (*session.Session, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(*session.Session), args.Error(1)
}

func (m *mockStore) Update(ctx context.Context, ref string, s session.Session) (string, error) {
	args := m.Called(ctx, ref, s)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

var (
	anyCtx     = mock.Anything
	lessonsReq = backend.Request{Method: http.MethodGet, Path: "/lessons/"}
	noSession  = (*session.Session)(nil)
	noResponse = (*backend.Response)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func status(code int, body string) *backend.Response {
	return &backend.Response{StatusCode: code, Header: http.Header{}, Body: []byte(body)}
}

func seed(t *testing.T, store session.Store, access, refresh string) string {
	t.Helper()
	now := time.Now()
	ref, err := store.Create(context.Background(), session.Session{
		ID:           "sid-1",
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.User{ID: 1, Email: "a@b.com", FullName: "A", Timezone: "UTC", Role: user.RoleStudent},
		IssuedAt:     now.UnixMilli(),
		UpdatedAt:    now.UnixMilli(),
		ExpiresAt:    now.Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	return ref
}

func jwtExpiringIn(t *testing.T, d time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		ExpiresAt: time.Now().Add(d).Unix(),
	}).SignedString([]byte("backend-key"))
	require.NoError(t, err)
	return tok
}

func TestForwardPassesThrough(t *testing.T) {
	store := session.NewMemoryStore()
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger())
	ref := seed(t, store, "acc-1", "ref-1")

	gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusNotFound, `{"detail":"nope"}`), nil).Once()

	res, err := svc.Forward(context.Background(), ref, lessonsReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Response.StatusCode)
	assert.Equal(t, ref, res.Ref)
	assert.False(t, res.Rotated)
	gw.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	gw.AssertExpectations(t)
}

func TestForwardRefreshesOnceAndRetries(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger())

	current := &session.Session{ID: "sid-1", AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}
	store.On("Get", anyCtx, "cookie-1").Return(current, nil).Once()
	store.On("Update", anyCtx, "cookie-1", mock.MatchedBy(func(s session.Session) bool {
		return s.AccessToken == "acc-2" && s.RefreshToken == "ref-2" && s.ID == "sid-1"
	})).Return("cookie-2", nil).Once()

	gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusUnauthorized, ""), nil).Once()
	gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{Access: "acc-2", Refresh: "ref-2"}, nil).Once()
	gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(status(http.StatusOK, `[]`), nil).Once()

	res, err := svc.Forward(context.Background(), "cookie-1", lessonsReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, "cookie-2", res.Ref)
	assert.True(t, res.Rotated)
	assert.Equal(t, "acc-2", res.Session.AccessToken)

	gw.AssertExpectations(t)
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "Update", 1)
	gw.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestForwardKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	store := session.NewMemoryStore()
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger())
	ref := seed(t, store, "acc-1", "ref-1")

	gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusUnauthorized, ""), nil).Once()
	gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{Access: "acc-2"}, nil).Once()
	gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(status(http.StatusOK, `[]`), nil).Once()

	res, err := svc.Forward(context.Background(), ref, lessonsReq)
	require.NoError(t, err)
	assert.False(t, res.Rotated)

	stored, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "acc-2", stored.AccessToken)
	assert.Equal(t, "ref-1", stored.RefreshToken)
}

func TestForwardTerminalFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(gw *mockGateway)
	}{
		{
			name: "refresh rejected",
			setup: func(gw *mockGateway) {
				gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusUnauthorized, ""), nil).Once()
				gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{}, backend.ErrRefreshRejected).Once()
			},
		},
		{
			name: "retry still unauthorized",
			setup: func(gw *mockGateway) {
				gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusUnauthorized, ""), nil).Once()
				gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{Access: "acc-2", Refresh: "ref-2"}, nil).Once()
				gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(status(http.StatusUnauthorized, ""), nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewMemoryStore()
			gw := new(mockGateway)
			svc := bff.NewService(store, gw, testLogger())
			ref := seed(t, store, "acc-1", "ref-1")
			tt.setup(gw)

			res, err := svc.Forward(context.Background(), ref, lessonsReq)
			assert.ErrorIs(t, err, bff.ErrUnauthenticated)
			assert.Nil(t, res)
			assert.Equal(t, 0, store.Len())
			gw.AssertExpectations(t)
			gw.AssertNumberOfCalls(t, "Refresh", 1)
		})
	}
}

func TestForwardTransientFailuresKeepSession(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(gw *mockGateway)
		wantErr error
	}{
		{
			name: "call timeout",
			setup: func(gw *mockGateway) {
				gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(noResponse, backend.ErrTimeout).Once()
			},
			wantErr: backend.ErrTimeout,
		},
		{
			name: "refresh unavailable",
			setup: func(gw *mockGateway) {
				gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusUnauthorized, ""), nil).Once()
				gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{}, backend.ErrUnavailable).Once()
			},
			wantErr: backend.ErrUnavailable,
		},
		{
			name: "retry timeout",
			setup: func(gw *mockGateway) {
				gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusUnauthorized, ""), nil).Once()
				gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{Access: "acc-2"}, nil).Once()
				gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(noResponse, backend.ErrTimeout).Once()
			},
			wantErr: backend.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewMemoryStore()
			gw := new(mockGateway)
			svc := bff.NewService(store, gw, testLogger())
			ref := seed(t, store, "acc-1", "ref-1")
			tt.setup(gw)

			_, err := svc.Forward(context.Background(), ref, lessonsReq)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NotErrorIs(t, err, bff.ErrUnauthenticated)

			_, err = store.Get(context.Background(), ref)
			assert.NoError(t, err)
			gw.AssertExpectations(t)
		})
	}
}

func TestForwardUnknownSession(t *testing.T) {
	store := session.NewMemoryStore()
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger())

	_, err := svc.Forward(context.Background(), "", lessonsReq)
	assert.ErrorIs(t, err, bff.ErrUnauthenticated)

	_, err = svc.Forward(context.Background(), "does-not-exist", lessonsReq)
	assert.ErrorIs(t, err, bff.ErrUnauthenticated)

	gw.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}

func TestForwardStoreFailure(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger())

	store.On("Get", anyCtx, "cookie-1").Return(noSession, errors.New("connection refused"))

	_, err := svc.Forward(context.Background(), "cookie-1", lessonsReq)
	assert.ErrorIs(t, err, bff.ErrStore)
	assert.NotErrorIs(t, err, bff.ErrUnauthenticated)
}

func TestForwardProactiveRefresh(t *testing.T) {
	expiring := jwtExpiringIn(t, 10*time.Second)

	t.Run("refreshes before calling", func(t *testing.T) {
		store := session.NewMemoryStore()
		gw := new(mockGateway)
		svc := bff.NewService(store, gw, testLogger(), bff.WithProactiveRefresh(30*time.Second))
		ref := seed(t, store, expiring, "ref-1")

		gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{Access: "acc-2", Refresh: "ref-2"}, nil).Once()
		gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(status(http.StatusOK, `[]`), nil).Once()

		res, err := svc.Forward(context.Background(), ref, lessonsReq)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.Response.StatusCode)
		gw.AssertNotCalled(t, "Call", mock.Anything, lessonsReq, expiring)
		gw.AssertExpectations(t)
	})

	t.Run("counts as the only refresh", func(t *testing.T) {
		store := session.NewMemoryStore()
		gw := new(mockGateway)
		svc := bff.NewService(store, gw, testLogger(), bff.WithProactiveRefresh(30*time.Second))
		ref := seed(t, store, expiring, "ref-1")

		gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{Access: "acc-2", Refresh: "ref-2"}, nil).Once()
		gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(status(http.StatusUnauthorized, ""), nil).Once()

		_, err := svc.Forward(context.Background(), ref, lessonsReq)
		assert.ErrorIs(t, err, bff.ErrUnauthenticated)
		gw.AssertNumberOfCalls(t, "Refresh", 1)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("disabled", func(t *testing.T) {
		store := session.NewMemoryStore()
		gw := new(mockGateway)
		svc := bff.NewService(store, gw, testLogger(), bff.WithProactiveRefresh(0))
		ref := seed(t, store, expiring, "ref-1")

		gw.On("Call", anyCtx, lessonsReq, expiring).Return(status(http.StatusOK, `[]`), nil).Once()

		_, err := svc.Forward(context.Background(), ref, lessonsReq)
		require.NoError(t, err)
		gw.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	})
}

func TestForwardAdoptsConcurrentRotation(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger())

	stale := &session.Session{ID: "sid-1", AccessToken: "acc-1", RefreshToken: "ref-1"}
	fresh := &session.Session{ID: "sid-1", AccessToken: "acc-2", RefreshToken: "ref-2"}
	store.On("Get", anyCtx, "cookie-1").Return(stale, nil).Once()
	store.On("Get", anyCtx, "cookie-1").Return(fresh, nil).Once()

	gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusUnauthorized, ""), nil).Once()
	gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{}, backend.ErrRefreshRejected).Once()
	gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(status(http.StatusOK, `[]`), nil).Once()

	res, err := svc.Forward(context.Background(), "cookie-1", lessonsReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, "cookie-1", res.Ref)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshCoalescesConcurrentCalls(t *testing.T) {
	store := session.NewMemoryStore()
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger(), bff.WithCoalescing(true))
	ref := seed(t, store, "acc-1", "ref-1")

	var calls atomic.Int32
	release := make(chan struct{})
	gw.On("Refresh", anyCtx, "ref-1").Run(func(mock.Arguments) {
		calls.Add(1)
		<-release
	}).Return(backend.Tokens{Access: "acc-2", Refresh: "ref-2"}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refresh(context.Background(), ref)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	stored, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "acc-2", stored.AccessToken)
}

func TestRefreshSurvivesCancelledFirstCaller(t *testing.T) {
	store := session.NewMemoryStore()
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger(), bff.WithCoalescing(true))
	ref := seed(t, store, "acc-1", "ref-1")

	started := make(chan struct{})
	release := make(chan struct{})
	var refreshCtxErr error
	gw.On("Refresh", anyCtx, "ref-1").Run(func(args mock.Arguments) {
		close(started)
		<-release
		refreshCtxErr = args.Get(0).(context.Context).Err()
	}).Return(backend.Tokens{Access: "acc-2", Refresh: "ref-2"}, nil).Once()
	gw.On("Call", anyCtx, lessonsReq, "acc-1").Return(status(http.StatusUnauthorized, ""), nil).Once()
	gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(status(http.StatusOK, `[{"id":1}]`), nil).Once()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(firstCtx, ref)
		firstDone <- err
	}()
	<-started

	secondDone := make(chan *bff.Result, 1)
	secondErr := make(chan error, 1)
	go func() {
		res, err := svc.Forward(context.Background(), ref, lessonsReq)
		secondDone <- res
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstDone, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	res := <-secondDone
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.NoError(t, refreshCtxErr)
	gw.AssertNumberOfCalls(t, "Refresh", 1)

	stored, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "acc-2", stored.AccessToken)
}

func TestProactiveRefreshFailureFallsThrough(t *testing.T) {
	expiring := jwtExpiringIn(t, 10*time.Minute)
	later := func() time.Time { return time.Now().Add(10*time.Minute - 5*time.Second) }

	tests := []struct {
		name  string
		setup func(gw *mockGateway)
	}{
		{
			name: "token still accepted",
			setup: func(gw *mockGateway) {
				gw.On("Call", anyCtx, lessonsReq, expiring).Return(status(http.StatusOK, `[]`), nil).Once()
			},
		},
		{
			name: "401 retries the refresh once",
			setup: func(gw *mockGateway) {
				gw.On("Call", anyCtx, lessonsReq, expiring).Return(status(http.StatusUnauthorized, ""), nil).Once()
				gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{Access: "acc-2"}, nil).Once()
				gw.On("Call", anyCtx, lessonsReq, "acc-2").Return(status(http.StatusOK, `[]`), nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewMemoryStore()
			gw := new(mockGateway)
			svc := bff.NewService(store, gw, testLogger(), bff.WithClock(later), bff.WithProactiveRefresh(30*time.Second))
			ref := seed(t, store, expiring, "ref-1")

			gw.On("Refresh", anyCtx, "ref-1").Return(backend.Tokens{}, backend.ErrTimeout).Once()
			tt.setup(gw)

			res, err := svc.Forward(context.Background(), ref, lessonsReq)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, res.Response.StatusCode)
			gw.AssertExpectations(t)

			_, err = store.Get(context.Background(), ref)
			assert.NoError(t, err)
		})
	}
}

func TestLogin(t *testing.T) {
	loginReq := backend.Request{Method: http.MethodPost, Path: "/auth/login/", Body: []byte(`{"email":"a@b.com","password":"secret123"}`), ContentType: "application/json"}

	t.Run("creates session", func(t *testing.T) {
		store := session.NewMemoryStore()
		gw := new(mockGateway)
		svc := bff.NewService(store, gw, testLogger(), bff.WithSessionTTL(time.Hour))

		gw.On("Call", anyCtx, loginReq, "").Return(status(http.StatusOK,
			`{"access_token":"acc-1","refresh_token":"ref-1","user":{"id":5,"email":"a@b.com","full_name":"Ann","role":"student"}}`), nil).Once()

		res, err := svc.Login(context.Background(), loginReq.Body, "application/json")
		require.NoError(t, err)
		require.NotEmpty(t, res.Ref)
		assert.Equal(t, int64(5), res.User.ID)

		stored, err := store.Get(context.Background(), res.Ref)
		require.NoError(t, err)
		assert.Equal(t, "acc-1", stored.AccessToken)
		assert.Equal(t, "ref-1", stored.RefreshToken)
		assert.Len(t, stored.ID, 24)
		assert.InDelta(t, time.Hour.Milliseconds(), stored.ExpiresAt-stored.IssuedAt, 1)
	})

	t.Run("relays rejection", func(t *testing.T) {
		store := session.NewMemoryStore()
		gw := new(mockGateway)
		svc := bff.NewService(store, gw, testLogger())

		gw.On("Call", anyCtx, loginReq, "").Return(status(http.StatusBadRequest, `{"detail":"bad credentials"}`), nil).Once()

		res, err := svc.Login(context.Background(), loginReq.Body, "application/json")
		require.NoError(t, err)
		assert.Empty(t, res.Ref)
		assert.Equal(t, http.StatusBadRequest, res.Response.StatusCode)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("missing tokens", func(t *testing.T) {
		store := session.NewMemoryStore()
		gw := new(mockGateway)
		svc := bff.NewService(store, gw, testLogger())

		gw.On("Call", anyCtx, loginReq, "").Return(status(http.StatusOK, `{"user":{"id":5,"email":"a@b.com","role":"student"}}`), nil).Once()

		_, err := svc.Login(context.Background(), loginReq.Body, "application/json")
		assert.ErrorIs(t, err, bff.ErrBadLoginResponse)
		assert.Equal(t, 0, store.Len())
	})
}

func TestRegisterCreatesNoSession(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger())

	req := backend.Request{Method: http.MethodPost, Path: "/auth/register/", Body: []byte(`{}`), ContentType: "application/json"}
	gw.On("Call", anyCtx, req, "").Return(status(http.StatusCreated, `{"id":9}`), nil).Once()

	resp, err := svc.Register(context.Background(), []byte(`{}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestLogout(t *testing.T) {
	store := session.NewMemoryStore()
	gw := new(mockGateway)
	svc := bff.NewService(store, gw, testLogger())
	ref := seed(t, store, "acc-1", "ref-1")

	gw.On("Logout", anyCtx, "acc-1", "ref-1").Return(backend.ErrUnavailable).Once()

	require.NoError(t, svc.Logout(context.Background(), ref))
	assert.Equal(t, 0, store.Len())

	assert.ErrorIs(t, svc.Logout(context.Background(), ref), bff.ErrUnauthenticated)
	gw.AssertNumberOfCalls(t, "Logout", 1)
}
