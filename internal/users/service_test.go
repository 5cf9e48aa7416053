package users

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-platform/sentra/internal/automation"
	"github.com/sentra-platform/sentra/internal/platform/httpx"
	"github.com/sentra-platform/sentra/internal/shared"
)

type stubStore struct {
	users  map[int64]User
	hashes map[int64]string
	nextID int64
}

func newStubStore() *stubStore {
	return &stubStore{users: map[int64]User{}, hashes: map[int64]string{}, nextID: 1}
}

func (s *stubStore) List(context.Context) ([]User, error) {
	var out []User
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubStore) Get(_ context.Context, id int64) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubStore) Create(_ context.Context, user User, hash string) (User, error) {
	user.ID = s.nextID
	s.nextID++
	s.users[user.ID] = user
	s.hashes[user.ID] = hash
	return user, nil
}

func (s *stubStore) Update(_ context.Context, user User, hash string) (User, error) {
	if _, ok := s.users[user.ID]; !ok {
		return User{}, shared.ErrNotFound
	}
	s.users[user.ID] = user
	if hash != "" {
		s.hashes[user.ID] = hash
	}
	return user, nil
}

func (s *stubStore) Delete(_ context.Context, id int64) error {
	if _, ok := s.users[id]; !ok {
		return shared.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

type recorder struct {
	invalidated []string
	events      []string
}

func (r *recorder) Invalidate(token string) { r.invalidated = append(r.invalidated, token) }

func (r *recorder) Trigger(event string, _ map[string]any) { r.events = append(r.events, event) }

func newTestService(store *stubStore, rec *recorder) *Service {
	return NewService(store, rec, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateUserHashesPassword(t *testing.T) {
	store := newStubStore()
	rec := &recorder{}
	svc := newTestService(store, rec)

	created, err := svc.CreateUser(context.Background(), CreateInput{
		Email:    " Ada@Example.com ",
		Password: "correct horse",
		RoleIDs:  []int64{2},
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", created.Email)
	assert.True(t, created.Active)

	hash := store.hashes[created.ID]
	require.NotEmpty(t, hash)
	assert.NotContains(t, hash, "correct horse")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")))
	assert.Contains(t, rec.events, automation.EventUserCreated)
}

func TestCreateUserRejectsShortPassword(t *testing.T) {
	svc := newTestService(newStubStore(), &recorder{})
	_, err := svc.CreateUser(context.Background(), CreateInput{Email: "a@b.com", Password: "short"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestUpdateUserInvalidatesOldAndNewEmail(t *testing.T) {
	store := newStubStore()
	rec := &recorder{}
	svc := newTestService(store, rec)

	created, err := svc.CreateUser(context.Background(), CreateInput{Email: "old@example.com", Password: "long enough"})
	require.NoError(t, err)
	rec.invalidated = nil

	_, err = svc.UpdateUser(context.Background(), created.ID, UpdateInput{Email: "new@example.com"})
	require.NoError(t, err)
	assert.Contains(t, rec.invalidated, "old@example.com")
	assert.Contains(t, rec.invalidated, "new@example.com")
}

func TestUpdateUserKeepsPasswordWhenEmpty(t *testing.T) {
	store := newStubStore()
	svc := newTestService(store, &recorder{})

	created, err := svc.CreateUser(context.Background(), CreateInput{Email: "a@b.com", Password: "long enough"})
	require.NoError(t, err)
	before := store.hashes[created.ID]

	_, err = svc.UpdateUser(context.Background(), created.ID, UpdateInput{Email: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, before, store.hashes[created.ID])
}

func TestDeleteUserAnnouncesAndInvalidates(t *testing.T) {
	store := newStubStore()
	rec := &recorder{}
	svc := newTestService(store, rec)

	created, err := svc.CreateUser(context.Background(), CreateInput{Email: "gone@example.com", Password: "long enough"})
	require.NoError(t, err)
	rec.invalidated = nil

	require.NoError(t, svc.DeleteUser(context.Background(), created.ID))
	assert.Contains(t, rec.invalidated, "gone@example.com")
	assert.Contains(t, rec.events, automation.EventUserDeleted)
}

func TestDeleteUnknownUser(t *testing.T) {
	svc := newTestService(newStubStore(), &recorder{})
	assert.ErrorIs(t, svc.DeleteUser(context.Background(), 42), shared.ErrNotFound)
}
