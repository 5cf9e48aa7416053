package automation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-platform/sentra/internal/platform/httpx"
)

type stubStore struct {
	rules   []Rule
	created []Rule
	deleted []int64
}

func (s *stubStore) List(context.Context) ([]Rule, error) { return s.rules, nil }

func (s *stubStore) Get(_ context.Context, id int64) (Rule, error) {
	for _, r := range s.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return Rule{}, errors.New("not found")
}

func (s *stubStore) Create(_ context.Context, rule Rule) (Rule, error) {
	rule.ID = int64(len(s.created) + 1)
	s.created = append(s.created, rule)
	return rule, nil
}

func (s *stubStore) Update(_ context.Context, rule Rule) (Rule, error) { return rule, nil }

func (s *stubStore) Delete(_ context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func newTestService(store *stubStore) *Service {
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateRuleNormalizes(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(store)

	created, err := svc.CreateRule(context.Background(), Rule{
		Name:      "  notify-slack  ",
		Event:     " user.created ",
		TargetURL: " https://hooks.example.com/slack ",
		Enabled:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "notify-slack", created.Name)
	assert.Equal(t, "user.created", created.Event)
	assert.Equal(t, "https://hooks.example.com/slack", created.TargetURL)
}

func TestCreateRuleValidation(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
	}{
		{"missing name", Rule{Event: "user.created", TargetURL: "https://x.example.com"}},
		{"missing event", Rule{Name: "r", TargetURL: "https://x.example.com"}},
		{"relative url", Rule{Name: "r", Event: "user.created", TargetURL: "/hooks"}},
		{"bad scheme", Rule{Name: "r", Event: "user.created", TargetURL: "ftp://x.example.com"}},
	}
	svc := newTestService(&stubStore{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateRule(context.Background(), tc.rule)
			assert.ErrorIs(t, err, httpx.ErrValidation)
		})
	}
}
