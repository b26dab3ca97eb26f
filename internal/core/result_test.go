// internal/core/result_test.go
package core

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_OK(t *testing.T) {
	r := OK(42)

	assert.False(t, r.IsError)
	assert.False(t, r.IsWarning)
	assert.Equal(t, 42, r.Value)
	assert.True(t, r.Succeeded())
}

func TestResult_Fail(t *testing.T) {
	r := Fail[int]("something broke")

	assert.True(t, r.IsError)
	assert.Zero(t, r.Value)
	assert.False(t, r.Succeeded())
	assert.Equal(t, "something broke", r.Message)
}

func TestResult_FailErr_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	r := FailErr[bool](WrapAdapterError("redis", "save", cause), "save failed")

	assert.True(t, r.IsError)

	var adapterErr *AdapterError
	require.ErrorAs(t, r.Err, &adapterErr)
	assert.Equal(t, "redis", adapterErr.Provider)
	assert.ErrorIs(t, r.Err, cause)
}

func TestResult_WarningCoexistsWithValue(t *testing.T) {
	r := OK("payload")
	r.AddWarning("replication skipped: quota exhausted")
	r.AddWarning("second warning")

	assert.False(t, r.IsError)
	assert.True(t, r.IsWarning)
	assert.Equal(t, "payload", r.Value)
	assert.Len(t, r.Warnings, 2)
}

func TestResult_Rewrap(t *testing.T) {
	orig := FailErr[string](ErrNoProviderAvailable, "nothing registered")
	orig.AddWarning("also a warning")

	rewrapped := Rewrap[int](orig)

	assert.True(t, rewrapped.IsError)
	assert.Equal(t, orig.Message, rewrapped.Message)
	assert.ErrorIs(t, rewrapped.Err, ErrNoProviderAvailable)
	assert.Equal(t, orig.Warnings, rewrapped.Warnings)
}

func TestFailoverExhaustedError_AggregatesCauses(t *testing.T) {
	err := &FailoverExhaustedError{Causes: []error{
		ErrAdapterTimeout,
		errors.New("validation failed"),
	}}

	assert.Contains(t, err.Error(), "2 attempts")
	assert.ErrorIs(t, err, ErrAdapterTimeout)
}

func TestMarshalEntity_RoundTrip(t *testing.T) {
	holon := &Holon{
		ID:        uuid.New(),
		Name:      "star-system",
		HolonType: "CelestialBody",
		Meta:      map[string]interface{}{"sector": "alpha"},
		Version:   3,
	}

	data, err := MarshalEntity(holon)
	require.NoError(t, err)

	decoded, err := UnmarshalEntity(data)
	require.NoError(t, err)
	require.Equal(t, KindHolon, decoded.EntityKind())

	h, ok := decoded.(*Holon)
	require.True(t, ok)
	assert.Equal(t, holon.ID, h.ID)
	assert.Equal(t, "star-system", h.Name)
	assert.Equal(t, "alpha", h.Meta["sector"])
}

func TestUnmarshalEntity_UnknownKind(t *testing.T) {
	_, err := UnmarshalEntity([]byte(`{"kind":"Widget","payload":{}}`))
	assert.Error(t, err)
}

func TestSearchQuery_Matches(t *testing.T) {
	avatar := &Avatar{ID: uuid.New(), Username: "max_power", Email: "max@example.com"}
	holon := &Holon{
		ID:        uuid.New(),
		Name:      "engine-room",
		HolonType: "Room",
		Meta:      map[string]interface{}{"deck": "7"},
	}

	tests := []struct {
		name   string
		query  SearchQuery
		entity Entity
		want   bool
	}{
		{"kind filter matches", SearchQuery{Kind: KindAvatar}, avatar, true},
		{"kind filter rejects", SearchQuery{Kind: KindAvatar}, holon, false},
		{"text matches username", SearchQuery{Text: "power"}, avatar, true},
		{"text case insensitive", SearchQuery{Text: "ENGINE"}, holon, true},
		{"text rejects", SearchQuery{Text: "nothing"}, avatar, false},
		{"meta key+value matches", SearchQuery{MetaKey: "deck", MetaValue: "7"}, holon, true},
		{"meta value rejects", SearchQuery{MetaKey: "deck", MetaValue: "9"}, holon, false},
		{"meta key missing", SearchQuery{MetaKey: "cargo"}, holon, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Matches(tt.entity))
		})
	}
}

func TestSearchQuery_ExcludesSoftDeleted(t *testing.T) {
	now := time.Now()
	avatar := &Avatar{ID: uuid.New(), Username: "ghost", DeletedDate: &now}

	assert.False(t, SearchQuery{Text: "ghost"}.Matches(avatar))
}
