package metaerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cube-js/cube-metastore/internal/metaerr"
)

func TestKindStringNamesAllFourKinds(t *testing.T) {
	cases := []struct {
		kind metaerr.Kind
		want string
	}{
		{metaerr.User, "user"},
		{metaerr.Internal, "internal"},
		{metaerr.Unsupported, "unsupported"},
		{metaerr.Unknown, "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.kind.String())
	}
}

func TestKindStringFallsBackForUnrecognizedValue(t *testing.T) {
	assert.Equal(t, "unknown_kind", metaerr.Kind(99).String())
}

func TestNewfFormatsMessageWithNoUnderlyingError(t *testing.T) {
	err := metaerr.Newf(metaerr.User, "schema %q not found", "analytics")
	assert.EqualError(t, err, `user: schema "analytics" not found`)
	assert.Nil(t, errors.Unwrap(err))
}

func TestWrapFormatsMessageAndPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("row count mismatch")
	err := metaerr.Wrap(metaerr.Internal, cause, "swap partition %d", 7)
	assert.EqualError(t, err, "internal: swap partition 7: row count mismatch")
	assert.ErrorIs(t, err, cause)
}

func TestIsMatchesOnlyTheGivenKind(t *testing.T) {
	err := metaerr.Newf(metaerr.User, "bad request")
	assert.True(t, metaerr.Is(err, metaerr.User))
	assert.False(t, metaerr.Is(err, metaerr.Internal))
	assert.False(t, metaerr.Is(errors.New("plain error"), metaerr.User))
}

func TestKindOfReturnsInternalForNonMetaerrValues(t *testing.T) {
	assert.Equal(t, metaerr.Internal, metaerr.KindOf(errors.New("plain error")))
	assert.Equal(t, metaerr.Internal, metaerr.KindOf(nil))
}

func TestKindOfUnwrapsWrappedMetaerr(t *testing.T) {
	inner := metaerr.Newf(metaerr.Unsupported, "multi-index split")
	outer := errors.New("calling context")
	wrapped := errors.Join(outer, inner)
	assert.Equal(t, metaerr.Unsupported, metaerr.KindOf(wrapped))
}
