package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_String_returnsLabel(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInvalidInput, "INVALID_INPUT"},
		{KindProductUnavailable, "PRODUCT_UNAVAILABLE"},
		{KindInsufficientStock, "INSUFFICIENT_STOCK"},
		{KindNotFound, "NOT_FOUND"},
		{KindForbidden, "FORBIDDEN"},
		{KindConflictOnCommit, "CONFLICT_ON_COMMIT"},
		{KindInternal, "INTERNAL"},
		{Kind(99), "INTERNAL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestError_IsMatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFoundf("order %s not found", "o-1"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestUnavailable_namesProducts(t *testing.T) {
	err := Unavailable("b", "c")

	assert.Equal(t, []string{"b", "c"}, err.ProductIDs)
	assert.Equal(t, "products unavailable: b, c", err.Error())
}

func TestInsufficientStock_carriesQuantities(t *testing.T) {
	err := InsufficientStock("a", 1, 3)

	assert.Equal(t, int64(1), err.Available)
	assert.Equal(t, int64(3), err.Requested)
	assert.Contains(t, err.Error(), "available 1, requested 3")
}

func TestConflictOnCommit_copiesReservationDetails(t *testing.T) {
	err := ConflictOnCommit("stock reserved concurrently", InsufficientStock("a", 0, 2))

	require.Equal(t, KindConflictOnCommit, err.Kind)
	assert.Equal(t, []string{"a"}, err.ProductIDs)
	assert.Equal(t, int64(2), err.Requested)
	assert.True(t, errors.Is(err, ErrConflictOnCommit))
	assert.True(t, errors.Is(err, ErrInsufficientStock))
}

func TestInternal_wrapsOnlyForeignErrors(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("insert order", cause)

	assert.Equal(t, KindInternal, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "insert order: connection reset", err.Error())

	domainErr := Forbiddenf("nope")
	assert.Same(t, domainErr, Internal("op", domainErr))
	assert.NoError(t, Internal("op", nil))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, st)

	_, err = ParseStatus("lost")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
