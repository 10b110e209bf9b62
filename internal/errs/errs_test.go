package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_matchesByCode(t *testing.T) {
	err := Newf(CodeInsufficientStock, "only %d left", 2)

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, "only 2 left", err.Error())
}

func TestIs_throughWrapping(t *testing.T) {
	err := fmt.Errorf("add to cart: %w", New(CodeItemNotFound, "no such item"))

	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, CodeItemNotFound, CodeOf(err))
}

func TestPersistence_keepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence("save floor", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "save floor: connection reset", err.Error())
}

func TestCodeOf_unknownForPlainErrors(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
}

func TestCode_String_returnsLabel(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeInvalidArgument, "INVALID_ARGUMENT"},
		{CodeInsufficientStock, "INSUFFICIENT_STOCK"},
		{CodeDuplicateName, "DUPLICATE_NAME"},
		{CodePaymentUnresolved, "PAYMENT_UNRESOLVED"},
		{CodePersistence, "PERSISTENCE_FAILURE"},
		{Code(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.String(), "Code(%d)", tt.code)
	}
}
