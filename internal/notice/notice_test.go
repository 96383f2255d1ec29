package notice

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, NetworkError, KindOf(errors.New("dial tcp: refused")))

	wrapped := fmt.Errorf("booking: advance: %w", New(InvalidCode, "That code is not valid."))
	assert.Equal(t, InvalidCode, KindOf(wrapped))
	assert.True(t, Is(wrapped, InvalidCode))
	assert.False(t, Is(wrapped, CommitFailed))
}

func TestDisplayFor(t *testing.T) {
	assert.Equal(t, Toast, DisplayFor(SlotConflict))
	assert.Equal(t, Toast, DisplayFor(NetworkError))
	for _, k := range []Kind{InvalidPhoneFormat, OtpDispatchFailed, InvalidCode, PaymentFieldMissing, CommitFailed} {
		assert.Equal(t, Inline, DisplayFor(k), string(k))
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := Wrap(NetworkError, "Network problem.", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "timeout")
	assert.Equal(t, "commit_failed: taken", New(CommitFailed, "taken").Error())
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	n := From(New(CommitFailed, "That time was just taken."))
	assert.Equal(t, &Notice{Kind: CommitFailed, Display: Inline, Message: "That time was just taken."}, n)

	n = From(errors.New("boom"))
	assert.Equal(t, NetworkError, n.Kind)
	assert.Equal(t, Toast, n.Display)

	info := Info("We sent a new code.")
	assert.Equal(t, Toast, info.Display)
	assert.Empty(t, info.Kind)
}
