package serrors_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/workmesh/assign-sdk/pkg/serrors"
)

func TestCode(t *testing.T) {
	t.Parallel()

	base := serrors.NewError("COLLABORATOR_FAILED", "candidate pool lookup failed", "")

	t.Run("direct", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "COLLABORATOR_FAILED", serrors.Code(base))
	})

	t.Run("wrapped", func(t *testing.T) {
		t.Parallel()
		wrapped := errors.Wrapf(base, "target %s", "abc")
		assert.Equal(t, "COLLABORATOR_FAILED", serrors.Code(wrapped))
		assert.True(t, errors.Is(wrapped, base))
	})

	t.Run("uncoded", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "INTERNAL", serrors.Code(errors.New("boom")))
	})

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "", serrors.Code(nil))
	})

	t.Run("with details", func(t *testing.T) {
		t.Parallel()
		detailed := serrors.WithDetails(base, "pool timed out")
		assert.Equal(t, "COLLABORATOR_FAILED", serrors.Code(detailed))
		assert.Contains(t, detailed.Error(), "pool timed out")
	})
}
