package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"autobuy/internal/domain"
	"autobuy/pkg/errcodes"
)

func TestAppError(t *testing.T) {
	rq := require.New(t)

	cause := errors.New("connection refused")
	err := domain.WrapError(cause, errcodes.InternalServerError, "failed to record attempt")

	rq.Equal("failed to record attempt: connection refused", err.Error())
	rq.ErrorIs(err, cause)
	rq.True(domain.IsAppError(fmt.Errorf("ledger: %w", err)))

	code, ok := domain.GetCode(fmt.Errorf("ledger: %w", err))
	rq.True(ok)
	rq.Equal(errcodes.InternalServerError, code)

	_, ok = domain.GetCode(cause)
	rq.False(ok)
}

func TestHasCode(t *testing.T) {
	rq := require.New(t)

	inner := domain.NewError(errcodes.ConfigurationNotFound, "configuration not found")
	outer := domain.WrapError(inner, errcodes.InvalidConfiguration, "load configuration")

	rq.True(domain.HasCode(outer, errcodes.InvalidConfiguration))
	rq.True(domain.HasCode(outer, errcodes.ConfigurationNotFound))
	rq.False(domain.HasCode(outer, errcodes.UnknownSource))
	rq.False(domain.HasCode(nil, errcodes.UnknownSource))
}
