package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStringIncludesFields(t *testing.T) {
	err := New("binance", CodeInvalid,
		WithMessage("base currency required"),
		WithCanonicalCode(CanonicalMissingCurrency),
		WithField("stream", "ticker"),
	)

	str := err.Error()
	require.Contains(t, str, "exchange=binance")
	require.Contains(t, str, "code=invalid_request")
	require.Contains(t, str, "canonical=missing_currency")
	require.Contains(t, str, `message="base currency required"`)
	require.Contains(t, str, `meta=stream="ticker"`)
}

func TestErrorStringDefaultsUnknownExchange(t *testing.T) {
	err := New("", CodeNetwork)
	require.True(t, strings.HasPrefix(err.Error(), "exchange=unknown code=network"))
	require.NotContains(t, err.Error(), "canonical=")
}

func TestNilErrorString(t *testing.T) {
	var e *E
	require.Equal(t, "<nil>", e.Error())
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := New("coinbase", CodeNetwork, WithCause(cause))

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), `cause="connection refused"`)
}

func TestRawExchangeFields(t *testing.T) {
	err := New("binance", CodeExchange, WithRawCode(" -1121 "), WithRawMessage("Invalid symbol."))
	require.Equal(t, "-1121", err.RawCode)
	require.Equal(t, "Invalid symbol.", err.RawMsg)
}

func TestEmptyCanonicalFallsBackToUnknown(t *testing.T) {
	err := New("x", CodeConflict, WithCanonicalCode("  "))
	require.Equal(t, CanonicalUnknown, err.Canonical)
}

func TestCodeOfFindsWrappedEnvelope(t *testing.T) {
	inner := New("binance", CodeConflict, WithMessage("closing"))
	wrapped := fmt.Errorf("disconnect: %w", inner)

	require.Equal(t, CodeConflict, CodeOf(wrapped))
	require.True(t, IsCode(wrapped, CodeConflict))
	require.False(t, IsCode(wrapped, CodeInvalid))
	require.False(t, IsCode(nil, CodeConflict))
	require.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestWithFieldIgnoresBlankKey(t *testing.T) {
	err := New("x", CodeInvalid, WithField(" ", "v"))
	require.Nil(t, err.Metadata)
}
