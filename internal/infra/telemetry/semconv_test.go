package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameAttributes(t *testing.T) {
	attrs := FrameAttributes("dev", "binance", "binance.ticker", "success")
	require.Len(t, attrs, 4)
	require.Equal(t, AttrProcessor, attrs[2].Key)
	require.Equal(t, "success", attrs[3].Value.AsString())
}
