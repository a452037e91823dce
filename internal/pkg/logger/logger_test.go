package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutputRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Environment: "production"}, &buf)

	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	l.Warn().Str("coupon_code", "VOLTE20").Msg("shown")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "VOLTE20", line["coupon_code"])
	assert.Equal(t, "coworking-billing", line["service"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := New(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestContextRoundTrip(t *testing.T) {
	l := zerolog.Nop()
	ctx := WithContext(context.Background(), &l)
	assert.Same(t, &l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
