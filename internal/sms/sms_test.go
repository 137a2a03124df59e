package sms

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	assert.Contains(t, Message("042917"), "042917")
}

func TestLogGateway_neverLogsCode(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	g := NewLogGateway(log)
	require.NoError(t, g.Send(context.Background(), "+34670709259", "123987"))

	out := buf.String()
	assert.Contains(t, out, "+3********59")
	assert.NotContains(t, out, "123987")
	assert.NotContains(t, out, "670709259")
}

func TestLogGateway_cancelledContext(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewLogGateway(log).Send(ctx, "+34670709259", "123987"), context.Canceled)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	_, ok := r.LastCode("+34600000001")
	assert.False(t, ok)

	require.NoError(t, r.Send(context.Background(), "+34600000001", "111111"))
	require.NoError(t, r.Send(context.Background(), "+34600000001", "222222"))

	code, ok := r.LastCode("+34600000001")
	assert.True(t, ok)
	assert.Equal(t, "222222", code)
	assert.Equal(t, 2, r.Sent("+34600000001"))

	r.Err = errors.New("gateway down")
	assert.EqualError(t, r.Send(context.Background(), "+34600000002", "333333"), "gateway down")
	code, _ = r.LastCode("+34600000002")
	assert.Equal(t, "333333", code)
}
