package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitRejectsUnknownFormat(t *testing.T) {
	_, err := Init("info", "xml")
	require.Error(t, err)

	_, err = Init("loud", "json")
	require.Error(t, err)
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	l, err := Init("debug", "console")
	require.NoError(t, err)
	require.Same(t, l, FromContext(context.Background()))

	scoped := zap.NewNop()
	ctx := WithContext(context.Background(), scoped)
	require.Same(t, scoped, FromContext(ctx))
}
