package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunDemo(t *testing.T) {
	require.NoError(t, runDemo(context.Background(), "localhost:0", "demo", []string{"ab", "cd", "ef"}, false))
}
