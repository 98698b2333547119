package dispatch

import (
	"go/format"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsSourceIsFormatted(t *testing.T) {
	src, err := os.ReadFile("stats.go")
	require.NoError(t, err)

	formatted, err := format.Source(src)
	require.NoError(t, err)
	require.Equal(t, string(formatted), string(src), "stats.go is not gofmt-clean")
}
