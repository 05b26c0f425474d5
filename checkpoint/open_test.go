package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padraicbc/dhworkers/config"
)

func TestOpenFileBackend(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), &config.Config{CheckpointBackend: config.CheckpointFile, CheckpointDir: dir})
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, fs.dir)
}
