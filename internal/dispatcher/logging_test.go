package dispatcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinaes/succ-amanstore/internal/config"
	"github.com/vinaes/succ-amanstore/internal/logging"
)

func TestNewWithFileLogging_SetsUpRotatingLoggerWhenNoneProvided(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.FilePath = filepath.Join(t.TempDir(), "dispatcher.log")
	cfg.WriteToStderr = false

	d, cleanup, err := NewWithFileLogging(Dependencies{Store: newFakeStore(), Config: config.NewConfig()}, cfg)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, d)
	assert.NotNil(t, d.log)
}

func TestNewWithFileLogging_KeepsProvidedLogger(t *testing.T) {
	provided := newTestDispatcher(t, newFakeStore())
	d, cleanup, err := NewWithFileLogging(Dependencies{
		Store:  newFakeStore(),
		Config: config.NewConfig(),
		Logger: provided.log,
	}, logging.DefaultConfig())
	require.NoError(t, err)
	defer cleanup()

	assert.Same(t, provided.log, d.log)
}
