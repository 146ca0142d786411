package Logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(log.New(&buf, "", 0), LevelWarning)
	logger.Debugf("cell %d", 1)
	logger.Infof("cell %d", 2)
	logger.Warnf("cell %d", 3)
	logger.Errorf("cell %d", 4)
	assert.Equal(t, "WARN: cell 3\nERROR: cell 4\n", buf.String())
}

func TestLevelNoneIsSilent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(log.New(&buf, "", 0), LevelNone)
	logger.Errorf("lost")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, level)
	level, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, LevelWarning, level)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "Level(9)", Level(9).String())
}
