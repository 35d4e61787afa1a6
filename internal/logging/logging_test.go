package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-ledger/internal/logging"
)

func TestNew_jsonFormat_writesStructuredFields(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	logger, err := logging.New(buf, "debug", logging.FormatJSON)
	require.NoError(t, err)

	logger.WithField("id", "abc").Debug("step recorded")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["id"])
	assert.Equal(t, "step recorded", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
}

func TestNew_levelFiltersOutput(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	logger, err := logging.New(buf, "warn", logging.FormatText)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_invalidInput_returnsError(t *testing.T) {
	t.Parallel()

	_, err := logging.New(new(bytes.Buffer), "loud", logging.FormatText)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing log level")

	_, err = logging.New(new(bytes.Buffer), "info", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log format")
}
