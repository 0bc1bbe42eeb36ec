package util

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestComponentLoggerTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	logger := ComponentLogger("widget")
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"widget"`)
	assert.Contains(t, buf.String(), "hello")
}
