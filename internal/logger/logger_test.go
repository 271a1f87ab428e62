package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newWithOutput("artworkd", config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	l.Named("pipeline").Debug("processed artwork", "artwork_id", 7)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "processed artwork", entry["@message"])
	assert.Equal(t, "artworkd.pipeline", entry["@module"])
	assert.Equal(t, float64(7), entry["artwork_id"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newWithOutput("artworkd", config.LoggingConfig{Level: "warn"}, &buf)

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")

	assert.Equal(t, hclog.Info, newWithOutput("x", config.LoggingConfig{Level: "bogus"}, &buf).GetLevel())
}

func TestDefault(t *testing.T) {
	l := hclog.NewNullLogger()
	SetDefault(l)
	t.Cleanup(func() { SetDefault(nil) })
	assert.Equal(t, l, Default())
}
