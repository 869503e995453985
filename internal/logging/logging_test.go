package logging

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanbro/sipua/pkg/sip/config"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"debug": "DEBUG",
		"INFO":  "INFO",
		"warn":  "WARN",
		"error": "ERROR",
	} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, lvl.String())
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestJSONFormatsErrorsAndAddresses(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(config.LogConfig{Level: "debug", Format: config.FormatJSON}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5060}
	log.Debug("sent", "error", errors.New("boom"), "dest", addr)

	out := buf.String()
	assert.Contains(t, out, `"message":"boom"`)
	assert.Contains(t, out, `"dest":"udp:127.0.0.1:5060"`)
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(config.LogConfig{Level: "warn", Format: config.FormatText}, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sipua.log")
	cfg := config.Default().Log
	cfg.Format = config.FormatJSON
	cfg.File.Path = path

	log, closer, err := New(cfg, nil)
	require.NoError(t, err)
	log.Info("to file", "call_id", "7")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestUnknownFormat(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestHandlersBuild(t *testing.T) {
	for _, format := range []string{config.FormatConsole, config.FormatDev} {
		var buf bytes.Buffer
		log, _, err := New(config.LogConfig{Level: "info", Format: format}, &buf)
		require.NoError(t, err, format)
		log.Info("hello")
		assert.Contains(t, buf.String(), "hello", format)
	}
}
