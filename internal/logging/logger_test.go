package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	req := require.New(t)

	req.Equal(zerolog.DebugLevel, ParseLevel("DEBUG"))
	req.Equal(zerolog.WarnLevel, ParseLevel("warning"))
	req.Equal(zerolog.Disabled, ParseLevel("off"))
	req.Equal(zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestInit_JSONOutput(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer

	Init(Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	Info().Str("component", "test").Msg("hello")
	Debug().Msg("suppressed")

	out := buf.String()
	req.Contains(out, `"component":"test"`)
	req.Contains(out, `"message":"hello"`)
	req.NotContains(out, "suppressed")
}
