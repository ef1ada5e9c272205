package ui_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliod-dev/heliod/pkg/ui"
)

var listing = []ui.ModuleRow{
	{Name: "solarized", Listener: "solar", Event: "sunrise", NextChange: "2h13m"},
	{Name: "weather", Listener: "periodic", Event: "41", NextChange: "9m"},
}

func TestRenderModulesText(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, ui.RenderModules(&buffer, ui.FormatText, listing))

	output := buffer.String()
	assert.Contains(t, output, "MODULE")
	assert.Contains(t, output, "solarized")
	assert.Contains(t, output, "sunrise")
	assert.Contains(t, output, "periodic")
	assert.NotContains(t, output, "\x1b[", "plain output must not carry escape codes")
}

func TestRenderModulesJSON(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, ui.RenderModules(&buffer, ui.FormatJSON, listing))

	var decoded []ui.ModuleRow
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &decoded))
	assert.Equal(t, listing, decoded)
}

func TestRenderModulesAutoUsesTextForBuffers(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, ui.RenderModules(&buffer, ui.FormatAuto, listing))
	assert.NotContains(t, buffer.String(), "\x1b[")
}

func TestMessages(t *testing.T) {
	var buffer bytes.Buffer
	ui.Success(&buffer, ui.FormatText, "cleaned up module solarized")
	ui.Failure(&buffer, ui.FormatText, "no such module")

	assert.Contains(t, buffer.String(), "cleaned up module solarized")
	assert.Contains(t, buffer.String(), "error: no such module")
}
