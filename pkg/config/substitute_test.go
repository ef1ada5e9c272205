package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliod-dev/heliod/pkg/shell"
)

func TestInsertEnvironmentValues(t *testing.T) {
	t.Setenv("HELIOD_TEST_VALUE", "test_value")
	t.Setenv("heliod_lower_case", "lower_case_value")
	t.Setenv("HELIOD_LOWER_CASE", "UPPER_CASE_VALUE")

	env := ExpandedEnv()

	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{
			name:     "single variable",
			line:     "key: value-${HELIOD_TEST_VALUE}",
			expected: "key: value-test_value",
		},
		{
			name:     "several variables on one line",
			line:     "key: ${heliod_lower_case}-${HELIOD_TEST_VALUE}",
			expected: "key: lower_case_value-test_value",
		},
		{
			name:     "case sensitive lookup",
			line:     "key: ${heliod_lower_case} ${HELIOD_LOWER_CASE}",
			expected: "key: lower_case_value UPPER_CASE_VALUE",
		},
		{
			name:     "unset variable becomes empty",
			line:     "key: ${HELIOD_DEFINITELY_NOT_SET}!",
			expected: "key: !",
		},
		{
			name:     "no variables left untouched",
			line:     "key: plain $HOME style is ignored",
			expected: "key: plain $HOME style is ignored",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InsertEnvironmentValues(tt.line, env))
		})
	}
}

func TestExpandedEnvExpandsNestedReferences(t *testing.T) {
	t.Setenv("HELIOD_TEST_BASE", "/opt/base")
	t.Setenv("HELIOD_TEST_NESTED", "$HELIOD_TEST_BASE/bin")

	env := ExpandedEnv()
	assert.Equal(t, "/opt/base/bin", env["HELIOD_TEST_NESTED"])
}

func TestInsertCommandSubstitutions(t *testing.T) {
	runner := shell.New()

	assert.Equal(t,
		"some text: result",
		InsertCommandSubstitutions("some text: $(echo result)", "", runner),
	)

	// Failing commands substitute to the empty string.
	assert.Equal(t,
		"key: ",
		InsertCommandSubstitutions("key: $(false)", "", runner),
	)
}

func TestInsertCommandSubstitutionsWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte(""), 0o644))

	result := InsertCommandSubstitutions("files: $(ls)", dir, shell.New())
	assert.Equal(t, "files: marker.txt", result)
}

func TestSubstitute(t *testing.T) {
	t.Setenv("HELIOD_TEST_GREETING", "hello")

	input := `# A comment survives untouched
section:
  env_value: ${HELIOD_TEST_GREETING}
  combined: $(echo ${HELIOD_TEST_GREETING} world)

  plain: unchanged
`
	expected := `# A comment survives untouched
section:
  env_value: hello
  combined: hello world

  plain: unchanged
`
	assert.Equal(t, expected, string(Substitute([]byte(input), "", shell.New())))
}
