package actions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliod-dev/heliod/pkg/context"
)

func colorStore() *context.Store {
	return context.FromMap(map[string]interface{}{
		"colors": map[string]interface{}{
			"foreground": "white",
			"background": "black",
		},
	})
}

func TestCompileSingleTemplate(t *testing.T) {
	env := testEnv(t)
	env.Store = colorStore()
	template := filepath.Join(env.Directory, "polybar.template")
	target := filepath.Join(t.TempDir(), "polybar.config")
	writeFile(t, template, "foreground = {{ colors.foreground }}\n")

	action, err := NewCompile(map[string]interface{}{
		"content": "polybar.template",
		"target":  target,
	}, env)
	require.NoError(t, err)

	compiled, err := action.Execute(false)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{template: target}, compiled)
	assert.Equal(t, "foreground = white\n", readFile(t, target))
}

func TestCompileRecordsCreatedFile(t *testing.T) {
	env := testEnv(t)
	env.Store = colorStore()
	template := filepath.Join(env.Directory, "a.template")
	target := filepath.Join(t.TempDir(), "a.conf")
	writeFile(t, template, "{{ colors.background }}")

	action, err := NewCompile(map[string]interface{}{
		"content": template,
		"target":  target,
	}, env)
	require.NoError(t, err)
	_, err = action.Execute(false)
	require.NoError(t, err)

	assert.Equal(t, "test", env.Created.OwnedBy(target))
}

func TestCompileAllocatesStableTempTarget(t *testing.T) {
	env := testEnv(t)
	env.Store = colorStore()
	template := filepath.Join(env.Directory, "bar.template")
	writeFile(t, template, "bg={{ colors.background }}")

	action, err := NewCompile(map[string]interface{}{
		"content": "bar.template",
	}, env)
	require.NoError(t, err)

	first, err := action.Execute(false)
	require.NoError(t, err)
	second, err := action.Execute(false)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, first, second, "repeated compiles must reuse the allocated target")

	target := first[template]
	assert.True(t, strings.HasPrefix(target, env.TempDir))
	assert.Equal(t, "bg=black", readFile(t, target))

	performed := action.PerformedCompilations()
	require.Len(t, performed, 1)
	assert.Len(t, performed[template], 1)
}

func TestCompileMissingTemplateIsSkipped(t *testing.T) {
	env := testEnv(t)

	action, err := NewCompile(map[string]interface{}{
		"content": "does_not_exist.template",
		"target":  filepath.Join(t.TempDir(), "out"),
	}, env)
	require.NoError(t, err)

	compiled, err := action.Execute(false)
	require.NoError(t, err, "missing templates are logged, not fatal")
	assert.Empty(t, compiled)
}

func TestCompilePermissions(t *testing.T) {
	tests := []struct {
		name        string
		permissions interface{}
		want        os.FileMode
	}{
		{name: "octal integer", permissions: 755, want: 0o755},
		{name: "octal string", permissions: "0600", want: 0o600},
		{name: "symbolic", permissions: "u+x", want: 0o744},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnv(t)
			env.Store = colorStore()
			template := filepath.Join(env.Directory, "script.template")
			target := filepath.Join(t.TempDir(), "script")
			writeFile(t, template, "echo {{ colors.foreground }}")
			require.NoError(t, os.Chmod(template, 0o644))

			action, err := NewCompile(map[string]interface{}{
				"content":     template,
				"target":      target,
				"permissions": tt.permissions,
			}, env)
			require.NoError(t, err)
			_, err = action.Execute(false)
			require.NoError(t, err)

			info, err := os.Stat(target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Mode().Perm())
		})
	}
}

func TestCompileKeepsTemplateMode(t *testing.T) {
	env := testEnv(t)
	env.Store = colorStore()
	template := filepath.Join(env.Directory, "private.template")
	target := filepath.Join(t.TempDir(), "private")
	writeFile(t, template, "secret")
	require.NoError(t, os.Chmod(template, 0o600))

	action, err := NewCompile(map[string]interface{}{
		"content": template,
		"target":  target,
	}, env)
	require.NoError(t, err)
	_, err = action.Execute(false)
	require.NoError(t, err)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCompileDirectory(t *testing.T) {
	env := testEnv(t)
	env.Store = colorStore()
	source := filepath.Join(env.Directory, "templates")
	target := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(source, "greeting.template"), "hello {{ colors.foreground }}")
	writeFile(t, filepath.Join(source, "nested", "other.template"), "{{ colors.background }}")
	writeFile(t, filepath.Join(source, "notes.txt"), "plain text")

	action, err := NewCompile(map[string]interface{}{
		"content":   source,
		"target":    target,
		"templates": `(.+)\.template`,
	}, env)
	require.NoError(t, err)

	compiled, err := action.Execute(false)
	require.NoError(t, err)

	assert.Equal(t, "hello white", readFile(t, filepath.Join(target, "greeting")))
	assert.Equal(t, "black", readFile(t, filepath.Join(target, "nested", "other")))

	// The plain file is symlinked by default and still reported.
	link := filepath.Join(target, "notes.txt")
	resolved, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(source, "notes.txt"), resolved)
	assert.Equal(t, link, compiled[filepath.Join(source, "notes.txt")])

	assert.True(t, action.Manages(filepath.Join(source, "nested", "other.template")),
		"files inside a compiled directory are managed individually")
}

func TestCompileDirectoryNonTemplatePolicies(t *testing.T) {
	newAction := func(t *testing.T, policy string) (Env, string, string) {
		env := testEnv(t)
		env.Store = colorStore()
		source := filepath.Join(env.Directory, "templates")
		target := filepath.Join(t.TempDir(), "out")
		writeFile(t, filepath.Join(source, "plain"), "plain contents")

		action, err := NewCompile(map[string]interface{}{
			"content":       source,
			"target":        target,
			"templates":     `(.+)\.template`,
			"non_templates": policy,
		}, env)
		require.NoError(t, err)
		_, err = action.Execute(false)
		require.NoError(t, err)
		return env, source, target
	}

	t.Run("copy", func(t *testing.T) {
		_, _, target := newAction(t, "copy")
		placed := filepath.Join(target, "plain")
		info, err := os.Lstat(placed)
		require.NoError(t, err)
		assert.True(t, info.Mode().IsRegular())
		assert.Equal(t, "plain contents", readFile(t, placed))
	})

	t.Run("ignore", func(t *testing.T) {
		_, _, target := newAction(t, "ignore")
		assert.NoFileExists(t, filepath.Join(target, "plain"))
	})

	t.Run("invalid policy falls back to ignore", func(t *testing.T) {
		_, _, target := newAction(t, "hardlink")
		assert.NoFileExists(t, filepath.Join(target, "plain"))
	})
}

func TestCompileDryRun(t *testing.T) {
	env := testEnv(t)
	env.Store = colorStore()
	template := filepath.Join(env.Directory, "a.template")
	target := filepath.Join(t.TempDir(), "a.conf")
	writeFile(t, template, "{{ colors.foreground }}")

	action, err := NewCompile(map[string]interface{}{
		"content": template,
		"target":  target,
	}, env)
	require.NoError(t, err)

	compiled, err := action.Execute(true)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{template: target}, compiled,
		"dry runs report what would be compiled")
	assert.NoFileExists(t, target)
	assert.Empty(t, env.Created.OwnedBy(target))
}

func TestCompileManages(t *testing.T) {
	env := testEnv(t)
	env.Store = colorStore()
	template := filepath.Join(env.Directory, "a.template")
	writeFile(t, template, "x")

	action, err := NewCompile(map[string]interface{}{"content": template}, env)
	require.NoError(t, err)

	assert.False(t, action.Manages(template), "nothing compiled yet")

	_, err = action.Execute(false)
	require.NoError(t, err)

	assert.True(t, action.Manages(template))
	assert.False(t, action.Manages(filepath.Join(env.Directory, "other.template")))
}

func TestCompileOverwritesForeignFileWithBackup(t *testing.T) {
	env := testEnv(t)
	env.Store = colorStore()
	template := filepath.Join(env.Directory, "a.template")
	target := filepath.Join(t.TempDir(), "existing.conf")
	writeFile(t, template, "{{ colors.foreground }}")
	writeFile(t, target, "user content")

	action, err := NewCompile(map[string]interface{}{
		"content": template,
		"target":  target,
	}, env)
	require.NoError(t, err)
	_, err = action.Execute(false)
	require.NoError(t, err)

	assert.Equal(t, "white", readFile(t, target))

	require.NoError(t, env.Created.Cleanup("test", false))
	assert.Equal(t, "user content", readFile(t, target),
		"cleanup must restore the backed up original")
}
