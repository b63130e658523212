package merge

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidspace/sqs/engine/filter"
	"github.com/squidspace/sqs/engine/scratch"
	"github.com/squidspace/sqs/pkg/logger"
)

func writeInputs(t *testing.T, fsys afero.Fs, ws *scratch.Workspace, contents ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(contents))
	for _, c := range contents {
		p := ws.UniquePath("txt")
		require.NoError(t, afero.WriteFile(fsys, p, []byte(c), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func TestMerge(t *testing.T) {
	log := logger.NewLogger(logger.TestConfig())

	t.Run("Should merge inputs in order with a trailing separator after each", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, err := scratch.Create(fsys, "/scratch", log)
		require.NoError(t, err)
		data := []string{
			"This is temporary test text file 1.",
			"This is temporary test text file 2.",
			"This is temporary test text file 3.",
			"This is temporary test text file 4.",
		}
		inputs := writeInputs(t, fsys, ws, data...)
		n := New().Apply(context.Background(), filter.Invocation{
			Inputs:  inputs,
			Outputs: ws.Outputs(),
			Options: map[string]any{"out-name": "testmerged.txt", "file-separator": "\n\n"},
			Fs:      fsys,
			Log:     log,
		})
		assert.Equal(t, 4, n)
		got, err := afero.ReadFile(fsys, ws.NamedPath("testmerged.txt"))
		require.NoError(t, err)
		assert.Equal(t, strings.Join(data, "\n\n")+"\n\n", string(got))
	})

	t.Run("Should use only the base name of out-name", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, err := scratch.Create(fsys, "/scratch", log)
		require.NoError(t, err)
		inputs := writeInputs(t, fsys, ws, "a", "b")
		n := New().Apply(context.Background(), filter.Invocation{
			Inputs:  inputs,
			Outputs: ws.Outputs(),
			Options: map[string]any{"out-name": "../elsewhere/joined.txt"},
			Fs:      fsys,
			Log:     log,
		})
		assert.Equal(t, 2, n)
		got, err := afero.ReadFile(fsys, ws.NamedPath("joined.txt"))
		require.NoError(t, err)
		assert.Equal(t, "ab", string(got))
	})

	t.Run("Should stream inputs larger than one chunk", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, err := scratch.Create(fsys, "/scratch", log)
		require.NoError(t, err)
		big := strings.Repeat("x", 3*chunkSize+17)
		inputs := writeInputs(t, fsys, ws, big, "tail")
		n := Files(context.Background(), fsys, inputs, ws.NamedPath("out.bin"), "", log)
		assert.Equal(t, 2, n)
		got, err := afero.ReadFile(fsys, ws.NamedPath("out.bin"))
		require.NoError(t, err)
		assert.Equal(t, big+"tail", string(got))
	})

	t.Run("Should skip unreadable inputs and count the rest", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, err := scratch.Create(fsys, "/scratch", log)
		require.NoError(t, err)
		inputs := writeInputs(t, fsys, ws, "one", "two")
		inputs = append([]string{ws.NamedPath("missing.txt")}, inputs...)
		n := Files(context.Background(), fsys, inputs, ws.NamedPath("out.txt"), "|", log)
		assert.Equal(t, 2, n)
		got, err := afero.ReadFile(fsys, ws.NamedPath("out.txt"))
		require.NoError(t, err)
		assert.Equal(t, "one|two|", string(got))
	})

	t.Run("Should return zero without out-name", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, err := scratch.Create(fsys, "/scratch", log)
		require.NoError(t, err)
		inputs := writeInputs(t, fsys, ws, "a")
		n := New().Apply(context.Background(), filter.Invocation{
			Inputs:  inputs,
			Outputs: ws.Outputs(),
			Fs:      fsys,
			Log:     log,
		})
		assert.Equal(t, 0, n)
	})

	t.Run("Should return zero on unknown options", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		n := New().Apply(context.Background(), filter.Invocation{
			Inputs:  []string{"/a"},
			Outputs: filter.DirOutputs("/out"),
			Options: map[string]any{"out-name": "x", "separator": ","},
			Fs:      fsys,
			Log:     log,
		})
		assert.Equal(t, 0, n)
	})

	t.Run("Should return zero when the output cannot be opened", func(t *testing.T) {
		fsys := afero.NewReadOnlyFs(afero.NewMemMapFs())
		n := Files(context.Background(), fsys, []string{"/a"}, "/out/merged.txt", "", log)
		assert.Equal(t, 0, n)
	})
}
