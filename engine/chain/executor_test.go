package chain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/squidspace/sqs/engine/filter"
	"github.com/squidspace/sqs/engine/filter/builtin"
	"github.com/squidspace/sqs/engine/scratch"
	"github.com/squidspace/sqs/pkg/logger"
)

type call struct {
	inputs  []string
	outPath string
}

// recorder is a filter that copies each input with a suffix appended and
// remembers what it saw.
type recorder struct {
	kind   filter.Kind
	suffix string
	limit  int
	calls  []call
}

func (r *recorder) Kind() filter.Kind { return r.kind }
func (r *recorder) Doc() string       { return "test filter" }

func (r *recorder) Apply(_ context.Context, inv filter.Invocation) int {
	fsys := inv.Filesystem()
	c := call{inputs: append([]string(nil), inv.Inputs...)}
	done := 0
	for _, in := range inv.Inputs {
		if r.limit > 0 && done >= r.limit {
			break
		}
		data, err := afero.ReadFile(fsys, in)
		if err != nil {
			continue
		}
		out := inv.Outputs(filepath.Base(in))
		c.outPath = filepath.Dir(out)
		if err := afero.WriteFile(fsys, out, append(data, r.suffix...), 0o644); err != nil {
			continue
		}
		done++
	}
	r.calls = append(r.calls, c)
	return done
}

func testLogger() logger.Logger {
	return logger.NewLogger(logger.TestConfig())
}

func setup(t *testing.T, fsys afero.Fs, files map[string]string) (*scratch.Workspace, []string) {
	t.Helper()
	ws, err := scratch.Create(fsys, "/build/scratch", testLogger())
	require.NoError(t, err)
	inputs := make([]string, 0, len(files))
	for name, content := range files {
		p := filepath.Join("/src", name)
		require.NoError(t, afero.WriteFile(fsys, p, []byte(content), 0o644))
		inputs = append(inputs, p)
	}
	return ws, inputs
}

func newRegistry(t *testing.T, filters ...filter.Filter) *filter.Registry {
	t.Helper()
	reg, err := filter.NewRegistry(filters...)
	require.NoError(t, err)
	return reg
}

func TestRunPreconditions(t *testing.T) {
	exec := New(newRegistry(t), WithLogger(testLogger()))
	fsys := afero.NewMemMapFs()
	ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a"})

	t.Run("Should fail without inputs", func(t *testing.T) {
		assert.False(t, exec.Run(context.Background(), nil, "/out", ws, nil))
	})

	t.Run("Should fail without output directory", func(t *testing.T) {
		assert.False(t, exec.Run(context.Background(), inputs, "", ws, nil))
	})

	t.Run("Should fail without workspace", func(t *testing.T) {
		assert.False(t, exec.Run(context.Background(), inputs, "/out", nil, nil))
	})
}

func TestRunIdentity(t *testing.T) {
	t.Run("Should copy every input unchanged when the chain is empty", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "alpha", "b.bin": "\x00\x01\x02"})
		exec := New(newRegistry(t), WithLogger(testLogger()))
		for _, chain := range []filter.Chain{nil, {}} {
			require.True(t, exec.Run(context.Background(), inputs, "/out", ws, chain))
			got, err := afero.ReadFile(fsys, "/out/a.txt")
			require.NoError(t, err)
			assert.Equal(t, "alpha", string(got))
			got, err = afero.ReadFile(fsys, "/out/b.bin")
			require.NoError(t, err)
			assert.Equal(t, "\x00\x01\x02", string(got))
		}
	})

	t.Run("Should report missing inputs but copy the rest", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "alpha"})
		exec := New(newRegistry(t), WithLogger(testLogger()))
		inputs = append(inputs, "/src/missing.txt")
		assert.False(t, exec.Run(context.Background(), inputs, "/out", ws, nil))
		exists, err := afero.Exists(fsys, "/out/a.txt")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestRunChain(t *testing.T) {
	t.Run("Should alternate buffers and write only the last stage to the destination", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a"})
		s1 := &recorder{kind: "one", suffix: "1"}
		s2 := &recorder{kind: "two", suffix: "2"}
		s3 := &recorder{kind: "three", suffix: "3"}
		exec := New(newRegistry(t, s1, s2, s3), WithLogger(testLogger()))
		ok := exec.Run(context.Background(), inputs, "/out", ws, filter.Chain{
			{Name: "one"}, {Name: "two"}, {Name: "three"},
		})
		require.True(t, ok)
		sd1 := ws.NamedPath(bufferA)
		sd2 := ws.NamedPath(bufferB)
		assert.Equal(t, sd2, s1.calls[0].outPath)
		assert.Equal(t, []string{filepath.Join(sd2, "a.txt")}, s2.calls[0].inputs)
		assert.Equal(t, sd1, s2.calls[0].outPath)
		assert.Equal(t, []string{filepath.Join(sd1, "a.txt")}, s3.calls[0].inputs)
		assert.Equal(t, "/out", s3.calls[0].outPath)
		got, err := afero.ReadFile(fsys, "/out/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "a123", string(got))
	})

	t.Run("Should flip buffer roles on swap", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, err := scratch.Create(fsys, "/scratch", testLogger())
		require.NoError(t, err)
		bufs, err := newBuffers(ws)
		require.NoError(t, err)
		first := bufs.output()
		require.NoError(t, bufs.swap())
		assert.Equal(t, first, bufs.input())
		assert.Equal(t, 1, bufs.swaps)
	})

	t.Run("Should perform one swap fewer than the number of stages", func(t *testing.T) {
		for n := 1; n <= 4; n++ {
			reader := sdkmetric.NewManualReader()
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			fsys := afero.NewMemMapFs()
			ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a"})
			rec := &recorder{kind: "step"}
			exec := New(newRegistry(t, rec), WithLogger(testLogger()), WithMeterProvider(mp))
			chain := make(filter.Chain, n)
			for i := range chain {
				chain[i] = filter.Spec{Name: "step"}
			}
			require.True(t, exec.Run(context.Background(), inputs, "/out", ws, chain))

			var rm metricdata.ResourceMetrics
			require.NoError(t, reader.Collect(context.Background(), &rm))
			assert.Equal(t, int64(n-1), sumValue(rm, "sqs_chain_buffer_swaps_total"), "stages=%d", n)
			outs := map[string]int{}
			for _, c := range rec.calls {
				outs[c.outPath]++
			}
			assert.Equal(t, 1, outs["/out"], "stages=%d", n)
		}
	})

	t.Run("Should leave intermediate outputs out of the destination", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a"})
		rename := filter.New("rename", "", func(_ context.Context, inv filter.Invocation) int {
			for _, in := range inv.Inputs {
				data, _ := afero.ReadFile(inv.Fs, in)
				_ = afero.WriteFile(inv.Fs, inv.Outputs("intermediate.txt"), data, 0o644)
			}
			return len(inv.Inputs)
		})
		last := &recorder{kind: "last"}
		exec := New(newRegistry(t, rename, last), WithLogger(testLogger()))
		require.True(t, exec.Run(context.Background(), inputs, "/out", ws, filter.Chain{{Name: "rename"}, {Name: "last"}}))
		assert.Equal(t, []string{"/out/intermediate.txt"}, scratch.ListFiles(fsys, "/out"))
	})

	t.Run("Should stop at an unknown filter without writing outputs", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a"})
		after := &recorder{kind: "after"}
		exec := New(newRegistry(t, after), WithLogger(testLogger()))
		ok := exec.Run(context.Background(), inputs, "/out", ws, filter.Chain{{Name: "doesnotexist"}, {Name: "after"}})
		assert.False(t, ok)
		assert.Empty(t, after.calls)
		assert.Empty(t, scratch.ListFiles(fsys, "/out"))
	})

	t.Run("Should continue after a partial stage and report failure", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a", "b.txt": "b"})
		partial := &recorder{kind: "partial", limit: 1}
		next := &recorder{kind: "next", suffix: "!"}
		exec := New(newRegistry(t, partial, next), WithLogger(testLogger()))
		ok := exec.Run(context.Background(), inputs, "/out", ws, filter.Chain{{Name: "partial"}, {Name: "next"}})
		assert.False(t, ok)
		require.Len(t, next.calls, 1)
		assert.Len(t, next.calls[0].inputs, 1)
		assert.Len(t, scratch.ListFiles(fsys, "/out"), 1)
	})

	t.Run("Should abort after a partial stage when the policy says so", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a", "b.txt": "b"})
		partial := &recorder{kind: "partial", limit: 1}
		next := &recorder{kind: "next"}
		exec := New(newRegistry(t, partial, next), WithLogger(testLogger()), WithPolicy(PolicyAbort))
		ok := exec.Run(context.Background(), inputs, "/out", ws, filter.Chain{{Name: "partial"}, {Name: "next"}})
		assert.False(t, ok)
		assert.Empty(t, next.calls)
	})

	t.Run("Should report a stage that processed nothing", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a"})
		none := filter.New("none", "", func(context.Context, filter.Invocation) int { return 0 })
		exec := New(newRegistry(t, none), WithLogger(testLogger()))
		assert.False(t, exec.Run(context.Background(), inputs, "/out", ws, filter.Chain{{Name: "none"}}))
	})

	t.Run("Should produce identical results on fresh workspaces", func(t *testing.T) {
		run := func() string {
			fsys := afero.NewMemMapFs()
			ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a"})
			exec := New(newRegistry(t, &recorder{kind: "x", suffix: "x"}, &recorder{kind: "y", suffix: "y"}),
				WithLogger(testLogger()))
			require.True(t, exec.Run(context.Background(), inputs, "/out", ws, filter.Chain{{Name: "x"}, {Name: "y"}}))
			got, err := afero.ReadFile(fsys, "/out/a.txt")
			require.NoError(t, err)
			return string(got)
		}
		assert.Equal(t, run(), run())
	})

	t.Run("Should stop when the context is canceled", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a"})
		rec := &recorder{kind: "x"}
		exec := New(newRegistry(t, rec), WithLogger(testLogger()))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, exec.Run(ctx, inputs, "/out", ws, filter.Chain{{Name: "x"}}))
		assert.Empty(t, rec.calls)
	})
}

func TestRunBuiltins(t *testing.T) {
	t.Run("Should merge then rename through a shell command", func(t *testing.T) {
		root := t.TempDir()
		fsys := afero.NewOsFs()
		ws, err := scratch.Create(fsys, filepath.Join(root, "scratch"), testLogger())
		require.NoError(t, err)
		inputs := make([]string, 0, 4)
		for i := 1; i <= 4; i++ {
			p := filepath.Join(root, fmt.Sprintf("in%d.txt", i))
			require.NoError(t, os.WriteFile(p, []byte(fmt.Sprint(i)), 0o644))
			inputs = append(inputs, p)
		}
		outDir := filepath.Join(root, "out")
		exec := New(builtin.MustRegistry(), WithLogger(testLogger()))
		ok := exec.Run(context.Background(), inputs, outDir, ws, filter.Chain{
			{Name: "merge", Options: map[string]any{"out-name": "merged.txt", "file-separator": "\n\n"}},
			{Name: "shellexec", Options: map[string]any{
				"command-template": "cp {{ .pathIn }} {{ .pathOut }}",
				"out-ext":          "md",
			}},
		})
		require.True(t, ok)
		got, err := os.ReadFile(filepath.Join(outDir, "merged.md"))
		require.NoError(t, err)
		assert.Equal(t, "1\n\n2\n\n3\n\n4\n\n", string(got))
		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Should return false for an unknown built-in without outputs", func(t *testing.T) {
		root := t.TempDir()
		fsys := afero.NewOsFs()
		ws, err := scratch.Create(fsys, filepath.Join(root, "scratch"), testLogger())
		require.NoError(t, err)
		in := filepath.Join(root, "a.txt")
		require.NoError(t, os.WriteFile(in, []byte("a"), 0o644))
		outDir := filepath.Join(root, "out")
		exec := New(builtin.MustRegistry(), WithLogger(testLogger()))
		assert.False(t, exec.Run(context.Background(), []string{in}, outDir, ws, filter.Chain{{Name: "doesnotexist"}}))
		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestMetrics(t *testing.T) {
	t.Run("Should record stage outcomes and run results", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		fsys := afero.NewMemMapFs()
		ws, inputs := setup(t, fsys, map[string]string{"a.txt": "a", "b.txt": "b"})
		partial := &recorder{kind: "partial", limit: 1}
		exec := New(newRegistry(t, partial), WithLogger(testLogger()), WithMeterProvider(mp))
		assert.False(t, exec.Run(context.Background(), inputs, "/out", ws, filter.Chain{{Name: "partial"}}))

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		stages := findSum(t, rm, "sqs_chain_stages_total")
		require.Len(t, stages.DataPoints, 1)
		outcome, _ := stages.DataPoints[0].Attributes.Value(attribute.Key("outcome"))
		assert.Equal(t, string(outcomePartial), outcome.AsString())
		runs := findSum(t, rm, "sqs_chain_runs_total")
		require.Len(t, runs.DataPoints, 1)
		result, _ := runs.DataPoints[0].Attributes.Value(attribute.Key("result"))
		assert.Equal(t, "failed", result.AsString())
	})
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				return sum
			}
		}
	}
	require.Failf(t, "metric not found", "%s", name)
	return metricdata.Sum[int64]{}
}

// sumValue totals an int64 counter, reading an unrecorded counter as zero.
func sumValue(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestParsePolicy(t *testing.T) {
	t.Run("Should parse known policies", func(t *testing.T) {
		p, err := ParsePolicy("")
		require.NoError(t, err)
		assert.Equal(t, PolicyContinue, p)
		p, err = ParsePolicy(" Abort ")
		require.NoError(t, err)
		assert.Equal(t, PolicyAbort, p)
		assert.Equal(t, "abort", p.String())
	})

	t.Run("Should reject unknown policies", func(t *testing.T) {
		_, err := ParsePolicy("retry")
		require.Error(t, err)
	})
}
