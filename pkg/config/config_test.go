package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/pkg/flow"
	"github.com/rapidaai/pkg/frame"
)

type stubProc struct{}

func (stubProc) Describe() flow.Descriptor {
	return flow.Descriptor{Name: "stub", InPorts: []string{"in", "sys-in"}, OutPorts: []string{"out"}, Workload: flow.WorkloadCompute}
}
func (stubProc) Init(ctx context.Context, params interface{}) (flow.State, []flow.ExtraPort, error) {
	return struct{}{}, nil, nil
}
func (stubProc) Transition(ctx context.Context, st flow.State, event flow.Event) (flow.State, error) {
	return st, nil
}
func (stubProc) Transform(ctx context.Context, st flow.State, inPort string, f frame.Frame) (flow.State, flow.Output, error) {
	return st, nil, nil
}

func writeTempFile(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFile_BuildsProcsAndConns(t *testing.T) {
	path := writeTempFile(t, "topology.yaml", `
procs:
  - id: stt
    type: stub
    args:
      sample_rate: 16000
  - id: llm
    type: stub
conns:
  - from_proc: stt
    from_port: out
    to_proc: llm
    to_port: in
`)

	cfg, err := LoadFile(path, Registry{"stub": func() flow.Process { return stubProc{} }})
	require.NoError(t, err)

	require.Len(t, cfg.Procs, 2)
	assert.Equal(t, "stt", cfg.Procs[0].ID)
	assert.Equal(t, 16000, cfg.Procs[0].Args["sample_rate"])
	assert.Equal(t, "llm", cfg.Procs[1].ID)

	require.Len(t, cfg.Conns, 1)
	assert.Equal(t, flow.Conn{FromProc: "stt", FromPort: "out", ToProc: "llm", ToPort: "in"}, cfg.Conns[0])
}

func TestLoadFile_UnregisteredType_ReturnsError(t *testing.T) {
	path := writeTempFile(t, "topology.yaml", `
procs:
  - id: stt
    type: nonexistent
`)

	_, err := LoadFile(path, Registry{"stub": func() flow.Process { return stubProc{} }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestLoadFile_MissingRequiredField_ReturnsError(t *testing.T) {
	path := writeTempFile(t, "topology.yaml", `
procs:
  - type: stub
`)

	_, err := LoadFile(path, Registry{"stub": func() flow.Process { return stubProc{} }})
	require.Error(t, err)
}

func TestLoadFile_MissingFile_ReturnsError(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/topology.yaml", Registry{})
	require.Error(t, err)
}
