package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWorkflowYAML = `
id: crm-sync
name: CRM Sync
description: Pull contacts and notify
steps:
  - id: fetch
    type: service_action
    service: crm
    action: list_contacts
    timeout: 10s
    params:
      limit: 50
  - id: gate
    type: condition
    condition: steps.fetch.count > 0
    depends_on: [fetch]
  - id: wait
    type: delay
    delay: 250ms
    depends_on: [gate]
  - id: notify
    type: webhook
    url: https://example.com/hook
    depends_on: [wait]
    continue_on_error: true
    params:
      count: "{{fetch.count}}"
`

func TestParseWorkflow(t *testing.T) {
	wf, err := ParseWorkflow([]byte(sampleWorkflowYAML))
	require.NoError(t, err)

	assert.Equal(t, "crm-sync", wf.ID)
	require.Len(t, wf.Steps, 4)

	fetch := wf.StepByID("fetch")
	require.NotNil(t, fetch)
	assert.Equal(t, StepServiceAction, fetch.Type)
	assert.Equal(t, 10*time.Second, fetch.Timeout)
	assert.Equal(t, 50, fetch.Params["limit"].Literal)

	wait := wf.StepByID("wait")
	require.NotNil(t, wait)
	assert.Equal(t, 250*time.Millisecond, wait.Delay)

	notify := wf.StepByID("notify")
	require.NotNil(t, notify)
	assert.True(t, notify.ContinueOnError)
	ref := notify.Params["count"].Ref
	require.NotNil(t, ref, "template param should become a reference")
	assert.Equal(t, "fetch", ref.Step)
	assert.Equal(t, "count", ref.Path)
}

func TestParseWorkflow_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "{{{"},
		{"missing id", "name: nameless"},
		{"bad timeout", `
id: w
steps:
  - id: a
    type: service_action
    service: s
    action: x
    timeout: soon
`},
		{"unknown dependency", `
id: w
steps:
  - id: a
    type: service_action
    service: s
    action: x
    depends_on: [ghost]
`},
		{"bad condition", `
id: w
steps:
  - id: a
    type: condition
    condition: "steps.a.value >"
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadWorkflowDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("id: wf-a\nsteps: []"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("id: wf-b\nsteps: []"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	workflows, err := LoadWorkflowDir(dir)
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "wf-a", workflows[0].ID)
	assert.Equal(t, "wf-b", workflows[1].ID)
}

func TestLibrary_LoadDirAndGet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("id: wf-a\nsteps: []"), 0o644))

	lib := NewLibrary()
	require.NoError(t, lib.LoadDir(dir))

	wf, ok := lib.Get("wf-a")
	require.True(t, ok)
	assert.Equal(t, "wf-a", wf.ID)

	_, ok = lib.Get("ghost")
	assert.False(t, ok)
	assert.Len(t, lib.List(), 1)
}

func TestLibrary_WatchReload(t *testing.T) {
	dir := t.TempDir()
	lib := NewLibrary()

	stop, err := lib.Watch(dir)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.yaml"), []byte("id: wf-new\nsteps: []"), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := lib.Get("wf-new")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLibrary_WatchIgnoresBrokenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("id: wf-a\nsteps: []"), 0o644))

	lib := NewLibrary()
	require.NoError(t, lib.LoadDir(dir))

	stop, err := lib.Watch(dir)
	require.NoError(t, err)
	defer stop()

	// a broken rewrite must not evict the last good definition
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("{{{"), 0o644))
	time.Sleep(200 * time.Millisecond)

	_, ok := lib.Get("wf-a")
	assert.True(t, ok)
}
