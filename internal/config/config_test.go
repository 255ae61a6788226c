package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Gates.Launch.Checklist, 7)
	assert.Len(t, cfg.RequiredLaunchKeys(), 5)
	assert.Len(t, cfg.Gates.Completion.Checklist, 6)
	assert.Equal(t, 4, cfg.Gates.Completion.MinChecked)
	assert.Contains(t, cfg.RBAC.Roles, "owner")
}

func TestFromYAMLOverridesKeepDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
llm:
  provider: http
  endpoint: http://llm.local/invoke
dispatcher:
  interval_ms: 500
  batch: 10
  concurrency: 2
  max_attempts: 3
  base_backoff_ms: 100
  max_backoff_ms: 1000
`))
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Dispatcher.MaxAttempts)
	assert.Len(t, cfg.Gates.Launch.Checklist, 7)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown provider": "llm:\n  provider: magic\n",
		"http no endpoint": "llm:\n  provider: http\n  endpoint: \"\"\n",
		"min checked too high": "gates:\n  completion:\n    min_checked: 9\n",
		"duplicate key": "gates:\n  launch:\n    checklist:\n      - {key: a, required: true}\n      - {key: a}\n",
		"no required": "gates:\n  launch:\n    checklist:\n      - {key: a}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestValidateRequiresOwnerRole(t *testing.T) {
	cfg := Default()
	cfg.RBAC.Roles = map[string]RBACRole{"viewer": {Permissions: []string{"program.read"}}}
	assert.Error(t, cfg.Validate())
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "programline.yml"), []byte("workspace:\n  org_id: city-lab\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "city-lab", cfg.Workspace.OrgID)
}
