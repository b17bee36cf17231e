package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/rex/internal/config"
	"github.com/michaelbrown/rex/internal/deployment"
)

func TestHandleCommand(t *testing.T) {
	st := &shellState{session: "main"}

	action, quit := st.handleCommand("/interactive python3")
	require.False(t, quit)
	require.NotNil(t, action)
	assert.Equal(t, "python3", action.Command)
	assert.True(t, action.IsInteractiveCommand)
	assert.Equal(t, "main", action.Session)

	action, _ = st.handleCommand("/leave exit()")
	require.NotNil(t, action)
	assert.True(t, action.IsInteractiveQuit)

	action, _ = st.handleCommand("/expect Password: ")
	assert.Nil(t, action)
	assert.Equal(t, []string{"Password:"}, st.expect)
	st.handleCommand("/expect")
	assert.Empty(t, st.expect)

	st.handleCommand("/timeout 2.5")
	assert.Equal(t, 2.5, st.timeout)
	st.handleCommand("/timeout soon")
	assert.Equal(t, 2.5, st.timeout)

	_, quit = st.handleCommand("/quit")
	assert.True(t, quit)
}

func TestDeploymentConfig(t *testing.T) {
	t.Cleanup(func() { remoteFlag = false })

	cfg := &config.Config{}
	dcfg, err := deploymentConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "local", dcfg.Kind())

	remoteFlag = true
	cfg.Remote = config.RemoteConfig{Host: "10.0.0.5", Port: 9000, AuthToken: "tok"}
	dcfg, err = deploymentConfig(cfg)
	require.NoError(t, err)
	rc, ok := dcfg.(*deployment.RemoteConfig)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", rc.Host)
	assert.Equal(t, 9000, rc.Port)
	assert.Equal(t, "tok", rc.AuthToken)

	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("type: dummy\n"), 0o644))
	cfg.DeploymentFile = path
	dcfg, err = deploymentConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "dummy", dcfg.Kind(), "a deployment file wins over --remote")
}
