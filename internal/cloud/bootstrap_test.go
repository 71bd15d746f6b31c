package cloud

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chiquitav2/ddcloud/internal/cloud/ssh/sshtest"
	"github.com/chiquitav2/ddcloud/internal/config"
	apperrors "github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/chiquitav2/ddcloud/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootstrapOpts(global map[string]any) *config.Opts {
	return config.NewOpts(global,
		map[string]map[string]any{"my-dd": {"driver": "dimensiondata"}},
		map[string]map[string]any{"web": {"provider": "my-dd"}},
	)
}

func recordingBus(t *testing.T) (events.Bus, func() []string) {
	bus := events.NewBus(events.DefaultBusConfig(), nil)
	t.Cleanup(func() { bus.Close() })

	var mu sync.Mutex
	var tags []string
	require.NoError(t, bus.Subscribe(events.Wildcard, func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		tags = append(tags, e.Tag())
		return nil
	}))
	return bus, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), tags...)
	}
}

func TestBootstrapNoDeploy(t *testing.T) {
	bus, tags := recordingBus(t)
	b := NewSSHBootstrapper(bus, nil)

	vm := config.VM{"name": "web-01", "profile": "web", "driver": "my-dd", "ssh_host": "203.0.113.9"}
	ret, err := b.Bootstrap(context.Background(), vm, bootstrapOpts(map[string]any{"deploy": false}))

	require.NoError(t, err)
	assert.Equal(t, false, ret["deployed"])
	assert.Equal(t, NoDeployMessage, ret["message"])
	assert.Empty(t, tags())
}

func TestBootstrapRunsScript(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{User: "root", Password: "Pa55word!"}, func(e sshtest.Exec) (string, int) {
		if e.Command == "id -u" {
			return "0\n", 0
		}
		return "bootstrap complete\n", 0
	})
	bus, tags := recordingBus(t)
	b := NewSSHBootstrapper(bus, nil)
	b.PortInterval = 10 * time.Millisecond

	vm := config.VM{
		"name": "web-01", "profile": "web", "driver": "my-dd",
		"ssh_host": srv.Host, "ssh_port": srv.Port, "password": "Pa55word!",
		"agent_host": "10.0.0.5", "script_args": "-P stable",
	}
	ret, err := b.Bootstrap(context.Background(), vm, bootstrapOpts(nil))
	require.NoError(t, err)

	assert.Equal(t, true, ret["deployed"])
	assert.Equal(t, "bootstrap complete\n", ret["script_output"])

	execs := srv.Execs()
	require.Len(t, execs, 2)
	assert.Equal(t, "id -u", execs[0].Command)
	assert.Equal(t, "sh -s -- -P stable", execs[1].Command)
	assert.Contains(t, execs[1].Stdin, `node_name="web-01"`)
	assert.Contains(t, execs[1].Stdin, "master_host: 10.0.0.5")

	assert.Equal(t, []string{"cloud/web-01/deploying", "cloud/web-01/deployed"}, tags())
}

func TestBootstrapSudoForNonRoot(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{User: "ubuntu", Password: "pw"}, func(e sshtest.Exec) (string, int) {
		if e.Command == "id -u" {
			return "1000\n", 0
		}
		return "", 0
	})
	b := NewSSHBootstrapper(nil, nil)
	b.PortInterval = 10 * time.Millisecond

	vm := config.VM{
		"name": "web-01", "profile": "web", "driver": "my-dd",
		"ssh_host": srv.Host, "ssh_port": srv.Port, "password": "pw", "ssh_username": "ubuntu",
	}
	_, err := b.Bootstrap(context.Background(), vm, bootstrapOpts(nil))
	require.NoError(t, err)

	execs := srv.Execs()
	require.Len(t, execs, 2)
	assert.Equal(t, "id -u", execs[0].Command)
	assert.Equal(t, "sudo sh -s --", execs[1].Command)
}

func TestBootstrapExplicitSudoSkipsUIDCheck(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{User: "ubuntu", Password: "pw"}, nil)
	b := NewSSHBootstrapper(nil, nil)
	b.PortInterval = 10 * time.Millisecond

	vm := config.VM{
		"name": "web-01", "profile": "web", "driver": "my-dd",
		"ssh_host": srv.Host, "ssh_port": srv.Port, "password": "pw", "ssh_username": "ubuntu",
		"sudo": false,
	}
	_, err := b.Bootstrap(context.Background(), vm, bootstrapOpts(nil))
	require.NoError(t, err)

	execs := srv.Execs()
	require.Len(t, execs, 1)
	assert.Equal(t, "sh -s --", execs[0].Command)
}

func TestBootstrapUIDCheckFailure(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{User: "root", Password: "pw"}, func(e sshtest.Exec) (string, int) {
		return "id: not found\n", 127
	})
	b := NewSSHBootstrapper(nil, nil)
	b.PortInterval = 10 * time.Millisecond

	vm := config.VM{"name": "web-01", "ssh_host": srv.Host, "ssh_port": srv.Port, "password": "pw"}
	_, err := b.Bootstrap(context.Background(), vm, bootstrapOpts(nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSSHCommand))
	assert.Len(t, srv.Execs(), 1, "script never sent")
}

func TestBootstrapScriptFailure(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{User: "root", Password: "pw"}, func(e sshtest.Exec) (string, int) {
		if e.Command == "id -u" {
			return "0\n", 0
		}
		return "apt-get: not found\n", 127
	})
	b := NewSSHBootstrapper(nil, nil)
	b.PortInterval = 10 * time.Millisecond

	vm := config.VM{"name": "web-01", "ssh_host": srv.Host, "ssh_port": srv.Port, "password": "pw"}
	_, err := b.Bootstrap(context.Background(), vm, bootstrapOpts(nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSSHCommand))
}

func TestBootstrapKnownHostsMismatch(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{User: "root", Password: "pw"}, nil)
	b := NewSSHBootstrapper(nil, nil)
	b.PortInterval = 10 * time.Millisecond

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, []byte("# nothing trusted yet\n"), 0o600))

	vm := config.VM{"name": "web-01", "ssh_host": srv.Host, "ssh_port": srv.Port, "password": "pw"}
	_, err := b.Bootstrap(context.Background(), vm, bootstrapOpts(map[string]any{"known_hosts_file": knownHosts}))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSSHConnection))
	assert.Empty(t, srv.Execs())
}

func TestBootstrapRequiresHost(t *testing.T) {
	b := NewSSHBootstrapper(nil, nil)
	_, err := b.Bootstrap(context.Background(), config.VM{"name": "web-01"}, bootstrapOpts(nil))
	assert.True(t, apperrors.IsConfigError(err))
}

func TestRenderScriptFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo {{.Name}} via {{.Provider}}\n"), 0o600))

	vm := config.VM{"name": "db-01", "profile": "web", "driver": "my-dd:dimensiondata", "script": path}
	out, err := RenderScript(vm, bootstrapOpts(nil))
	require.NoError(t, err)
	assert.Equal(t, "echo db-01 via my-dd\n", out)

	vm["script"] = filepath.Join(t.TempDir(), "missing.sh")
	_, err = RenderScript(vm, bootstrapOpts(nil))
	assert.True(t, apperrors.IsConfigError(err))
}

func TestRenderDefaultScriptWithoutAgentHost(t *testing.T) {
	out, err := RenderScript(config.VM{"name": "db-01", "profile": "web", "driver": "my-dd"}, bootstrapOpts(nil))
	require.NoError(t, err)
	assert.Contains(t, out, "profile: web")
	assert.NotContains(t, out, "master_host")
}

func TestGetAgentInterface(t *testing.T) {
	opts := config.NewOpts(nil,
		map[string]map[string]any{"my-dd": {"driver": "dimensiondata", "ssh_interface": "private_ips"}},
		map[string]map[string]any{"web": {"provider": "my-dd"}},
	)
	vm := config.VM{"name": "a", "profile": "web", "driver": "my-dd"}

	assert.Equal(t, "private_ips", GetAgentInterface(vm, opts))

	vm["agent_interface"] = "public_ips"
	assert.Equal(t, "public_ips", GetAgentInterface(vm, opts))

	assert.Equal(t, "public_ips", GetAgentInterface(config.VM{}, config.NewOpts(nil, nil, nil)))
}

func TestFireEventNilBus(t *testing.T) {
	assert.NotPanics(t, func() {
		FireEvent(context.Background(), nil, nil, "msg", events.CloudTag("a", ActionCreated), nil)
	})
}
