package cloud

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/chiquitav2/ddcloud/internal/cloud/ssh"
	"github.com/chiquitav2/ddcloud/internal/config"
	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/chiquitav2/ddcloud/pkg/events"
	"github.com/chiquitav2/ddcloud/pkg/logger"
)

//go:embed templates
var templatesFS embed.FS

// NoDeployMessage is reported when deploy is disabled for a node
const NoDeployMessage = "'deploy' is not enabled. Not deploying."

// Bootstrapper installs the agent on a node that has an address
type Bootstrapper interface {
	Bootstrap(ctx context.Context, vm config.VM, opts *config.Opts) (map[string]any, error)
}

// DialFunc opens an SSH client; replaced in tests
type DialFunc func(cfg ssh.Config, log *logger.Logger) (ssh.Client, error)

// SSHBootstrapper streams the deploy script over SSH
type SSHBootstrapper struct {
	Bus          events.Bus
	Logger       *logger.Logger
	PortInterval time.Duration
	Dial         DialFunc
}

// NewSSHBootstrapper creates a bootstrapper publishing to bus
func NewSSHBootstrapper(bus events.Bus, log *logger.Logger) *SSHBootstrapper {
	if log == nil {
		log = logger.NewNop()
	}
	return &SSHBootstrapper{
		Bus:          bus,
		Logger:       log.WithComponent("bootstrap"),
		PortInterval: 5 * time.Second,
		Dial:         ssh.NewClient,
	}
}

// Bootstrap waits for SSH on vm["ssh_host"], then runs the deploy script.
// With deploy disabled it reports so and touches nothing.
func (b *SSHBootstrapper) Bootstrap(ctx context.Context, vm config.VM, opts *config.Opts) (map[string]any, error) {
	name := vm.Name()

	if !config.GetBool("deploy", vm, opts, true, true) {
		return map[string]any{"deployed": false, "message": NoDeployMessage}, nil
	}

	host, _ := vm["ssh_host"].(string)
	if host == "" {
		return nil, errors.NewConfigError(fmt.Sprintf("no ssh_host set for %s", name), nil)
	}

	sshCfg := ssh.Config{
		Host:    host,
		Port:    config.GetInt("ssh_port", vm, opts, 22, true),
		User:    config.GetString("ssh_username", vm, opts, "root", true),
		Timeout: config.GetSeconds("ssh_timeout", vm, opts, 30*time.Second, true),

		KnownHostsFile: config.GetString("known_hosts_file", vm, opts, "", true),
	}
	if pw, ok := vm["password"].(string); ok && pw != "" {
		sshCfg.Password = pw
	} else {
		sshCfg.Password = config.GetString("password", vm, opts, "", false)
	}
	if keyfile := config.GetString("ssh_keyfile", vm, opts, "", true); keyfile != "" {
		key, err := os.ReadFile(keyfile)
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("cannot read ssh_keyfile %s", keyfile), err)
		}
		sshCfg.PrivateKey = key
	}

	script, err := RenderScript(vm, opts)
	if err != nil {
		return nil, err
	}

	command := "sh -s --"
	if args := config.GetString("script_args", vm, opts, "", true); args != "" {
		command += " " + args
	}

	log := b.Logger.WithContext(logger.WithNode(ctx, name))
	FireEvent(ctx, b.Bus, b.Logger, "executing deploy script", events.CloudTag(name, ActionDeploying),
		map[string]any{"name": name, "host": host, "username": sshCfg.User})

	connectTimeout := config.GetSeconds("ssh_connect_timeout", vm, opts, 900*time.Second, true)
	log.Info("waiting for ssh", slog.String("host", host), slog.Int("port", sshCfg.Port), slog.Duration("timeout", connectTimeout))
	if err := ssh.WaitForPort(ctx, host, sshCfg.Port, connectTimeout, b.PortInterval); err != nil {
		return nil, err
	}

	client, err := b.Dial(sshCfg, b.Logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	sudo, err := needsSudo(ctx, client, vm, opts)
	if err != nil {
		return nil, err
	}
	if sudo {
		command = "sudo " + command
	}

	output, err := client.RunScript(ctx, command, strings.NewReader(script))
	if err != nil {
		return nil, err
	}

	log.Info("deploy script finished", slog.String("host", host))
	FireEvent(ctx, b.Bus, b.Logger, "deploy script finished", events.CloudTag(name, ActionDeployed),
		map[string]any{"name": name, "host": host})

	return map[string]any{"deployed": true, "script_output": output}, nil
}

// needsSudo honours an explicit "sudo" setting, otherwise asks the node
// whether the login user is root.
func needsSudo(ctx context.Context, client ssh.Client, vm config.VM, opts *config.Opts) (bool, error) {
	if config.GetCloudConfigValue("sudo", vm, opts, nil, true) != nil {
		return config.GetBool("sudo", vm, opts, false, true), nil
	}
	uid, err := client.RunCommand(ctx, "id -u")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(uid) != "0", nil
}

type scriptData struct {
	Name      string
	Profile   string
	Provider  string
	AgentHost string
}

// RenderScript renders the deploy script for vm: the file named by "script"
// when set, the built-in bootstrap otherwise.
func RenderScript(vm config.VM, opts *config.Opts) (string, error) {
	var (
		body   []byte
		source string
		err    error
	)

	if path := config.GetString("script", vm, opts, "", true); path != "" {
		source = path
		body, err = os.ReadFile(path)
		if err != nil {
			return "", errors.NewConfigError(fmt.Sprintf("cannot read deploy script %s", path), err)
		}
	} else {
		source = "templates/bootstrap.sh"
		body, err = templatesFS.ReadFile(source)
		if err != nil {
			return "", errors.NewSystemError(errors.ErrCodeFileOperation, "default deploy script missing", false, err)
		}
	}

	tmpl, err := template.New(source).Option("missingkey=error").Parse(string(body))
	if err != nil {
		return "", errors.NewConfigError(fmt.Sprintf("failed to parse deploy script %s", source), err)
	}

	agentHost, _ := vm["agent_host"].(string)
	data := scriptData{
		Name:      vm.Name(),
		Profile:   vm.Profile(),
		Provider:  vm.ProviderAlias(),
		AgentHost: agentHost,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.NewConfigError(fmt.Sprintf("failed to render deploy script %s", source), err)
	}
	return buf.String(), nil
}
