package aqmbench

//
// Shell-based environment adapter
//

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ShellHostConfig describes one virtual host reachable through a
// command prefix, e.g. "ip netns exec h1" for a host realized as a
// network namespace.
type ShellHostConfig struct {
	// Name is the host name.
	Name string `json:"name" yaml:"name"`

	// Addr is the host's IPv4 address.
	Addr string `json:"addr" yaml:"addr"`

	// Prefix is the command prefix that enters the host.
	Prefix string `json:"prefix" yaml:"prefix"`
}

// ShellBackendConfig describes an emulation environment driven through
// shell commands. The environment itself (namespaces, switches, links)
// is built by an external tool; this adapter only drives it.
type ShellBackendConfig struct {
	// StartCommand brings the environment up. It must fail when the
	// environment is unclean.
	StartCommand string `json:"start_command" yaml:"start_command"`

	// StopCommand releases the environment.
	StopCommand string `json:"stop_command" yaml:"stop_command"`

	// Sources are the traffic source hosts, in flow order.
	Sources []ShellHostConfig `json:"sources" yaml:"sources"`

	// Dests are the paired destination hosts, in flow order.
	Dests []ShellHostConfig `json:"dests" yaml:"dests"`

	// Bottleneck is the switch port where shaping is installed.
	Bottleneck string `json:"bottleneck" yaml:"bottleneck"`

	// Delay is the switch port where the WAN delay is emulated.
	Delay string `json:"delay" yaml:"delay"`

	// CaptureInterfaces are the interfaces to observe.
	CaptureInterfaces []string `json:"capture_interfaces" yaml:"capture_interfaces"`
}

// ReadShellBackendConfig reads a [ShellBackendConfig] from a YAML file.
func ReadShellBackendConfig(path string) (*ShellBackendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &ShellBackendConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ShellBackend is a [Backend] over a [ShellBackendConfig].
type ShellBackend struct {
	// Config is the MANDATORY environment description.
	Config *ShellBackendConfig

	// Logger is the MANDATORY logger.
	Logger Logger
}

var _ Backend = &ShellBackend{}

// Start implements Backend
func (sb *ShellBackend) Start(ctx context.Context, flowCount int) (Topology, error) {
	if flowCount < 1 || flowCount > len(sb.Config.Sources) || flowCount > len(sb.Config.Dests) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFlowCount, flowCount)
	}
	if sb.Config.StartCommand != "" {
		if _, err := shellRun(ctx, "", sb.Config.StartCommand); err != nil {
			return nil, err
		}
	}
	var hosts []Host
	for _, hc := range sb.Config.Sources[:flowCount] {
		hosts = append(hosts, &shellHost{config: hc})
	}
	for _, hc := range sb.Config.Dests[:flowCount] {
		hosts = append(hosts, &shellHost{config: hc})
	}
	return &shellTopology{
		config: sb.Config,
		hosts:  hosts,
		logger: sb.Logger,
	}, nil
}

// shellHost implements [Host] over a command prefix.
type shellHost struct {
	config ShellHostConfig
}

var _ Host = &shellHost{}

// Name implements Host
func (sh *shellHost) Name() string {
	return sh.config.Name
}

// Addr implements Host
func (sh *shellHost) Addr() string {
	return sh.config.Addr
}

// Run implements Host
func (sh *shellHost) Run(ctx context.Context, command string) ([]byte, error) {
	return shellRun(ctx, sh.config.Prefix, command)
}

// StartProc implements Host
func (sh *shellHost) StartProc(ctx context.Context, command string) (Proc, error) {
	return shellStart(ctx, sh.config.Prefix, command)
}

// shellTopology implements [Topology] over a [ShellBackendConfig].
type shellTopology struct {
	closeOnce sync.Once
	config    *ShellBackendConfig
	hosts     []Host
	logger    Logger
}

var _ Topology = &shellTopology{}

// Hosts implements Topology
func (st *shellTopology) Hosts() []Host {
	return st.hosts
}

// BottleneckInterface implements Topology
func (st *shellTopology) BottleneckInterface() string {
	return st.config.Bottleneck
}

// DelayInterface implements Topology
func (st *shellTopology) DelayInterface() string {
	return st.config.Delay
}

// CaptureInterfaces implements Topology
func (st *shellTopology) CaptureInterfaces() []string {
	return st.config.CaptureInterfaces
}

// Run implements Topology
func (st *shellTopology) Run(ctx context.Context, command string) ([]byte, error) {
	return shellRun(ctx, "", command)
}

// StartProc implements Topology
func (st *shellTopology) StartProc(ctx context.Context, command string) (Proc, error) {
	return shellStart(ctx, "", command)
}

// Close implements Topology
func (st *shellTopology) Close() error {
	st.closeOnce.Do(func() {
		if st.config.StopCommand == "" {
			return
		}
		if _, err := shellRun(context.Background(), "", st.config.StopCommand); err != nil {
			st.logger.Warnf("aqmbench: stopping environment: %s", err.Error())
		}
	})
	return nil
}

// shellArgv composes the argv executing command behind prefix. The
// command runs under an inner shell so redirections keep working.
func shellArgv(prefix, command string) []string {
	return append(strings.Fields(prefix), "sh", "-c", command)
}

// shellRun executes command behind prefix and blocks.
func shellRun(ctx context.Context, prefix, command string) ([]byte, error) {
	argv := shellArgv(prefix, command)
	output, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%w: %q: %s", ErrCommandFailed, command, err.Error())
	}
	return output, nil
}

// shellStart starts command behind prefix in the background.
func shellStart(ctx context.Context, prefix, command string) (Proc, error) {
	argv := shellArgv(prefix, command)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrCommandFailed, command, err.Error())
	}
	return &osProc{cmd: cmd}, nil
}

// osProc implements [Proc] over os/exec.
type osProc struct {
	cmd *exec.Cmd
}

var _ Proc = &osProc{}

// Interrupt implements Proc
func (op *osProc) Interrupt() error {
	return op.cmd.Process.Signal(os.Interrupt)
}

// Kill implements Proc
func (op *osProc) Kill() error {
	return op.cmd.Process.Kill()
}

// Wait implements Proc
func (op *osProc) Wait() error {
	return op.cmd.Wait()
}
