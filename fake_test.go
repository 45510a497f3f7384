package aqmbench

//
// Fakes for driving the pipeline without an emulated environment
//

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fakeEnv is the shared state of a fake emulated environment. It
// records every observable action in order so tests can assert the
// pipeline's ordering invariants.
type fakeEnv struct {
	mu     sync.Mutex
	events []string

	// clientOutput is the raw artifact content written by clients.
	clientOutput string

	// captureOutput is the live capture content written by captures.
	captureOutput string

	// failClients contains the names of hosts whose client exits non-zero.
	failClients map[string]bool

	// failServers makes every traffic-server start fail.
	failServers bool

	// failShaping makes every tc command fail.
	failShaping bool

	// closeCount counts topology Close calls that did work.
	closeCount int
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{failClients: map[string]bool{}}
}

func (fe *fakeEnv) record(event string) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.events = append(fe.events, event)
}

func (fe *fakeEnv) eventIndex(prefix string) int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	for idx, event := range fe.events {
		if strings.HasPrefix(event, prefix) {
			return idx
		}
	}
	return -1
}

func (fe *fakeEnv) lastEventIndex(prefix string) int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	last := -1
	for idx, event := range fe.events {
		if strings.HasPrefix(event, prefix) {
			last = idx
		}
	}
	return last
}

// redirectTarget returns the path a shell command redirects stdout to.
func redirectTarget(command string) string {
	cut := strings.LastIndex(command, "> ")
	if cut < 0 {
		return ""
	}
	fields := strings.Fields(command[cut+2:])
	if len(fields) < 1 {
		return ""
	}
	return fields[0]
}

// fakeProc implements [Proc]. The fake process exits when it receives
// any signal, unless ignoreInterrupt is set, in which case only Kill
// terminates it.
type fakeProc struct {
	env             *fakeEnv
	name            string
	exitErr         error
	ignoreInterrupt bool
	done            chan any
	once            sync.Once
}

var _ Proc = &fakeProc{}

func newFakeProc(env *fakeEnv, name string) *fakeProc {
	return &fakeProc{env: env, name: name, done: make(chan any)}
}

func (fp *fakeProc) Interrupt() error {
	fp.env.record("interrupt " + fp.name)
	if !fp.ignoreInterrupt {
		fp.once.Do(func() { close(fp.done) })
	}
	return nil
}

func (fp *fakeProc) Kill() error {
	fp.env.record("kill " + fp.name)
	fp.once.Do(func() { close(fp.done) })
	return nil
}

func (fp *fakeProc) Wait() error {
	<-fp.done
	return fp.exitErr
}

// fakeHost implements [Host].
type fakeHost struct {
	env  *fakeEnv
	name string
	addr string
}

var _ Host = &fakeHost{}

func (fh *fakeHost) Name() string {
	return fh.name
}

func (fh *fakeHost) Addr() string {
	return fh.addr
}

func (fh *fakeHost) Run(ctx context.Context, command string) ([]byte, error) {
	if strings.Contains(command, "iperf3 -c") {
		fh.env.record("client " + fh.name)
		if fh.env.failClients[fh.name] {
			return nil, fmt.Errorf("%w: %q: exit status 1", ErrCommandFailed, command)
		}
		path := redirectTarget(command)
		return nil, os.WriteFile(path, []byte(fh.env.clientOutput), 0644)
	}
	fh.env.record("host " + fh.name + ": " + command)
	return nil, nil
}

func (fh *fakeHost) StartProc(ctx context.Context, command string) (Proc, error) {
	if fh.env.failServers && strings.Contains(command, "iperf3 -s") {
		return nil, errors.New("exit status 1")
	}
	fh.env.record("host-proc " + fh.name + ": " + command)
	return newFakeProc(fh.env, "proc "+fh.name), nil
}

// fakeTopology implements [Topology].
type fakeTopology struct {
	env   *fakeEnv
	hosts []Host
	once  sync.Once
}

var _ Topology = &fakeTopology{}

func (ft *fakeTopology) Hosts() []Host {
	return ft.hosts
}

func (ft *fakeTopology) BottleneckInterface() string {
	return "s1-eth2"
}

func (ft *fakeTopology) DelayInterface() string {
	return "s2-eth1"
}

func (ft *fakeTopology) CaptureInterfaces() []string {
	return []string{"s1-eth1", "s2-eth2"}
}

func (ft *fakeTopology) Run(ctx context.Context, command string) ([]byte, error) {
	if ft.env.failShaping && strings.HasPrefix(command, "tc qdisc") {
		return nil, fmt.Errorf("%w: %q: exit status 2", ErrCommandFailed, command)
	}
	ft.env.record("root: " + command)
	return nil, nil
}

func (ft *fakeTopology) StartProc(ctx context.Context, command string) (Proc, error) {
	if strings.Contains(command, "tcpdump") {
		iface := strings.Fields(command)[2]
		ft.env.record("capture-start " + iface)
		if path := redirectTarget(command); path != "" {
			if err := os.WriteFile(path, []byte(ft.env.captureOutput), 0644); err != nil {
				return nil, err
			}
		}
		return newFakeProc(ft.env, "capture "+iface), nil
	}
	ft.env.record("root-proc: " + command)
	return newFakeProc(ft.env, "proc root"), nil
}

func (ft *fakeTopology) Close() error {
	ft.once.Do(func() {
		ft.env.mu.Lock()
		ft.env.closeCount++
		ft.env.mu.Unlock()
		ft.env.record("topology close")
	})
	return nil
}

// fakeBackend implements [Backend].
type fakeBackend struct {
	env       *fakeEnv
	failStart bool
}

var _ Backend = &fakeBackend{}

func (fb *fakeBackend) Start(ctx context.Context, flowCount int) (Topology, error) {
	if fb.failStart {
		return nil, fmt.Errorf("%w: environment unclean", ErrCommandFailed)
	}
	fb.env.record("backend start")
	var hosts []Host
	for idx := 0; idx < 2*flowCount; idx++ {
		hosts = append(hosts, &fakeHost{
			env:  fb.env,
			name: fmt.Sprintf("h%d", idx+1),
			addr: fmt.Sprintf("10.0.0.%d", idx+1),
		})
	}
	return &fakeTopology{env: fb.env, hosts: hosts}, nil
}
