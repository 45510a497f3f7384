package aqmbench

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestClientCommand(t *testing.T) {

	// testcase describes a test case for [clientCommand]
	type testcase struct {
		// name is the name of this test case
		name string

		// config is the traffic configuration
		config *TrafficConfig

		// expect is the expected command line
		expect string
	}

	var testcases = []testcase{{
		name: "fixed-time transfer",
		config: &TrafficConfig{
			Mode:     TransferFixedTime,
			Duration: 10 * time.Second,
		},
		expect: "iperf3 -c 10.0.0.3 -p 5201 -i 1 -t 10 > out/h1/result",
	}, {
		name: "fixed-volume transfer",
		config: &TrafficConfig{
			Mode:        TransferFixedVolume,
			VolumeBytes: 1073741824,
		},
		expect: "iperf3 -c 10.0.0.3 -p 5201 -i 1 -n 1073741824 > out/h1/result",
	}, {
		name: "structured output",
		config: &TrafficConfig{
			Mode:       TransferFixedTime,
			Duration:   5 * time.Second,
			Structured: true,
		},
		expect: "iperf3 -c 10.0.0.3 -p 5201 -i 1 -t 5 -J > out/h1/result",
	}}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			command := clientCommand(tc.config, "10.0.0.3", "out/h1/result")
			if command != tc.expect {
				t.Fatalf("expected %q got %q", tc.expect, command)
			}
		})
	}
}

func TestRunFlows(t *testing.T) {
	newPair := func(env *fakeEnv) (sources, dests []Host) {
		sources = []Host{
			&fakeHost{env: env, name: "h1", addr: "10.0.0.1"},
			&fakeHost{env: env, name: "h2", addr: "10.0.0.2"},
		}
		dests = []Host{
			&fakeHost{env: env, name: "h3", addr: "10.0.0.3"},
			&fakeHost{env: env, name: "h4", addr: "10.0.0.4"},
		}
		return
	}

	t.Run("all clients run and leave artifacts behind", func(t *testing.T) {
		env := newFakeEnv()
		env.clientOutput = clientTextFixture
		sources, dests := newPair(env)
		dir := t.TempDir()
		for _, host := range sources {
			if err := MakeOutputDirs(dir, []Host{host}); err != nil {
				t.Fatal(err)
			}
		}

		cfg := &TrafficConfig{
			Logger:    &NullLogger{},
			Mode:      TransferFixedTime,
			Duration:  10 * time.Second,
			OutputDir: dir,
		}
		results := RunFlows(context.Background(), cfg, sources, dests)
		if len(results) != 2 {
			t.Fatal("expected 2 results, got", len(results))
		}
		for _, result := range results {
			if result.Err != nil {
				t.Fatal(result.Err)
			}
			if _, err := os.Stat(result.RawPath); err != nil {
				t.Fatal(err)
			}
		}
	})

	t.Run("a failing client does not abort its siblings", func(t *testing.T) {
		env := newFakeEnv()
		env.clientOutput = clientTextFixture
		env.failClients["h1"] = true
		sources, dests := newPair(env)
		dir := t.TempDir()
		if err := MakeOutputDirs(dir, sources); err != nil {
			t.Fatal(err)
		}

		cfg := &TrafficConfig{
			Logger:    &NullLogger{},
			Mode:      TransferFixedTime,
			Duration:  10 * time.Second,
			OutputDir: dir,
		}
		results := RunFlows(context.Background(), cfg, sources, dests)
		if results[0].Err == nil {
			t.Fatal("expected the first flow to fail")
		}
		if results[1].Err != nil {
			t.Fatal("the sibling flow should have run to completion", results[1].Err)
		}
	})
}

func TestStartServers(t *testing.T) {
	env := newFakeEnv()
	dests := []Host{
		&fakeHost{env: env, name: "h3", addr: "10.0.0.3"},
		&fakeHost{env: env, name: "h4", addr: "10.0.0.4"},
	}
	cfg := &TrafficConfig{Logger: &NullLogger{}, OutputDir: t.TempDir()}

	handles, err := StartServers(context.Background(), cfg, dests)
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 2 {
		t.Fatal("expected 2 handles, got", len(handles))
	}

	stopServers(&NullLogger{}, handles)
	for _, name := range []string{"h3", "h4"} {
		if env.eventIndex("interrupt proc "+name) < 0 {
			t.Fatalf("the server on %s was not signaled gracefully", name)
		}
	}
	if env.eventIndex("kill ") >= 0 {
		t.Fatal("no cooperating server should have been killed")
	}
}
