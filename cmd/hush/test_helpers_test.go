package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"hush/internal/config"
	"hush/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	tools      *testsupport.FakeTools
	configPath string
	mediaDir   string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	opts = append([]testsupport.ConfigOption{testsupport.WithStubbedBinaries()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		tools:      testsupport.NewFakeTools(cfg),
		configPath: configPath,
		mediaDir:   filepath.Join(base, "media"),
	}
}

func (e *cliTestEnv) input(t *testing.T, name string, media testsupport.Media) string {
	t.Helper()
	path := filepath.Join(e.mediaDir, name)
	testsupport.WriteMedia(t, path, media)
	return path
}

// run executes the CLI with the environment's config and fake tools.
func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var configFlag string
	var verbose bool
	ctx := newCommandContext(&configFlag, &verbose)
	ctx.runner = e.tools
	cmd := newRootCommandWithContext(ctx)

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func speech() testsupport.Media {
	return testsupport.Media{
		Codec:      "mp3",
		SampleRate: 44100,
		Channels:   2,
		Duration:   2.5,
		Tags:       []testsupport.Tag{{Key: "title", Value: "Interview"}},
	}
}
