package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/multierr"

	"github.com/Faultbox/skinmerge/pkg/blendshape"
	"github.com/Faultbox/skinmerge/pkg/combiner"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Combine.Destination != "Combined" {
		t.Errorf("expected destination 'Combined', got %s", cfg.Combine.Destination)
	}
	if !cfg.Combine.MergeSameMaterial {
		t.Error("expected merge_same_material to be true by default")
	}
	if cfg.Combine.BoneTolerance != 1e-3 {
		t.Errorf("expected bone tolerance 1e-3, got %v", cfg.Combine.BoneTolerance)
	}
	mode, err := cfg.Combine.CopyMode()
	if err != nil || mode != blendshape.CopyAll {
		t.Errorf("expected default copy mode all, got %v (%v)", mode, err)
	}
}

const jobYAML = `
logging:
  level: debug
  log_file: combine.log
input: avatar.glb
output: out/avatar.glb
combine:
  destination: Body
  root_bone: Hips
  merge_same_material: false
  create_bone_for_static: true
  blendshape_copy: [vertices]
  bone_tolerance: 0.01
  bone_merge:
    Spine.001: Spine
    Tail: ""
  blendshape_rename:
    vrc.blink: Blink
  sources:
    - node: Face
      flags: [remove_zero_scale_bones]
      blendshapes:
        Smile: keep
        Hide_Ears: remove_vertices
    - node: Hat
`

func writeJob(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg := Default()
	if err := loadFromFile(cfg, writeJob(t, jobYAML)); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Input != "avatar.glb" || cfg.Output != "out/avatar.glb" {
		t.Errorf("unexpected paths %q -> %q", cfg.Input, cfg.Output)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.LogFile != "combine.log" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	c := cfg.Combine
	if c.Destination != "Body" || c.RootBone != "Hips" {
		t.Errorf("unexpected destination %q root %q", c.Destination, c.RootBone)
	}
	if c.MergeSameMaterial || !c.CreateBoneForStatic {
		t.Error("booleans not loaded")
	}
	if to, ok := c.BoneMerge["Tail"]; !ok || to != "" {
		t.Errorf("expected Tail to be dropped, got %q %v", to, ok)
	}
	if c.BlendShapeRename["vrc.blink"] != "Blink" {
		t.Errorf("rename not loaded: %v", c.BlendShapeRename)
	}
	if len(c.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(c.Sources))
	}

	flags, err := c.Sources[0].MergeFlags()
	if err != nil || flags != combiner.RemoveZeroScaleBones {
		t.Errorf("flags = %v, %v", flags, err)
	}
	actions, err := c.Sources[0].Actions()
	if err != nil {
		t.Fatal(err)
	}
	if actions["Hide_Ears"] != combiner.ActionBakeRemoveVertices || actions["Smile"] != combiner.ActionKeep {
		t.Errorf("actions = %v", actions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid job rejected: %v", err)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "combine:\n  bone_tolerance: not a number\n  invalid syntax here\n"},
		{"unknown key", "combine:\n  destinaton: Body\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := loadFromFile(Default(), writeJob(t, tt.yaml)); err == nil {
				t.Error("expected error loading invalid YAML, got nil")
			}
		})
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if err := loadFromFile(Default(), "/nonexistent/path/meshcombine.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestLoadPriority(t *testing.T) {
	path := writeJob(t, jobYAML)

	fs := flag.NewFlagSet("combine", flag.ContinueOnError)
	var flags Flags
	flags.Bind(fs)
	if err := fs.Parse([]string{"-config", path, "-output", "cli.glb", "-log-file", "cli.log"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(&flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Input != "avatar.glb" {
		t.Errorf("file value lost: input = %q", cfg.Input)
	}
	if cfg.Output != "cli.glb" || cfg.Logging.LogFile != "cli.log" {
		t.Errorf("flags did not override: %q %q", cfg.Output, cfg.Logging.LogFile)
	}

	if _, err := Load(&Flags{Config: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("explicit missing config should fail")
	}
}

func TestDebugFlag(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)
	os.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(&Flags{Debug: true, Input: "x.glb"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || cfg.Input != "x.glb" {
		t.Errorf("flags not applied: %+v", cfg)
	}
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Input = ""
	cfg.Combine.BoneTolerance = -1
	cfg.Combine.BlendShapeCopy = []string{"colors"}
	cfg.Combine.BoneMerge = map[string]string{"Hips": "Hips"}
	cfg.Combine.Sources = []SourceConfig{{
		Flags:       []string{"explode"},
		BlendShapes: map[string]string{"Smile": "melt"},
	}}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if got := len(multierr.Errors(err)); got != 7 {
		t.Errorf("expected 7 problems, got %d: %v", got, err)
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte("input: a.glb\n"), 0o644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if path := findConfigFile(); path == "" {
		t.Errorf("expected to find %s in current directory", FileName)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "job.yaml")

	cfg := Default()
	cfg.Input = "scene.gltf"
	cfg.Combine.Sources = []SourceConfig{{Node: "Face", BlendShapes: map[string]string{"Smile": "bake"}}}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := Load(&Flags{Config: path})
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Input != "scene.gltf" || loaded.Combine.Sources[0].BlendShapes["Smile"] != "bake" {
		t.Errorf("saved job did not load back: %+v", loaded.Combine)
	}
}
