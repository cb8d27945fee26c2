// Package config handles combine-job configuration loading and management.
package config

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/Faultbox/skinmerge/pkg/blendshape"
	"github.com/Faultbox/skinmerge/pkg/combiner"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds one combine job.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Input   string        `yaml:"input"`  // glTF/GLB scene to read
	Output  string        `yaml:"output"` // glTF/GLB file to write
	Combine CombineConfig `yaml:"combine"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// CombineConfig describes what gets merged and how. Nodes are referenced
// by name.
type CombineConfig struct {
	Destination         string            `yaml:"destination"`
	RootBone            string            `yaml:"root_bone,omitempty"`
	MergeSameMaterial   bool              `yaml:"merge_same_material"`
	CreateBoneForStatic bool              `yaml:"create_bone_for_static"`
	BakeToStatic        bool              `yaml:"bake_to_static"`
	BlendShapeCopy      []string          `yaml:"blendshape_copy"`
	BoneTolerance       float32           `yaml:"bone_tolerance"`
	BoneMerge           map[string]string `yaml:"bone_merge,omitempty"` // empty target drops the bone
	BlendShapeRename    map[string]string `yaml:"blendshape_rename,omitempty"`

	// Sources lists the renderers to merge. Empty means every renderer in
	// the input scene.
	Sources []SourceConfig `yaml:"sources,omitempty"`
}

// SourceConfig selects one source renderer by node name.
type SourceConfig struct {
	Node        string            `yaml:"node"`
	Flags       []string          `yaml:"flags,omitempty"`
	BlendShapes map[string]string `yaml:"blendshapes,omitempty"` // name -> keep|bake|remove_vertices|remove_triangles
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
		Output: "combined.glb",
		Combine: CombineConfig{
			Destination:       "Combined",
			MergeSameMaterial: true,
			BlendShapeCopy:    []string{"vertices", "normals", "tangents"},
			BoneTolerance:     1e-3,
		},
	}
}

// CopyMode parses BlendShapeCopy.
func (c *CombineConfig) CopyMode() (blendshape.CopyMode, error) {
	return blendshape.ParseCopyMode(c.BlendShapeCopy)
}

// MergeFlags parses the merge flags of the source.
func (s *SourceConfig) MergeFlags() (combiner.MergeFlags, error) {
	return combiner.ParseMergeFlags(s.Flags)
}

// Actions parses the per-blendshape actions of the source.
func (s *SourceConfig) Actions() (map[string]combiner.BlendShapeAction, error) {
	out := make(map[string]combiner.BlendShapeAction, len(s.BlendShapes))
	var errs error
	for name, a := range s.BlendShapes {
		action, err := combiner.ParseAction(a)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[name] = action
	}
	return out, errs
}

// Validate reports every problem in the job at once.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Input == "" {
		add("input is required")
	}
	if c.Output == "" {
		add("output is required")
	}
	if c.Combine.Destination == "" {
		add("combine.destination is required")
	}
	if c.Combine.BoneTolerance < 0 {
		add("combine.bone_tolerance %v is negative", c.Combine.BoneTolerance)
	}
	if _, err := c.Combine.CopyMode(); err != nil {
		add("combine.blendshape_copy: %v", err)
	}
	for from, to := range c.Combine.BoneMerge {
		if from == to {
			add("combine.bone_merge: %q merges into itself", from)
		}
	}
	for i := range c.Combine.Sources {
		s := &c.Combine.Sources[i]
		if s.Node == "" {
			add("combine.sources[%d]: node is required", i)
		}
		if _, err := s.MergeFlags(); err != nil {
			add("combine.sources[%d]: %v", i, err)
		}
		if _, err := s.Actions(); err != nil {
			for _, e := range multierr.Errors(err) {
				add("combine.sources[%d].blendshapes.%v", i, e)
			}
		}
	}
	return errs
}
