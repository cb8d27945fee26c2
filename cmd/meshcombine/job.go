package main

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/skinmerge/internal/config"
	"github.com/Faultbox/skinmerge/internal/gltfio"
	"github.com/Faultbox/skinmerge/internal/logger"
	"github.com/Faultbox/skinmerge/pkg/combiner"
	"github.com/Faultbox/skinmerge/pkg/protect"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

var (
	errUnknownNode = errors.New("node not found")
	errNoRenderer  = errors.New("node has no renderer")
)

// job is a combine configuration resolved against a loaded scene.
type job struct {
	sources []combiner.Source
	dest    scene.Renderer
	opts    combiner.Options
}

// newJob resolves node names, creating the destination node and renderer
// when the scene does not have them. Every resolution problem is reported.
func newJob(c *config.CombineConfig, s *gltfio.Scene) (*job, error) {
	var errs error
	find := func(what, name string) *scene.Node {
		n := s.Find(gltfio.NormalizeName(name))
		if n == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %q: %w", what, name, errUnknownNode))
		}
		return n
	}

	j := &job{opts: combiner.DefaultOptions()}
	mode, err := c.CopyMode()
	errs = multierr.Append(errs, err)
	j.opts.CopyMode = mode
	j.opts.CreateBoneForStatic = c.CreateBoneForStatic
	j.opts.BakeToStatic = c.BakeToStatic
	j.opts.Tolerance = c.BoneTolerance
	j.opts.MergeSameMaterial = c.MergeSameMaterial
	if len(c.BlendShapeRename) > 0 {
		j.opts.Rename = make(map[string]string, len(c.BlendShapeRename))
		for from, to := range c.BlendShapeRename {
			j.opts.Rename[gltfio.NormalizeName(from)] = gltfio.NormalizeName(to)
		}
	}

	if c.RootBone != "" {
		j.opts.RootBone = find("root_bone", c.RootBone)
	}
	if len(c.BoneMerge) > 0 {
		j.opts.BoneMerge = make(map[*scene.Node]*scene.Node, len(c.BoneMerge))
		for from, to := range c.BoneMerge {
			src := find("bone_merge", from)
			var dst *scene.Node
			if to != "" {
				dst = find("bone_merge target", to)
			}
			if src != nil {
				j.opts.BoneMerge[src] = dst
			}
		}
	}

	j.dest = destination(c, s)

	if len(c.Sources) == 0 {
		for _, r := range s.Renderers {
			if r != j.dest && enabled(r) {
				j.sources = append(j.sources, combiner.Source{Renderer: r})
			}
		}
	}
	for i := range c.Sources {
		sc := &c.Sources[i]
		node := find("source", sc.Node)
		if node == nil {
			continue
		}
		r := s.RendererOf(node)
		if r == nil {
			errs = multierr.Append(errs, fmt.Errorf("source %q: %w", sc.Node, errNoRenderer))
			continue
		}
		flags, err := sc.MergeFlags()
		errs = multierr.Append(errs, err)
		actions, err := sc.Actions()
		errs = multierr.Append(errs, err)
		j.sources = append(j.sources, combiner.Source{
			Renderer: r,
			Actions:  actionList(r, actions),
			Flags:    flags,
		})
	}

	if errs != nil {
		return nil, errs
	}
	return j, nil
}

func (j *job) run() (*combiner.Result, error) {
	return combiner.Run(j.sources, j.dest, j.opts, protect.Default())
}

// destination returns the renderer on the named node, creating the node
// under the first root and a renderer matching BakeToStatic as needed.
func destination(c *config.CombineConfig, s *gltfio.Scene) scene.Renderer {
	name := gltfio.NormalizeName(c.Destination)
	node := s.Find(name)
	if node == nil {
		if len(s.Roots) == 0 {
			node = scene.NewNode(name)
			s.Roots = append(s.Roots, node)
		} else {
			node = s.Roots[0].AddChild(name)
		}
	}
	if r := s.RendererOf(node); r != nil {
		return r
	}

	var r scene.Renderer
	if c.BakeToStatic {
		r = &scene.MeshRenderer{Node: node, Enabled: true}
	} else {
		r = &scene.SkinnedMeshRenderer{Node: node, Enabled: true}
	}
	s.AddRenderer(r)
	return r
}

// actionList lays the named actions out by blendshape index. Names the
// mesh does not have are logged and ignored.
func actionList(r scene.Renderer, named map[string]combiner.BlendShapeAction) []combiner.BlendShapeAction {
	m := r.SharedMesh()
	if m == nil || len(named) == 0 {
		return nil
	}
	out := make([]combiner.BlendShapeAction, len(m.BlendShapes))
	for name, a := range named {
		i := m.BlendShapeIndex(gltfio.NormalizeName(name))
		if i < 0 {
			logger.Warn("blendshape action for unknown shape",
				zap.String("node", r.Owner().Name), zap.String("shape", name))
			continue
		}
		out[i] = a
	}
	return out
}

func enabled(r scene.Renderer) bool {
	switch rr := r.(type) {
	case *scene.SkinnedMeshRenderer:
		return rr.Enabled
	case *scene.MeshRenderer:
		return rr.Enabled
	}
	return false
}
