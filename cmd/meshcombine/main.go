// meshcombine merges the skinned and static meshes of a glTF scene into one
// skinned (or static) mesh sharing a single bone list.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/skinmerge/internal/config"
	"github.com/Faultbox/skinmerge/internal/gltfio"
	"github.com/Faultbox/skinmerge/internal/logger"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "combine", "c":
		cmdCombine(args)
	case "info":
		cmdInfo(args)
	case "init":
		cmdInit(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`meshcombine - skinned mesh combiner for glTF scenes

Usage:
  meshcombine <command> [options]

Commands:
  combine [options] [input]   Merge the scene's meshes as described by the job file
  info <file.glb>             Show nodes, renderers and mesh statistics
  init [path]                 Write a default job file

Combine options:
  -config <file>    Job file (default: ./meshcombine.yaml or user config dir)
  -input <file>     Input glTF/GLB scene
  -output <file>    Output glTF/GLB file
  -log-file <file>  Also log to a rotated file
  -debug            Enable debug logging

Examples:
  meshcombine init
  meshcombine combine -config avatar.yaml avatar.glb
  meshcombine info combined.glb`)
}

func cmdCombine(args []string) {
	fs := flag.NewFlagSet("combine", flag.ExitOnError)
	var flags config.Flags
	flags.Bind(fs)
	fs.Parse(args)

	cfg, err := config.Load(&flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		cfg.Input = fs.Arg(0)
	}
	if err := cfg.Validate(); err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", e)
		}
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Sugar.Debugf("Config: %+v", cfg)

	if err := runCombine(cfg); err != nil {
		logger.Error("combine failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func runCombine(cfg *config.Config) error {
	s, err := gltfio.Load(cfg.Input)
	if err != nil {
		return err
	}

	job, err := newJob(&cfg.Combine, s)
	if err != nil {
		return err
	}
	res, err := job.run()
	if err != nil {
		return err
	}
	for _, b := range res.RemovableBones {
		logger.Info("bone no longer needed", zap.String("bone", b.Path()))
	}

	if err := gltfio.Save(s, cfg.Output); err != nil {
		return err
	}
	logger.Info("wrote combined scene",
		zap.String("output", cfg.Output),
		zap.Int("sources", len(job.sources)))
	return nil
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: meshcombine info <file.glb>")
		os.Exit(1)
	}

	s, err := gltfio.Load(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	nodes := 0
	for _, r := range s.Roots {
		r.Walk(func(*scene.Node) { nodes++ })
	}

	fmt.Printf("Scene:      %s\n", args[0])
	fmt.Printf("Nodes:      %d\n", nodes)
	fmt.Printf("Renderers:  %d\n", len(s.Renderers))
	fmt.Printf("Materials:  %d\n", len(s.Materials))
	fmt.Println()

	for _, r := range s.Renderers {
		m := r.SharedMesh()
		kind, bones := "static", 0
		if sk, ok := r.(*scene.SkinnedMeshRenderer); ok {
			kind, bones = "skinned", len(sk.Bones)
		}
		fmt.Printf("  %s (%s)\n", r.Owner().Path(), kind)
		fmt.Printf("    vertices %d, triangles %d, sub-meshes %d, bones %d, index %s\n",
			m.VertexCount(), m.TriangleCount(), len(m.SubMeshes), bones, m.IndexFormat)
		for _, bs := range m.BlendShapes {
			fmt.Printf("    blendshape %-24s %d frame(s)\n", bs.Name, len(bs.Frames))
		}
	}
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("f", false, "Overwrite an existing file")
	fs.Parse(args)

	path := filepath.Join(".", config.FileName)
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists (use -f to overwrite)\n", path)
		os.Exit(1)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Default().SaveTo(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}
