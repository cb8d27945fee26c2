package config

import "flag"

// Flags holds command-line overrides. Bind it to a command's FlagSet.
type Flags struct {
	Config  string
	Debug   bool
	Input   string
	Output  string
	LogFile string
}

// Bind registers the flags on fs.
func (f *Flags) Bind(fs *flag.FlagSet) {
	fs.StringVar(&f.Config, "config", "", "Path to job file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.Input, "input", "", "Input glTF/GLB scene")
	fs.StringVar(&f.Output, "output", "", "Output glTF/GLB file")
	fs.StringVar(&f.LogFile, "log-file", "", "Also log to this file (rotated)")
}

// apply applies flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.Input != "" {
		cfg.Input = f.Input
	}
	if f.Output != "" {
		cfg.Output = f.Output
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
}
