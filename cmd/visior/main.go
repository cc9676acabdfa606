// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command visior runs the document-assistant server.
//
// Usage:
//
//	visior serve --config config.yaml
//	visior serve --mock
//	visior validate config.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/visior/pkg/config"
	"github.com/kadirpekel/visior/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the assistant server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("visior version %s\n", version)
	return nil
}

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	loader, err := config.NewLoader(c.Config)
	if err != nil {
		return err
	}
	if _, err := loader.Load(context.Background()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Printf("%s: configuration valid\n", c.Config)
	return nil
}

func initLogger(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("visior"),
		kong.Description("visior - multi-tenant document assistant"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
