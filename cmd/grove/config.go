package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// configFile is read from the repo root, if present. Values never
// override variables already set in the environment.
const configFile = ".grove.env"

// envFlags maps environment variables onto persistent flags. An explicitly
// passed flag wins over the environment.
var envFlags = map[string]string{
	"GROVE_DB":      "db",
	"GROVE_BACKEND": "backend",
	"GROVE_FORMAT":  "format",
	"GROVE_WORKERS": "workers",
	"GROVE_BUDGET":  "budget",
}

// applyConfig loads .grove.env for the target project and applies GROVE_*
// variables to any flag not set on the command line.
func applyConfig(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if abs, err := filepath.Abs(dir); err == nil {
		path := filepath.Join(findRepoRoot(abs), configFile)
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
		}
	}

	flags := cmd.Flags()
	for env, name := range envFlags {
		value, ok := os.LookupEnv(env)
		if !ok || flags.Changed(name) {
			continue
		}
		if name == "workers" || name == "budget" {
			if _, err := strconv.Atoi(value); err != nil {
				return fmt.Errorf("%s: %q is not a number", env, value)
			}
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	return nil
}
