// main.go — Entry point for the showrun CLI binary.
// Translates a command line into one internal/runtime.Run call against a
// task pack directory.
//
// Usage: showrun run <packdir> [--input k=v]... [--headless] [--skip-http-replay]
//
// Exit codes:
//   0 = run succeeded
//   1 = run completed but failed (see RunResult.notes)
//   2 = usage error (bad pack, bad flags)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dev-console/dev-console/internal/packfile"
	"github.com/dev-console/dev-console/internal/runtime"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	inputFlags          []string
	headless            bool
	skipHTTPReplay      bool
	cdpURL              string
	sessionID           string
	profileID           string
	redactionConfigPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "showrun",
		Short: "Run a ShowRun task pack",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <packdir>",
		Short: "Load, validate, and execute a task pack",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().StringArrayVar(&inputFlags, "input", nil, "input as key=value, repeatable")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless")
	cmd.Flags().BoolVar(&skipHTTPReplay, "skip-http-replay", false, "force the live browser interpreter even if HTTP-only replay is possible")
	cmd.Flags().StringVar(&cdpURL, "cdp-url", "", "attach to an existing browser over CDP instead of launching one")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "reuse a session-persistence profile by id")
	cmd.Flags().StringVar(&profileID, "profile-id", "", "reuse a profile-persistence directory by id")
	cmd.Flags().StringVar(&redactionConfigPath, "redaction-config", "", "JSON file of custom redaction patterns to layer on the builtin set")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	packDir := args[0]

	pack, err := packfile.Load(packDir)
	if err != nil {
		return fmt.Errorf("load pack: %w", err)
	}
	if err := packfile.Validate(pack); err != nil {
		return fmt.Errorf("validate pack: %w", err)
	}

	inputs, err := parseInputs(inputFlags, pack.Flow.Inputs)
	if err != nil {
		return fmt.Errorf("parse --input: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	result := runtime.Run(context.Background(), pack, inputs, runtime.Options{
		RunDir:              packDir,
		Headless:            headless,
		SessionID:           sessionID,
		ProfileID:           profileID,
		SkipHTTPReplay:      skipHTTPReplay,
		CDPURL:              cdpURL,
		RedactionConfigPath: redactionConfigPath,
		Logger:              logger,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if !result.Success {
		os.Exit(1)
	}
	return nil
}

// parseInputs coerces each --input key=value flag to the type declared in
// schema, falling back to a raw string for keys the pack doesn't declare.
func parseInputs(flags []string, schema map[string]packfile.InputField) (map[string]any, error) {
	out := make(map[string]any, len(flags))
	for _, raw := range flags {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", raw)
		}
		field, declared := schema[key]
		if !declared {
			out[key] = value
			continue
		}
		coerced, err := coerce(value, field.Type)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		out[key] = coerced
	}
	return out, nil
}

func coerce(value string, t packfile.FieldType) (any, error) {
	switch t {
	case packfile.TypeNumber:
		return strconv.ParseFloat(value, 64)
	case packfile.TypeBoolean:
		return strconv.ParseBool(value)
	default:
		return value, nil
	}
}
