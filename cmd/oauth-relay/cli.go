package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/help"
	"github.com/dzerik/oauth-relay/internal/schema"
)

// cliOptions holds parsed CLI options.
type cliOptions struct {
	configPath   string
	devMode      bool
	showVersion  bool
	showHelp     bool
	genSchema    bool
	schemaType   string
	schemaOutput string
}

// parseFlags parses CLI flags and returns options.
func parseFlags(args []string) (*cliOptions, error) {
	opts := &cliOptions{}

	fs := flag.NewFlagSet("oauth-relay", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", getEnv(config.EnvPrefix+"_CONFIG", ""), "Path to configuration file (optional)")
	fs.BoolVar(&opts.devMode, "dev", false, "Use the mock provider with local profiles")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	fs.BoolVar(&opts.showHelp, "help", false, "Show extended help")
	fs.BoolVar(&opts.genSchema, "schema", false, "Generate JSON schema and exit")
	fs.StringVar(&opts.schemaType, "schema-type", string(schema.SchemaTypeConfig),
		"Schema to generate: "+strings.Join(schemaTypeNames(), ", "))
	fs.StringVar(&opts.schemaOutput, "schema-output", "", "Output file for schema (default: stdout)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func schemaTypeNames() []string {
	types := schema.GetAvailableSchemas()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

func newHelpGenerator() *help.Generator {
	return help.NewGenerator(help.AppInfo{
		Name:        "oauth-relay",
		Description: "Whop login relay for native game clients",
		Version:     Version,
		BuildTime:   BuildTime,
		DocsURL:     "https://github.com/dzerik/oauth-relay",
	}, config.EnvPrefix)
}

// handleInfoCommands handles --version, --help and --schema.
// Returns true if a command was handled and the program should exit.
func handleInfoCommands(opts *cliOptions, stdout io.Writer) (bool, error) {
	helpGen := newHelpGenerator()

	switch {
	case opts.showVersion:
		fmt.Fprint(stdout, helpGen.PrintVersion())
		return true, nil
	case opts.showHelp:
		fmt.Fprint(stdout, helpGen.PrintExtendedHelp())
		return true, nil
	case opts.genSchema:
		return true, writeSchema(opts.schemaType, opts.schemaOutput, stdout)
	}
	return false, nil
}

// writeSchema generates a JSON schema to a file or stdout.
func writeSchema(rawType, outputPath string, stdout io.Writer) error {
	st, ok := schema.ParseSchemaType(rawType)
	if !ok {
		return fmt.Errorf("unknown schema type %q (available: %s)", rawType, strings.Join(schemaTypeNames(), ", "))
	}

	data, err := schema.NewGenerator().GenerateType(st)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if outputPath == "" {
		_, err := fmt.Fprintln(stdout, string(data))
		return err
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	fmt.Fprintf(stdout, "Schema written to %s\n", outputPath)
	return nil
}
