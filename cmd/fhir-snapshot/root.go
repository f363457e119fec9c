package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fs "github.com/gofhir/snapshot"
	"github.com/gofhir/snapshot/engine"
	"github.com/gofhir/snapshot/pkg/logger"
)

const version = "0.1.0"

const envPrefix = "FHIR_SNAPSHOT"

// Config keys. They double as flag names.
const (
	keyConfig          = "config"
	keySource          = "source"
	keyPackage         = "package"
	keyPackagePath     = "package-path"
	keyCorePackage     = "core-package"
	keyFHIRVersion     = "fhir-version"
	keyLogLevel        = "log-level"
	keyNoTypeExpansion = "no-type-expansion"
	keyCacheSize       = "cache-size"
)

// app carries the state shared by all subcommands.
type app struct {
	v   *viper.Viper
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "fhir-snapshot",
		Short:         "Generate FHIR StructureDefinition snapshots.",
		Long:          "fhir-snapshot expands the differential of FHIR profiles into complete snapshots.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String(keyConfig, "", "YAML config file")
	pf.StringSliceP(keySource, "s", nil, "Definition file, directory or package .tgz to load (repeatable)")
	pf.StringSliceP(keyPackage, "p", nil, "Package to load from the package cache as name#version (repeatable)")
	pf.String(keyPackagePath, "", "FHIR package cache (default ~/.fhir/packages)")
	pf.Bool(keyCorePackage, false, "Load the core package of --fhir-version from the package cache")
	pf.String(keyFHIRVersion, string(fs.R4), "FHIR version: R4, R4B, R5 or a release such as 4.0.1")
	pf.String(keyLogLevel, "warn", "Log level: debug, info, warn, error, none")
	pf.Bool(keyNoTypeExpansion, false, "Do not expand data types below elements the base does not expand")
	pf.Int(keyCacheSize, 0, "Snapshot cache capacity (0 keeps the default)")

	rootCmd.AddCommand(generateCmd(a))
	rootCmd.AddCommand(batchCmd(a))
	rootCmd.AddCommand(listCmd(a))
	return rootCmd
}

// init binds the flags of the running command, the environment and the
// optional config file, in increasing order of precedence: file, env, flag.
func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if path := a.v.GetString(keyConfig); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	level, ok := logger.ParseLevel(a.v.GetString(keyLogLevel))
	if !ok {
		return fmt.Errorf("unknown log level %q", a.v.GetString(keyLogLevel))
	}
	a.log = logger.NewConsole(cmd.ErrOrStderr(), level)
	logger.SetDefault(a.log)
	return nil
}

// engine builds an engine and loads every configured source and package.
func (a *app) engine(ctx context.Context, extra ...fs.Option) (*engine.Engine, error) {
	ver, ok := fs.ParseFHIRVersion(a.v.GetString(keyFHIRVersion))
	if !ok {
		return nil, fmt.Errorf("unsupported FHIR version %q", a.v.GetString(keyFHIRVersion))
	}

	opts := []fs.Option{
		fs.WithLogger(a.log),
		fs.WithPackagePath(a.v.GetString(keyPackagePath)),
		fs.WithCorePackage(a.v.GetBool(keyCorePackage)),
		fs.WithTypeExpansion(!a.v.GetBool(keyNoTypeExpansion)),
		fs.WithSnapshotCache(a.v.GetInt(keyCacheSize)),
	}
	eng, err := engine.New(ctx, ver, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}

	for _, ref := range a.v.GetStringSlice(keyPackage) {
		if _, err := eng.LoadPackageRef(ctx, ref); err != nil {
			return nil, err
		}
	}
	for _, src := range a.v.GetStringSlice(keySource) {
		n, err := eng.LoadSource(ctx, src)
		if err != nil {
			return nil, err
		}
		a.log.Info("loaded %d definitions from %s", n, src)
	}

	for _, iss := range eng.Diagnostics().Issues {
		a.log.Warn("%s", iss.Diagnostics)
	}
	eng.Metrics().RecordIssues(eng.Diagnostics())
	return eng, nil
}
