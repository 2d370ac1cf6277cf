package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/kpfind/internal/config"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and create the kpfind configuration file.`,
}

// configInitCmd writes a default configuration file.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.kpfind/config.yaml.

An existing file is left alone unless --force is given.

Example:
  kpfind config init
  kpfind config init --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// configShowCmd prints the effective configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after environment variables and flags are applied.

Example:
  kpfind config show
  kpfind config show -o json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// configGetCmd prints one value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long: `Print one configuration value. The path uses dot notation.

Examples:
  kpfind config get cache.socket
  kpfind config get search.default_flags`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	configPath := config.Path(cc.Cfg.Home)

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return kperr.WithSuggestion(
			kperr.WithDetails(kperr.ErrConfigExists, map[string]string{"path": configPath}),
			"use --force to overwrite it",
		)
	}

	if err := config.Save(config.Defaults(), configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	cc.Log.Debug("wrote %s", configPath)
	if cc.Fmt.IsJSON() {
		return cc.Fmt.Print(map[string]string{"status": "success", "path": configPath})
	}
	return cc.Fmt.Printf("Configuration initialized at %s\n", configPath)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)

	if cc.Fmt.IsJSON() {
		tree, err := configTree(cc.Cfg)
		if err != nil {
			return err
		}
		return cc.Fmt.Print(tree)
	}

	data, err := yaml.Marshal(cc.Cfg)
	if err != nil {
		return err
	}
	return cc.Fmt.Printf("%s", data)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)

	value, err := configValue(cc.Cfg, args[0])
	if err != nil {
		return err
	}

	if cc.Fmt.IsJSON() {
		return cc.Fmt.Print(map[string]any{args[0]: value})
	}
	switch v := value.(type) {
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return cc.Fmt.Printf("%s\n", strings.Join(parts, ","))
	case map[string]any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		return cc.Fmt.Printf("%s", data)
	default:
		return cc.Fmt.Printf("%v\n", v)
	}
}

// configTree renders the config as the generic tree its YAML form decodes
// to, so keys match the file in every output format.
func configTree(c *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// configValue looks up a dot-separated path such as cache.socket.
func configValue(c *config.Config, path string) (any, error) {
	tree, err := configTree(c)
	if err != nil {
		return nil, err
	}

	var node any = tree
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, unknownKey(path)
		}
		if node, ok = m[key]; !ok {
			return nil, unknownKey(path)
		}
	}
	return node, nil
}

func unknownKey(path string) error {
	return kperr.WithSuggestion(
		kperr.WithDetails(kperr.ErrInvalidInput, map[string]string{"key": path}),
		"run 'kpfind config show' to list the available keys",
	)
}
