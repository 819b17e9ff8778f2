package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/correl8/correl8/configs"
	"github.com/correl8/correl8/internal/config"
	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/internal/output"
	"github.com/correl8/correl8/pkg/correl8"
	"github.com/correl8/correl8/pkg/store"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the stored settings document and the configuration file",
		Long: `get and set work on the settings document kept in the config index
("<base>-<type>-config"). show, path, init and restore work on the YAML
configuration.

Configuration precedence (lowest to highest):
  1. Defaults
  2. User config (~/.config/correl8/config.yaml)
  3. Project config (.correl8.yaml)
  4. Environment variables (CORREL8_*)
  5. Command-line flags`,
	}

	cmd.AddCommand(a.newConfigGetCmd())
	cmd.AddCommand(a.newConfigSetCmd())
	cmd.AddCommand(a.newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(a.newConfigInitCmd())
	cmd.AddCommand(newConfigRestoreCmd())
	return cmd
}

func (a *app) newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print the stored settings document, or one key of it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, err := a.openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			res, err := h.Config(cmd.Context())
			if err != nil {
				return err
			}
			src, ok := correl8.FirstSource(res)
			if !ok {
				return cerrors.New(cerrors.ErrCodeDocumentNotFound,
					fmt.Sprintf("no settings stored in %s", h.ConfigIndex()), nil).
					WithSuggestion("Store some with 'correl8 config set key=value'")
			}
			out := newWriter(cmd)
			if len(args) == 0 {
				return out.JSON(src)
			}
			v, ok := src[args[0]]
			if !ok {
				return cerrors.New(cerrors.ErrCodeDocumentNotFound,
					fmt.Sprintf("key %q is not set", args[0]), nil)
			}
			return out.JSON(v)
		},
	}
}

func (a *app) newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value...",
		Short: "Merge keys into the stored settings document",
		Long: `Merge keys into the settings document. Values are parsed as JSON when
they can be (numbers, booleans, objects) and stored as strings otherwise.
Keys not named keep their stored values.`,
		Example: `  correl8 config set -t sleep token=abc123 last_sync=1704067200
  correl8 config set -t sleep 'devices=["watch","ring"]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args)
			if err != nil {
				return err
			}
			h, _, err := a.openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			if err := h.SetConfig(cmd.Context(), values); err != nil {
				return err
			}
			newWriter(cmd).Successf("Updated %d key(s) in %s", len(values), h.ConfigIndex())
			return nil
		},
	}
}

// parseAssignments turns key=value arguments into a document.
func parseAssignments(args []string) (store.Document, error) {
	doc := make(store.Document, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, cerrors.ValidationError(fmt.Sprintf("%q is not key=value", arg), nil)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		doc[strings.TrimSpace(key)] = v
	}
	return doc, nil
}

func (a *app) newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging all sources. Secrets are masked.
--source user or --source project shows one file on top of the defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				cfg *config.Config
				err error
			)
			switch source {
			case "merged":
				cfg, err = a.loadConfig()
			case "user":
				cfg, err = config.LoadFile(config.GetUserConfigPath())
			case "project":
				cfg, err = config.LoadFile(config.GetProjectConfigPath(a.dir))
			case "defaults":
				cfg = config.NewConfig()
			default:
				return cerrors.ValidationError(fmt.Sprintf("unknown source %q", source), nil).
					WithSuggestion("Use merged, user, project or defaults")
			}
			if err != nil {
				return err
			}

			cfg = cfg.Redacted()
			if jsonOutput {
				return newWriter(cmd).JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}

func (a *app) newConfigInitCmd() *cobra.Command {
	var force, project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Write the user configuration template, or with --project the project
template (.correl8.yaml in --dir). With --force an existing user file is
backed up and rewritten with its settings kept and any new options filled
with defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newWriter(cmd)
			if project {
				return writeTemplate(out, config.GetProjectConfigPath(a.dir), configs.ProjectConfigTemplate)
			}

			path := config.GetUserConfigPath()
			if !config.UserConfigExists() {
				return writeTemplate(out, path, configs.UserConfigTemplate)
			}
			if !force {
				out.Warning("User configuration already exists")
				out.Statusf("📁", "Location: %s", path)
				out.Status("💡", "Use --force to rewrite it with new defaults (keeps your settings)")
				return nil
			}

			backup, err := config.Backup(path)
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			out.Statusf("💾", "Backup: %s", backup)
			if err := cfg.WriteYAML(path); err != nil {
				return err
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Back up and rewrite an existing user configuration")
	cmd.Flags().BoolVar(&project, "project", false, "Write the project configuration instead")
	return cmd
}

// writeTemplate writes a commented template to path unless a file is there.
func writeTemplate(out *output.Writer, path, template string) error {
	if _, err := os.Stat(path); err == nil {
		return cerrors.New(cerrors.ErrCodeConfigInvalid, fmt.Sprintf("%s already exists", path), nil).
			WithSuggestion("Edit the file or remove it first")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cerrors.New(cerrors.ErrCodeConfigPermission, "cannot create config directory", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o600); err != nil {
		return cerrors.New(cerrors.ErrCodeConfigPermission, fmt.Sprintf("cannot write %s", path), err)
	}
	out.Successf("Wrote %s", path)
	return nil
}

func newConfigRestoreCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the user configuration from a backup",
		Long:  `Restore the newest backup, or the one given. --list shows the backups.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newWriter(cmd)
			path := config.GetUserConfigPath()
			backups, err := config.ListBackups(path)
			if err != nil {
				return err
			}
			if list {
				for _, b := range backups {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), b)
				}
				return nil
			}

			var from string
			switch {
			case len(args) == 1:
				from = args[0]
			case len(backups) > 0:
				from = backups[0]
			default:
				return cerrors.New(cerrors.ErrCodeConfigNotFound, "no configuration backups found", nil)
			}
			if err := config.Restore(path, from); err != nil {
				return err
			}
			out.Successf("Restored %s from %s", path, from)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")
	return cmd
}
