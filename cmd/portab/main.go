package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"portab/internal/app"
	"portab/internal/config"
	"portab/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file. Commands that only touch local files
// may run without one; they get the defaults of a fresh install.
func loadConfig(allowMissing bool) (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		if allowMissing && errors.Is(err, os.ErrNotExist) {
			return config.NewConfig("", defaults.BaseDir), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). Offline apps skip the vault and catalog.
func newApp(cmd *cobra.Command, operation string, offline bool, args ...string) (*app.App, error) {
	cfg, err := loadConfig(offline)
	if err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewApp(cmd.Context(), cfg, app.Options{
		Operation: operation,
		Args:      args,
		Offline:   offline,
		Verbose:   verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassword reads a password named by the env-var flag, or prompts.
// closeApp closes a and joins its error into *errp. App.Close uploads
// the catalog snapshot, so a failure there must reach the user.
func closeApp(a io.Closer, errp *error) {
	if err := a.Close(); err != nil {
		*errp = errors.Join(*errp, fmt.Errorf("closing: %w", err))
	}
}

func readPassword(cmd *cobra.Command, flag, prompt string, confirm bool) (string, error) {
	envVar, _ := cmd.Flags().GetString(flag)
	return app.NewPasswordSource(envVar).Read(prompt, confirm)
}

// maxPasswordAttempts bounds re-prompting after a wrong password.
const maxPasswordAttempts = 3

// withInputPassword calls fn with the password for the container at path:
// "" for plain files, otherwise one from --password-env or a prompt. A
// prompted password that turns out wrong is asked for again.
func withInputPassword(cmd *cobra.Command, path string, fn func(password string) error) error {
	envVar, _ := cmd.Flags().GetString("password-env")
	if path == "-" {
		// stdin carries the container, so there is no terminal to prompt on.
		return fn(os.Getenv(envVar))
	}
	sealed, err := app.IsSealed(path)
	if err != nil {
		return err
	}
	if !sealed {
		return fn("")
	}

	_, fromEnv := os.LookupEnv(envVar)
	src := app.NewPasswordSource(envVar)
	for attempt := 1; ; attempt++ {
		password, err := src.Read("Password for "+path, false)
		if err != nil {
			return err
		}
		err = fn(password)
		if !model.IsRetryable(err) || (envVar != "" && fromEnv) || attempt == maxPasswordAttempts {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Wrong password or the file was tampered with. Try again.")
	}
}

var rootCmd = &cobra.Command{
	Use:          "portab",
	Short:        "Portable browser session containers",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Fprintf(out, "Host ID: %s\n", hostID)
		fmt.Fprintf(out, "Base Dir: %s\n", defaults.BaseDir)
		fmt.Fprintln(out, "Run `portab keys init` to create the archive key.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Fprintf(out, "Host ID:    %s\n", cfg.HostID)
		fmt.Fprintf(out, "Base Dir:   %s\n", cfg.BaseDir)
		fmt.Fprintf(out, "Log Dir:    %s\n", cfg.LogDir)
		fmt.Fprintf(out, "Database:   %s\n", cfg.Database.Type)
		fmt.Fprintf(out, "Encryption: %s\n", cfg.Encryption.Type)
		fmt.Fprintf(out, "Envelope:   %s\n", cfg.Envelope.Algorithm)
		for _, v := range cfg.Vaults {
			fmt.Fprintf(out, "Vault:      %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the vault and catalog are usable",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "Validate", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.ValidateVault(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("ok")+"  vault and catalog are ready")
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the archive encryption key",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive key pair",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "KeysInit", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		passphrase, err := readPassword(cmd, "passphrase-env", "Archive key passphrase", true)
		if err != nil {
			return err
		}
		if err := a.InitKeys(passphrase); err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Archive key created.")
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the local archive catalog",
}

var catalogRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local catalog with the copy stored in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		version, err := app.RestoreCatalog(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Catalog restored (version %d)\n", version)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View catalog operation history",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "History", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		renderHistory(cmd.OutOrStdout(), ops)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configValidateCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)
	keysInitCmd.Flags().String("passphrase-env", "", "Read the passphrase from this environment variable")

	catalogCmd.AddCommand(catalogRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
