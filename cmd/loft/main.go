package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loft-go/internal/app"
	"loft-go/internal/config"
	"loft-go/internal/loft"
	"loft-go/internal/watch"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a LoftApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Open", "CreateBackup").
func newApp(ctx context.Context, operation string) (*app.LoftApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewLoftApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// workspaceArg returns the positional PATH if given, else the --workspace flag.
// An empty result means the active workspace.
func workspaceArg(cmd *cobra.Command, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	ws, _ := cmd.Flags().GetString("workspace")
	return ws
}

// printBootStates prints progress lines for the open protocol until the
// returned function is called.
func printBootStates(a *app.LoftApp) func() {
	return a.Service().States().Subscribe(func(s loft.BootState) {
		switch s.Phase {
		case loft.PhaseWaitingMaterialization:
			fmt.Printf("Waiting up to %s for the cloud folder to download...\n", s.Timeout)
		case loft.PhaseMissing:
			fmt.Fprintln(os.Stderr, s.Message)
		}
	})
}

// promptPassword prompts for a passphrase without showing input.
func promptPassword(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		text, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimSpace(string(text)), nil
	}
	text, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && text == "" {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// writeOut writes restored bytes to path, refusing to clobber an existing file.
func writeOut(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func printOpened(res *loft.OpenResult) {
	fmt.Printf("Workspace: %s\n", res.Path)
	fmt.Printf("ID:        %s\n", res.Metadata.ID)
	fmt.Printf("Database:  %s (%d bytes)\n", res.DatabasePath, len(res.Database))
	fmt.Printf("Updated:   %s\n", res.Metadata.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printBackups(backups []loft.Backup, empty string) {
	if len(backups) == 0 {
		fmt.Println(empty)
		return
	}
	for _, b := range backups {
		created := "unknown time"
		if !b.CreatedAt.IsZero() {
			created = b.CreatedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s  %s\n", created, b.Name)
	}
}

var rootCmd = &cobra.Command{
	Use:          "loft",
	Short:        "Workspace storage for local-first apps",
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

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		vaultType := cfg.Vault.Type
		if vaultType == "" {
			vaultType = "(offsite copies disabled)"
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("State:      %s\n", cfg.StatePath)
		fmt.Printf("Gateway:    %s\n", cfg.Gateway.Type)
		fmt.Printf("Vault:      %s\n", vaultType)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		return nil
	},
}

// workspace commands
var initCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Create a workspace and make it active",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Init")
		if err != nil {
			return err
		}
		defer a.Close()

		target := workspaceArg(cmd, args)
		if target == "" {
			target = "."
		}
		defer printBootStates(a)()

		res, err := a.Init(cmd.Context(), target)
		if err != nil {
			return fmt.Errorf("creating workspace: %w", err)
		}
		printOpened(res)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open [PATH]",
	Short: "Open a workspace (the active one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Open")
		if err != nil {
			return err
		}
		defer a.Close()
		defer printBootStates(a)()

		res, err := a.Open(cmd.Context(), workspaceArg(cmd, args))
		if err != nil {
			return fmt.Errorf("opening workspace: %w", err)
		}
		printOpened(res)
		return nil
	},
}

var useCmd = &cobra.Command{
	Use:   "use PATH",
	Short: "Switch the active workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Switch")
		if err != nil {
			return err
		}
		defer a.Close()
		defer printBootStates(a)()

		res, err := a.Open(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("switching workspace: %w", err)
		}
		fmt.Printf("Active workspace: %s\n", res.Path)
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Clear the active workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Forget")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Forget(); err != nil {
			return err
		}
		fmt.Println("No active workspace.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [PATH]",
	Short: "View workspace status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(cmd.Context(), workspaceArg(cmd, args))
		if err != nil {
			return err
		}

		active := ""
		if st.Active {
			active = "  [active]"
		}
		fmt.Printf("Workspace: %s%s\n", st.Path, active)
		fmt.Printf("ID:        %s\n", st.Metadata.ID)
		fmt.Printf("Created:   %s\n", st.Metadata.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:   %s\n", st.Metadata.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Version:   %s\n", st.Metadata.AppVersion)
		fmt.Printf("Database:  %d bytes, header ok: %v\n", st.DatabaseSize, st.HeaderValid)
		if st.CloudSynced {
			fmt.Println("Location:  cloud-synced folder")
		}
		if r := st.Report; r != nil {
			fmt.Printf("Integrity: %s\n", r.Integrity)
			fmt.Printf("Schema:    v%d dirty=%v, %d page(s) of %d bytes\n", r.SchemaVersion, r.SchemaDirty, r.PageCount, r.PageSize)
		}
		fmt.Printf("Backups:   %d\n", len(st.Backups))
		if st.OffsiteCopies != nil {
			fmt.Printf("Offsite:   %d\n", len(st.OffsiteCopies))
		}
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait PATH",
	Short: "Wait for a cloud folder to download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		a, err := newApp(cmd.Context(), "Wait")
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.Wait(cmd.Context(), args[0], timeout)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s has not appeared yet", args[0])
		}
		fmt.Printf("%s is available\n", args[0])
		return nil
	},
}

var saveCmd = &cobra.Command{
	Use:   "save FILE",
	Short: "Replace the workspace database with FILE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Save")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Save(cmd.Context(), workspaceArg(cmd, nil), args[0]); err != nil {
			return fmt.Errorf("saving: %w", err)
		}
		fmt.Println("Saved.")
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage workspace backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the workspace database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CreateBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		name, err := a.CreateBackup(cmd.Context(), workspaceArg(cmd, nil))
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Created %s\n", name)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspace backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListBackups")
		if err != nil {
			return err
		}
		defer a.Close()

		backups, err := a.ListBackups(cmd.Context(), workspaceArg(cmd, nil))
		if err != nil {
			return err
		}
		printBackups(backups, "No backups.")
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore NAME",
	Short: "Check a backup, write it out or make it the current database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apply, _ := cmd.Flags().GetBool("apply")
		out, _ := cmd.Flags().GetString("out")

		a, err := newApp(cmd.Context(), "RestoreBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.RestoreBackup(cmd.Context(), workspaceArg(cmd, nil), args[0], apply)
		if err != nil {
			return fmt.Errorf("restoring: %w", err)
		}
		if out != "" {
			if err := writeOut(out, data); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes)\n", out, len(data))
		}
		if apply {
			fmt.Printf("Restored %s as the current database\n", args[0])
		} else if out == "" {
			fmt.Printf("%s is valid (%d bytes); use --apply to restore it\n", args[0], len(data))
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the workspace database and backups and start over",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("reset deletes the database and every backup; pass --yes to confirm")
		}

		a, err := newApp(cmd.Context(), "Reset")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Reset(cmd.Context(), workspaceArg(cmd, nil)); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		fmt.Println("Workspace reset.")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import ZIP",
	Short: "Import the database from a zip export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Import")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Import(cmd.Context(), workspaceArg(cmd, nil), args[0]); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Imported %s\n", args[0])
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report changes to the workspace files until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Watch(cmd.Context(), workspaceArg(cmd, nil), func(ev watch.Event) {
			fmt.Printf("%s  %-8s %-6s %s\n", time.Now().Format("15:04:05"), ev.Target, ev.Op, ev.Path)
		})
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage offsite encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used for offsite copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SetupKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.KeysConfigured() {
			return errors.New("encryption keys already exist")
		}

		pass, err := promptPassword("New passphrase")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Repeat passphrase")
		if err != nil {
			return err
		}
		if pass != confirm {
			return errors.New("passphrases do not match")
		}

		if err := a.SetupKeys(pass); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}
		fmt.Println("Encryption keys created. Keep the passphrase safe: offsite copies cannot be read without it.")
		return nil
	},
}

// offsite command
var offsiteCmd = &cobra.Command{
	Use:   "offsite",
	Short: "Manage encrypted offsite copies of backups",
}

var offsitePushCmd = &cobra.Command{
	Use:   "push [NAME]",
	Short: "Copy a backup offsite (the newest by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "PushBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		pushed, err := a.PushBackup(cmd.Context(), workspaceArg(cmd, nil), name)
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Printf("Pushed %s\n", pushed)
		return nil
	},
}

var offsiteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List offsite copies, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListOffsite")
		if err != nil {
			return err
		}
		defer a.Close()

		backups, err := a.ListOffsite(cmd.Context(), workspaceArg(cmd, nil))
		if err != nil {
			return err
		}
		printBackups(backups, "No offsite copies.")
		return nil
	},
}

var offsitePullCmd = &cobra.Command{
	Use:   "pull NAME",
	Short: "Download and decrypt an offsite copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apply, _ := cmd.Flags().GetBool("apply")
		out, _ := cmd.Flags().GetString("out")
		if !apply && out == "" {
			return errors.New("pass --apply to restore the copy or --out FILE to write it out")
		}

		a, err := newApp(cmd.Context(), "PullBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := promptPassword("Passphrase")
		if err != nil {
			return err
		}

		data, err := a.PullBackup(cmd.Context(), workspaceArg(cmd, nil), args[0], pass, apply)
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		if out != "" {
			if err := writeOut(out, data); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes)\n", out, len(data))
		}
		if apply {
			fmt.Printf("Restored %s as the current database\n", args[0])
		}
		return nil
	},
}

var offsiteCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the vault is reachable and writable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CheckVault")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CheckVault(cmd.Context()); err != nil {
			return fmt.Errorf("vault check failed: %w", err)
		}
		fmt.Println("Vault OK.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "Workspace path (default: the active workspace)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// backup subcommands
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupRestoreCmd.Flags().Bool("apply", false, "Make the backup the current database")
	backupRestoreCmd.Flags().StringP("out", "o", "", "Write the backup bytes to this file")

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// offsite subcommands
	offsiteCmd.AddCommand(offsitePushCmd)
	offsiteCmd.AddCommand(offsiteListCmd)
	offsiteCmd.AddCommand(offsitePullCmd)
	offsiteCmd.AddCommand(offsiteCheckCmd)
	offsitePullCmd.Flags().Bool("apply", false, "Make the copy the current database")
	offsitePullCmd.Flags().StringP("out", "o", "", "Write the decrypted bytes to this file")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().Duration("timeout", 0, "How long to wait (default: the configured materialization timeout)")
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().Bool("yes", false, "Confirm deleting the database and every backup")
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(offsiteCmd)
}
