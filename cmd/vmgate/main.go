// Package main is the entrypoint for the vmgate CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vmgate/internal/config"
	"vmgate/internal/ops"
	"vmgate/internal/output"
	"vmgate/internal/sshexec"
	"vmgate/internal/store"
	"vmgate/internal/trace"
	"vmgate/internal/vmware"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	flagHost      string
	flagPort      int
	flagUser      string
	flagTarget    string
	flagConfig    string
	flagRequestID string
	debug         bool
	noColor       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmgate",
	Short: "vmgate - Drive VMware Workstation on remote Windows hosts over SSH",
	Long: `vmgate manages virtual machines on Windows hosts running VMware
Workstation. It connects over SSH, runs generated PowerShell around vmrun,
and keeps an audit trail of every remote action.

Hosts are addressed either directly (--host/--user) or by name from a
targets file (--target).`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&flagHost, "host", "H", "", "Remote host address")
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "p", 22, "SSH port")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "SSH user")
	rootCmd.PersistentFlags().StringVarP(&flagTarget, "target", "t", "", "Named target from the targets file")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Targets file (default: ~/.vmgate/targets.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRequestID, "request-id", "", "Request id recorded with audit entries")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output including the audit trail")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(vmsCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(targetsCmd)
}

// newOutput builds the output handler honoring the global flags.
func newOutput() *output.Output {
	out := output.New(os.Stdout)
	out.SetColor(!noColor)
	out.SetDebug(debug)
	return out
}

// newService wires the process-wide audit trail and the on-disk stores.
func newService() (*ops.Service, error) {
	dir, err := store.DefaultDir()
	if err != nil {
		return nil, err
	}
	return ops.NewService(
		trace.NewStore(),
		store.NewKeyStore(store.KeyPath(dir)),
		store.NewPasswordStore(store.PasswordsPath(dir)),
	), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()
	return ctx, cancel
}

// configPath resolves the targets file location.
func configPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	dir, err := store.DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "targets.yaml"), nil
}

// resolveConn turns the global flags into a connection config, plus the VMs
// known for the target when one is named.
func resolveConn() (sshexec.Config, []string, error) {
	if flagTarget != "" {
		path, err := configPath()
		if err != nil {
			return sshexec.Config{}, nil, err
		}
		f, err := config.ParseFile(path)
		if err != nil {
			return sshexec.Config{}, nil, err
		}
		t, err := f.Lookup(flagTarget)
		if err != nil {
			return sshexec.Config{}, nil, err
		}
		return sshexec.Config{Host: t.Host, Port: t.GetPort(), User: t.User}, t.VMs, nil
	}

	if flagHost == "" || flagUser == "" {
		return sshexec.Config{}, nil, fmt.Errorf("either --target or both --host and --user are required")
	}
	return sshexec.Config{Host: flagHost, Port: flagPort, User: flagUser}, nil, nil
}

// finish prints the audit trail in debug mode and passes the error through.
func finish(out *output.Output, svc *ops.Service, err error) error {
	if debug {
		out.Section("TRACE")
		out.TraceTable(svc.Trace.List())
	}
	return err
}

// execCmd runs arbitrary remote command text
var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Run a command on the remote host",
	Long: `Execute arbitrary command text on the remote host and print the
combined output. Command text is limited to 8192 bytes.

Examples:
  vmgate exec -t lab "dir C:\\VMs"
  vmgate -H 192.168.7.20 -u admin exec hostname`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		svc, err := newService()
		if err != nil {
			return err
		}
		conn, _, err := resolveConn()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		out.Debug("connecting to %s", conn.Addr())
		started := time.Now()
		text, err := svc.Exec(ctx, conn, args[0], flagRequestID)
		if err != nil {
			out.Result("exec", false, time.Since(started))
			return finish(out, svc, err)
		}
		out.Result("exec", true, time.Since(started))
		out.CommandOutput(text)
		return finish(out, svc, nil)
	},
}

// vmsCmd groups VM lifecycle commands
var vmsCmd = &cobra.Command{
	Use:   "vms",
	Short: "List, start and stop virtual machines",
}

var vmsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List running VMs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		svc, err := newService()
		if err != nil {
			return err
		}
		conn, _, err := resolveConn()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		paths, err := svc.ListRunningVMs(ctx, conn, flagRequestID)
		if err != nil {
			return finish(out, svc, err)
		}
		out.Section("RUNNING VMS")
		out.Paths(paths)
		return finish(out, svc, nil)
	},
}

var vmsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run state of the target's known VMs",
	Long: `Match the target's configured VM list against what vmrun reports
as running. Requires --target, since the known VM list comes from the
targets file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		svc, err := newService()
		if err != nil {
			return err
		}
		conn, known, err := resolveConn()
		if err != nil {
			return err
		}
		if len(known) == 0 {
			return fmt.Errorf("no known VMs; use --target with a targets file listing vms")
		}

		ctx, cancel := signalContext()
		defer cancel()

		statuses, err := svc.StatusForKnown(ctx, conn, known, flagRequestID)
		if err != nil {
			return finish(out, svc, err)
		}
		out.Section("VM STATUS")
		out.VMList(statuses)
		return finish(out, svc, nil)
	},
}

var vmsStartCmd = &cobra.Command{
	Use:   "start <vmx-path>",
	Short: "Start a VM headless",
	Long: `Start a VM and wait until vmrun reports it running. Encrypted VMs
use the stored password when one exists; if the VM demands a password and
none is stored (or the stored one is rejected), vmgate prompts, saves the
entry and retries once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(args[0], "", true)
	},
}

var stopModeFlag string

var vmsStopCmd = &cobra.Command{
	Use:   "stop <vmx-path>",
	Short: "Stop a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(args[0], stopModeFlag, false)
	},
}

func init() {
	vmsStopCmd.Flags().StringVar(&stopModeFlag, "mode", "soft", "Stop mode: soft or hard")

	vmsCmd.AddCommand(vmsListCmd)
	vmsCmd.AddCommand(vmsStatusCmd)
	vmsCmd.AddCommand(vmsStartCmd)
	vmsCmd.AddCommand(vmsStopCmd)
	vmsCmd.AddCommand(vmsScanCmd)
}

// runLifecycle drives start/stop with the stored-password flow and one
// interactive retry on a password demand.
func runLifecycle(vmxPath, stopMode string, start bool) error {
	out := newOutput()
	svc, err := newService()
	if err != nil {
		return err
	}
	conn, _, err := resolveConn()
	if err != nil {
		return err
	}

	mode := vmware.StopSoft
	if !start {
		mode, err = vmware.ParseStopMode(stopMode)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	out.Debug("connecting to %s", conn.Addr())
	action := "stop"
	run := func() (string, error) {
		return svc.StopVMAuto(ctx, conn, vmxPath, mode, flagRequestID)
	}
	if start {
		action = "start"
		run = func() (string, error) {
			return svc.StartVMAuto(ctx, conn, vmxPath, flagRequestID)
		}
	}

	started := time.Now()
	text, err := run()
	if errors.Is(err, ops.ErrPasswordRequired) || errors.Is(err, ops.ErrPasswordInvalid) {
		out.Warn("%v", err)
		password, perr := promptPassword(fmt.Sprintf("Password for %s: ", vmxPath))
		if perr != nil {
			return finish(out, svc, perr)
		}
		if serr := svc.Passwords.Set(vmxPath, password); serr != nil {
			return finish(out, svc, serr)
		}
		text, err = run()
	}
	if err != nil {
		out.Result("vm_"+action, false, time.Since(started))
		return finish(out, svc, err)
	}
	out.Result("vm_"+action, true, time.Since(started))
	out.CommandOutput(text)
	return finish(out, svc, nil)
}

var scanRoots []string

var vmsScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover .vmx files on the remote host",
	Long: `Search for .vmx files under the given roots, or under the stock
Workstation VM directories when no roots are given. Results are capped at
500 paths.

Examples:
  vmgate vms scan -t lab
  vmgate vms scan -t lab --root 'D:\VMs' --root '%USERPROFILE%\VMs'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		svc, err := newService()
		if err != nil {
			return err
		}
		conn, _, err := resolveConn()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		paths, err := svc.ScanVMX(ctx, conn, scanRoots, flagRequestID)
		if err != nil {
			return finish(out, svc, err)
		}
		out.Section("DISCOVERED VMX FILES")
		out.Paths(paths)
		return finish(out, svc, nil)
	},
}

func init() {
	vmsScanCmd.Flags().StringArrayVar(&scanRoots, "root", nil, "Directory to search (repeatable; remote environment variables are expanded)")
}

// traceCmd exposes the in-process audit trail
var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect the audit trail of this invocation",
	Long: `The audit trail lives in process memory and records every remote
action of the current invocation, newest first. It is most useful together
with --debug, or when vmgate's packages are embedded in a long-running
program.`,
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		svc, err := newService()
		if err != nil {
			return err
		}
		out.TraceTable(svc.Trace.List())
		return nil
	},
}

var traceClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear audit entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		svc.Trace.Clear()
		newOutput().Info("trace cleared")
		return nil
	},
}

func init() {
	traceCmd.AddCommand(traceListCmd)
	traceCmd.AddCommand(traceClearCmd)
}

// keyCmd manages the stored SSH private key
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the SSH private key",
}

var keySetCmd = &cobra.Command{
	Use:   "set <key-file>",
	Short: "Validate and store a private key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read key file: %w", err)
		}
		if err := svc.Keys.Set(data); err != nil {
			return err
		}
		newOutput().Info("key stored")
		return nil
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a key is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		out := newOutput()
		if !svc.Keys.Exists() {
			out.Warn("no key stored")
			return nil
		}
		if _, err := svc.Keys.Signer(); err != nil {
			out.Error("stored key is unusable: %v", err)
			return err
		}
		out.Info("key stored and parseable")
		return nil
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		if err := svc.Keys.Clear(); err != nil {
			return err
		}
		newOutput().Info("key removed")
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyStatusCmd)
	keyCmd.AddCommand(keyClearCmd)
}

// passwordCmd manages stored VM passwords
var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Manage stored VM passwords",
}

var passwordSetCmd = &cobra.Command{
	Use:   "set <vmx-path>",
	Short: "Store a password for an encrypted VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		password, err := promptPassword(fmt.Sprintf("Password for %s: ", args[0]))
		if err != nil {
			return err
		}
		if err := svc.Passwords.Set(args[0], password); err != nil {
			return err
		}
		newOutput().Info("password stored")
		return nil
	},
}

var passwordClearCmd = &cobra.Command{
	Use:   "clear <vmx-path>",
	Short: "Remove the stored password for a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		if err := svc.Passwords.Clear(args[0]); err != nil {
			return err
		}
		newOutput().Info("password removed")
		return nil
	},
}

func init() {
	passwordCmd.AddCommand(passwordSetCmd)
	passwordCmd.AddCommand(passwordClearCmd)
}

// hostCmd reports facts about the remote host
var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Inspect the remote host",
}

var hostInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show host identity, OS, code page and vmrun install",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		svc, err := newService()
		if err != nil {
			return err
		}
		conn, _, err := resolveConn()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		facts, err := svc.HostInfo(ctx, conn, flagRequestID)
		if err != nil {
			return finish(out, svc, err)
		}
		out.Section("HOST")
		out.HostFacts(facts)
		return finish(out, svc, nil)
	},
}

var hostDirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Run a plain directory listing as a connectivity check",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		svc, err := newService()
		if err != nil {
			return err
		}
		conn, _, err := resolveConn()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		out.Debug("connecting to %s", conn.Addr())
		text, err := svc.Dir(ctx, conn, flagRequestID)
		if err != nil {
			return finish(out, svc, err)
		}
		out.CommandOutput(text)
		return finish(out, svc, nil)
	},
}

func init() {
	hostCmd.AddCommand(hostInfoCmd)
	hostCmd.AddCommand(hostDirCmd)
}

// targetsCmd lists configured targets
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List targets from the targets file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		path, err := configPath()
		if err != nil {
			return err
		}
		f, err := config.ParseFile(path)
		if err != nil {
			return err
		}
		if len(f.Targets) == 0 {
			out.Warn("no targets in %s", path)
			return nil
		}
		out.Section("TARGETS")
		out.Targets(f.Targets)
		return nil
	},
}

// promptPassword reads a password without echo when stdin is a terminal,
// or a single line otherwise (for scripted use).
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
