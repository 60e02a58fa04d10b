package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/runvisor/internal/config"
	"github.com/loykin/runvisor/internal/process"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	// Must run before anything else: the detached launcher re-executes this
	// binary as a short-lived helper.
	process.RunLaunchHelperIfRequested()

	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string // agent settings file (TOML/YAML), optional
}

// buildRoot creates the root command and its subcommands.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	v := config.NewViper()
	c := &command{v: v, flags: globalFlags, out: out}

	root := createRootCommand(globalFlags, v)
	root.AddCommand(
		createRunCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createStatusCommand(c),
		createPingCommand(c),
		createMemoryCommand(c),
		createLogLevelCommand(c),
		createDebuggerCommand(c),
		createHealthCommand(c),
		createVersionCommand(c),
		createAuthCommand(c),
	)
	return root
}

// createRootCommand creates the root command; persistent flags are bound to
// viper so they override the agent file and RUNVISOR_* variables.
func createRootCommand(flags *GlobalFlags, v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "runvisor",
		Short: "Supervisor for a detached application runtime",
		Long: `Runvisor launches an application runtime detached from the caller, drives it
to a serving state over its admin port, keeps it observable and shuts it down.

Examples:
  runvisor run --file=/etc/runvisor/site.yaml          # supervise in the foreground
  runvisor start --set runtime.Locale=en               # launch and return
  runvisor status
  runvisor log-level FileSubscriber Core=DEBUG
  runvisor stop --timeout=30s`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to agent settings file (optional)")
	pf.StringSlice("file", nil, "runtime configuration file, later files override earlier (repeatable)")
	pf.StringArray("set", nil, "override a configuration key, e.g. --set supervisor.runtime_port=9090 (repeatable)")
	pf.Bool("leader", false, "this instance may migrate the database schema")
	pf.String("log-level", "info", "supervisor log level (debug, info, warn, error)")
	pf.String("log-format", "text", "supervisor log format (text, json, color)")

	bind := map[string]string{
		"files":      "file",
		"set":        "set",
		"leader":     "leader",
		"log.level":  "log-level",
		"log.format": "log-format",
	}
	for key, name := range bind {
		if err := v.BindPFlag(key, pf.Lookup(name)); err != nil {
			panic(err) // This should never happen during setup
		}
	}
	return root
}

func createRunCommand(c *command) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runtime and supervise it until interrupted",
		Long: `Start the runtime (or attach to one already running), serve the status API,
watch configuration files and stop the runtime on SIGINT/SIGTERM.
Exits 1 when the runtime cannot be brought to the running state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "status API listen address (overrides status.listen)")
	cmd.Flags().BoolVar(&f.Watch, "watch", false, "reload the configuration when a file changes")
	cmd.Flags().BoolVar(&f.Metrics, "metrics", false, "expose Prometheus metrics on the status API")
	return cmd
}

func createStartCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch the runtime, bring it to running and return",
		Long: `Launch the runtime detached and drive it to the running state. The runtime
keeps running after this command returns; use 'runvisor stop' to end it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context())
		},
	}
}

func createStopCommand(c *command) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Shut the runtime down, escalating to signals if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *f)
		},
	}
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "wait per escalation step (default supervisor.shutdown_timeout)")
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the runtime's state",
		Long: `Show the runtime's state, either from the local pidfile and admin port or
from a running agent's status API.

Examples:
  runvisor status
  runvisor status --api-url=https://host:8079 --api-user=ops`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if api.remote() {
				return c.RemoteStatus(cmd.Context(), *api)
			}
			return c.Status(cmd.Context())
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

// addAPIFlags adds the remote agent connection flags.
func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "status API of a running agent (e.g. http://host:8079)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.Username, "api-user", "", "status API user")
	cmd.Flags().StringVar(&f.Password, "api-password", "", "status API password (or RUNVISOR_API_PASSWORD)")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification of the status API")
}

func createPingCommand(c *command) *cobra.Command {
	f := &PingFlags{}
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the runtime's admin port answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Ping(cmd.Context(), *f)
		},
	}
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 2*time.Second, "ping timeout")
	cmd.Flags().BoolVar(&f.Echo, "echo", false, "use the echo action instead of ping")
	return cmd
}

func createMemoryCommand(c *command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Show the runtime's resident memory by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			if api.remote() {
				return c.RemoteMemory(cmd.Context(), *api)
			}
			return c.Memory(cmd.Context())
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createLogLevelCommand(c *command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "log-level [subscriber node=LEVEL...]",
		Short: "Show or change runtime log levels",
		Long: `Without arguments, print the runtime's log subscribers and levels.
With a subscriber and node=LEVEL pairs, change those levels.

Examples:
  runvisor log-level
  runvisor log-level FileSubscriber Core=DEBUG Core.Connector=TRACE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if api.remote() {
				return c.RemoteLogLevel(cmd.Context(), *api, args)
			}
			return c.LogLevel(cmd.Context(), args)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createDebuggerCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debugger",
		Short: "Enable or disable the runtime's remote debugger",
	}
	var password string
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Enable the remote debugger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Debugger(cmd.Context(), true, password)
		},
	}
	enable.Flags().StringVar(&password, "password", "", "debugger password (required)")
	if err := enable.MarkFlagRequired("password"); err != nil {
		panic(err)
	}
	disable := &cobra.Command{
		Use:   "disable",
		Short: "Disable the remote debugger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Debugger(cmd.Context(), false, "")
		},
	}
	cmd.AddCommand(enable, disable)
	return cmd
}

func createHealthCommand(c *command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Ask the runtime for its health self-assessment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if api.remote() {
				return c.RemoteHealth(cmd.Context(), *api)
			}
			return c.Health(cmd.Context())
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createVersionCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the runvisor version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.printf("runvisor %s\n", Version)
			return nil
		},
	}
}

func createAuthCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Status API credentials",
	}
	var password string
	var cost int
	hash := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for status.auth.users[].password_hash",
		Long: `Print a bcrypt hash for a status API user. Without --password the
password is read from stdin.

Examples:
  echo -n 's3cret' | runvisor auth hash-password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashPassword(cmd.InOrStdin(), password, cost)
		},
	}
	hash.Flags().StringVar(&password, "password", "", "password to hash (default: read stdin)")
	hash.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	cmd.AddCommand(hash)
	return cmd
}
