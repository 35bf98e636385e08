// Command shepherdctl is a thin client for Shepherd's control socket.
// It is out of core scope (spec.md explicitly leaves the client binary
// unspecified beyond the protocol it speaks) but is included here for
// a complete, usable pair of binaries.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/briskcanopy/shepherd/internal/control"
	"github.com/briskcanopy/shepherd/pkg/client"
)

func main() {
	var socketPath string

	root := &cobra.Command{
		Use:   "shepherdctl",
		Short: "Control a running shepherd daemon over its Unix control socket.",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", client.DefaultConfig().SocketPath, "control socket path")

	newClient := func() *client.Client {
		return client.New(client.Config{SocketPath: socketPath})
	}

	cmdPS := &cobra.Command{
		Use:   "ps",
		Short: "List every daemon and its current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newClient().PS()
			if err != nil {
				return exitErr(err)
			}
			printJSON(entries)
			return nil
		},
	}

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "Print the daemon's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newClient().Version()
			if err != nil {
				return exitErr(err)
			}
			printJSON(v)
			return nil
		},
	}

	cmdReload := &cobra.Command{
		Use:   "reload",
		Short: "Re-read the roster file and apply the diff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Reload(); err != nil {
				return exitErr(err)
			}
			return nil
		},
	}

	daemonArgCommand := func(use, short string, action func(c *client.Client, name string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " NAME",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := action(newClient(), args[0]); err != nil {
					return exitErr(err)
				}
				return nil
			},
		}
	}

	cmdStart := daemonArgCommand("start", "Start a daemon", func(c *client.Client, name string) error { return c.Start(name) })
	cmdCancelRestart := daemonArgCommand("cancel-restart", "Cancel a pending cooling-down restart", func(c *client.Client, name string) error { return c.CancelRestart(name) })

	exitTriggerCommand := func(use, short string, action func(c *client.Client, name string) (control.ExitResult, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " NAME",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := action(newClient(), args[0])
				if err != nil {
					return exitErr(err)
				}
				os.Exit(exitCodeFor(res.Exit, res.Signal))
				return nil
			},
		}
	}
	cmdStop := exitTriggerCommand("stop", "Stop a daemon, blocking until it exits", func(c *client.Client, name string) (control.ExitResult, error) { return c.Stop(name) })
	cmdRestart := exitTriggerCommand("restart", "Restart a daemon", func(c *client.Client, name string) (control.ExitResult, error) { return c.Restart(name) })

	cmdListCommands := &cobra.Command{
		Use:   "list-commands NAME",
		Short: "List admin commands configured for a daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := newClient().ListCommands(args[0])
			if err != nil {
				return exitErr(err)
			}
			printJSON(names)
			return nil
		},
	}

	cmdAdminCommand := &cobra.Command{
		Use:   "admin-command NAME COMMAND",
		Short: "Run a named admin command against a daemon",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().AdminCommand(args[0], args[1])
			if err != nil {
				return exitErr(err)
			}
			fmt.Print(res.Output)
			os.Exit(exitCodeFor(res.Exit, res.Signal))
			return nil
		},
	}

	root.AddCommand(cmdPS, cmdVersion, cmdReload, cmdStart, cmdStop, cmdRestart, cmdCancelRestart, cmdListCommands, cmdAdminCommand)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(b))
}

// exitErr reports a protocol or transport failure: the spec reserves
// exit code 1 for these, distinct from a target daemon's own exit
// disposition.
func exitErr(err error) error {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
	return nil
}

// exitCodeFor mirrors the target daemon's own exit disposition: a
// signaled exit maps to 255+signal, a normal exit to its code, per
// spec.md's client exit-code convention.
func exitCodeFor(exit, signal *int) int {
	switch {
	case signal != nil:
		return 255 + *signal
	case exit != nil:
		return *exit
	default:
		return 0
	}
}
