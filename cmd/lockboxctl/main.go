// Command lockboxctl runs operator actions against the engine's stores
// directly, without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/freekieb7/lockbox/internal/config"
	"github.com/freekieb7/lockbox/internal/container"
	"github.com/freekieb7/lockbox/internal/revocation"
	"github.com/spf13/pflag"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, c *container.Container, args []string, out io.Writer) error
}

var commands = []command{
	{"stats", "print revocation and session counts", runStats},
	{"sweep", "delete expired durable revocations", runSweep},
	{"create-user", "create an account", runCreateUser},
	{"deactivate", "deactivate an account and end its sessions", runDeactivate},
	{"force-logout", "end every session of a user", runForceLogout},
	{"emergency-reset", "log out the given users, or every active user", runEmergencyReset},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}

	cmd, ok := lookup(args[0])
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return errors.Join(errors.New("load config failed"), err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c, err := container.New(ctx, cfg, logger, "lockboxctl")
	if err != nil {
		return errors.Join(errors.New("build container failed"), err)
	}
	defer c.Close()

	return cmd.run(ctx, c, args[1:], out)
}

func lookup(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func printUsage() {
	var b strings.Builder
	b.WriteString("Usage:\n  lockboxctl <command> [flags]\n\nCommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-16s %s\n", cmd.name, cmd.summary)
	}
	b.WriteString("\nConfiguration is read from the same environment variables as the server.\n")
	fmt.Fprint(os.Stderr, b.String())
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet("lockboxctl "+name, pflag.ContinueOnError)
}

func runStats(ctx context.Context, c *container.Container, args []string, out io.Writer) error {
	if err := newFlagSet("stats").Parse(args); err != nil {
		return err
	}
	return printJSON(out, c.Auth.Stats(ctx))
}

func runSweep(ctx context.Context, c *container.Container, args []string, out io.Writer) error {
	if err := newFlagSet("sweep").Parse(args); err != nil {
		return err
	}
	removed, err := c.Auth.SweepExpired(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]int64{"removed": removed})
}

func runCreateUser(ctx context.Context, c *container.Container, args []string, out io.Writer) error {
	var email, username string
	var passwordStdin bool

	flags := newFlagSet("create-user")
	flags.StringVar(&email, "email", "", "email address (required)")
	flags.StringVar(&username, "username", "", "optional login name")
	flags.BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin instead of LOCKBOX_PASSWORD")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if email == "" {
		return errors.New("--email is required")
	}

	plain := os.Getenv("LOCKBOX_PASSWORD")
	if passwordStdin {
		raw, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		plain = strings.TrimRight(string(raw), "\r\n")
	}
	if plain == "" {
		return errors.New("no password given; set LOCKBOX_PASSWORD or pass --password-stdin")
	}

	user, err := c.Auth.CreateUser(ctx, email, username, plain)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
	})
}

func runDeactivate(ctx context.Context, c *container.Container, args []string, out io.Writer) error {
	flags := newFlagSet("deactivate")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: lockboxctl deactivate <user-id>")
	}

	destroyed, err := c.Auth.DeactivateUser(ctx, flags.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(out, map[string]int{"sessions_destroyed": destroyed})
}

func runForceLogout(ctx context.Context, c *container.Container, args []string, out io.Writer) error {
	var reason string

	flags := newFlagSet("force-logout")
	flags.StringVar(&reason, "reason", string(revocation.ReasonAdminForced), "revocation reason recorded on the user marker")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: lockboxctl force-logout [--reason r] <user-id>")
	}

	destroyed, err := c.Auth.ForceLogoutUser(ctx, flags.Arg(0), revocation.Reason(reason))
	if err != nil {
		return err
	}
	return printJSON(out, map[string]int{"sessions_destroyed": destroyed})
}

func runEmergencyReset(ctx context.Context, c *container.Container, args []string, out io.Writer) error {
	var users []string
	var reason string
	var all bool

	flags := newFlagSet("emergency-reset")
	flags.StringSliceVarP(&users, "user", "u", nil, "user id to reset (repeatable)")
	flags.StringVar(&reason, "reason", string(revocation.ReasonSecurityReset), "revocation reason recorded on each marker")
	flags.BoolVar(&all, "all", false, "reset every recently active user")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if len(users) == 0 && !all {
		return errors.New("pass --user at least once, or --all to reset every active user")
	}

	report, err := c.Auth.EmergencySecurityReset(ctx, users, revocation.Reason(reason))
	if err != nil {
		return err
	}
	return printJSON(out, report)
}
