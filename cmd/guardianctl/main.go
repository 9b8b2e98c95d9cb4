// Command guardianctl edits the monitoring configuration and prints uptime
// statistics straight from the configured store, without a gateway
// connection.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/leozw/presence-guardian/internal/admin"
	"github.com/leozw/presence-guardian/internal/api/middleware"
	"github.com/leozw/presence-guardian/internal/config"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/leozw/presence-guardian/internal/storage/backends"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const usage = `Usage: guardianctl [flags] <command> [args]

Commands:
  set-channel <tenant_id> <channel_id>   set the notification channel
  remove-channel <tenant_id>             remove the notification channel
  add <tenant_id> <account_id>           start monitoring an account
  remove <tenant_id> <account_id>        stop monitoring an account
  list <tenant_id>                       list monitored accounts
  uptime <tenant_id> [account_id]        show uptime statistics
  token                                  mint an API token

Flags:
`

type cli struct {
	out     io.Writer
	cfg     *config.Config
	asJSON  bool
	subject string
	ttl     time.Duration
}

func main() {
	flags := pflag.NewFlagSet("guardianctl", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "path to a config file (default ./config.yaml)")
	c := &cli{out: os.Stdout}
	flags.BoolVar(&c.asJSON, "json", false, "print results as JSON")
	flags.StringVar(&c.subject, "subject", "guardianctl", "subject of minted tokens")
	flags.DurationVar(&c.ttl, "ttl", 24*time.Hour, "lifetime of minted tokens")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	c.cfg = cfg

	if err := c.run(context.Background(), flags.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	if args[0] == "token" {
		return c.token()
	}

	backend, err := backends.Open(ctx, c.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", c.cfg.Storage.Driver, err)
	}
	store := storage.NewStore(backend)
	defer store.Close()

	return c.dispatch(ctx, admin.NewService(store, nil, nil, zap.NewNop()), args)
}

func (c *cli) dispatch(ctx context.Context, svc *admin.Service, args []string) error {
	cmd, params := args[0], args[1:]
	switch {
	case cmd == "set-channel" && len(params) == 2:
		if err := svc.SetChannel(ctx, params[0], params[1]); err != nil {
			return err
		}
		return c.print(map[string]string{"tenant_id": params[0], "channel_id": params[1]},
			"Notification channel of %s set to %s", params[0], params[1])

	case cmd == "remove-channel" && len(params) == 1:
		if err := svc.RemoveChannel(ctx, params[0]); err != nil {
			return err
		}
		return c.print(map[string]string{"tenant_id": params[0]},
			"Notification channel of %s removed", params[0])

	case cmd == "add" && len(params) == 2:
		if err := svc.AddAccount(ctx, params[0], params[1]); err != nil {
			return err
		}
		return c.print(map[string]string{"tenant_id": params[0], "account_id": params[1]},
			"Now monitoring %s in %s", params[1], params[0])

	case cmd == "remove" && len(params) == 2:
		if err := svc.RemoveAccount(ctx, params[0], params[1]); err != nil {
			return err
		}
		return c.print(map[string]string{"tenant_id": params[0], "account_id": params[1]},
			"Stopped monitoring %s in %s", params[1], params[0])

	case cmd == "list" && len(params) == 1:
		list, err := svc.ListAccounts(ctx, params[0])
		if err != nil {
			return err
		}
		if c.asJSON {
			return c.printJSON(list)
		}
		if len(list.Accounts) == 0 {
			fmt.Fprintf(c.out, "No accounts monitored in %s\n", params[0])
			return nil
		}
		for _, a := range list.Accounts {
			fmt.Fprintln(c.out, a.AccountID)
		}
		return nil

	case cmd == "uptime" && len(params) == 1:
		uptimes, err := svc.TenantUptime(ctx, params[0])
		if err != nil {
			return err
		}
		if c.asJSON {
			return c.printJSON(uptimes)
		}
		if len(uptimes) == 0 {
			fmt.Fprintf(c.out, "No accounts monitored in %s\n", params[0])
			return nil
		}
		for i := range uptimes {
			c.printUptime(&uptimes[i])
		}
		return nil

	case cmd == "uptime" && len(params) == 2:
		uptime, err := svc.AccountUptime(ctx, params[0], params[1])
		if err != nil {
			return err
		}
		if c.asJSON {
			return c.printJSON(uptime)
		}
		c.printUptime(uptime)
		return nil
	}

	return fmt.Errorf("unknown command or wrong arguments: %v", args)
}

func (c *cli) token() error {
	token, err := middleware.IssueToken(c.cfg.Auth.JWTSecret, c.subject, c.ttl)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}
	fmt.Fprintln(c.out, token)
	return nil
}

func (c *cli) printUptime(u *admin.Uptime) {
	lastCheck := "never"
	if u.LastCheck != nil {
		lastCheck = u.LastCheck.Format(time.RFC3339)
	}
	fmt.Fprintf(c.out, "%s\t%.2f%%\t%d checks\t%s\tlast check %s\n",
		u.AccountID, u.UptimePercentage, u.TotalChecks, u.LastStatus, lastCheck)
}

func (c *cli) print(v any, format string, args ...any) error {
	if c.asJSON {
		return c.printJSON(v)
	}
	fmt.Fprintf(c.out, format+"\n", args...)
	return nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
