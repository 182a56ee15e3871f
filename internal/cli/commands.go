package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/medkeeper/internal/services"
)

var errNotConfirmed = errors.New("refusing without -yes")

func version(_ context.Context, c *CLI, _ []string) error {
	buildinfo.PrintBuildData(c.Stdout)
	return nil
}

func serve(ctx context.Context, c *CLI, args []string) error {
	cfg, log, err := c.setup(args)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}

func register(ctx context.Context, c *CLI, args []string) error {
	var req services.RegisterRequest
	err := localFlags(args, func(fs *flag.FlagSet) {
		fs.StringVar(&req.UserName, "u", "", "user name")
		fs.StringVar(&req.FullName, "n", "", "full name")
		fs.StringVar(&req.Role, "role", "worker", "role")
	})
	if err != nil {
		return err
	}
	if req.UserName == "" {
		return errors.New("-u is required")
	}

	cfg, log, err := c.setup(args)
	if err != nil {
		return err
	}

	pw, err := c.readSecret("Password: ")
	if err != nil {
		return err
	}
	confirm, err := c.readSecret("Repeat password: ")
	if err != nil {
		return err
	}
	if pw != confirm {
		return errors.New("passwords do not match")
	}
	req.Password = pw

	reg, closeFn, err := openRegistrar(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	sess, err := reg.Register(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout, "registered %s (%s) as %s\n", req.UserName, sess.Profile.ID, sess.Profile.Role)
	return nil
}

func keyStatus(ctx context.Context, c *CLI, args []string) error {
	cfg, log, err := c.setup(args)
	if err != nil {
		return err
	}
	a, err := newKeyApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	_, kerr := a.Keys.MasterKey(ctx)
	state, ephemeral := a.Keys.Status()
	fmt.Fprintf(c.Stdout, "store=%s state=%s ephemeral=%t\n", cfg.KeyStore, state, ephemeral)
	return kerr
}

func rotateKey(ctx context.Context, c *CLI, args []string) error {
	var yes bool
	if err := localFlags(args, func(fs *flag.FlagSet) { fs.BoolVar(&yes, "yes", false, "confirm") }); err != nil {
		return err
	}
	if !yes {
		return errNotConfirmed
	}

	cfg, log, err := c.setup(args)
	if err != nil {
		return err
	}
	a, err := newKeyApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Keys.ResetKey(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.Stdout, "master key replaced; data encrypted under the previous key can no longer be decrypted")
	return nil
}

func exportKey(ctx context.Context, c *CLI, args []string) error {
	cfg, log, err := c.setup(args)
	if err != nil {
		return err
	}
	a, err := newKeyApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	exported, err := a.Keys.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.Stdout, exported)
	return nil
}

func importKey(ctx context.Context, c *CLI, args []string) error {
	var yes bool
	if err := localFlags(args, func(fs *flag.FlagSet) { fs.BoolVar(&yes, "yes", false, "confirm") }); err != nil {
		return err
	}
	if !yes {
		return errNotConfirmed
	}

	cfg, log, err := c.setup(args)
	if err != nil {
		return err
	}
	exported, err := c.readSecret("Exported key: ")
	if err != nil {
		return err
	}

	a, err := newKeyApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Keys.Import(ctx, exported); err != nil {
		return err
	}
	fmt.Fprintln(c.Stdout, "master key imported")
	return nil
}

func auditLog(ctx context.Context, c *CLI, args []string) error {
	var critical, stats bool
	err := localFlags(args, func(fs *flag.FlagSet) {
		fs.BoolVar(&critical, "critical", false, "critical alerts only")
		fs.BoolVar(&stats, "stats", false, "summary counts")
	})
	if err != nil {
		return err
	}

	cfg, log, err := c.setup(args)
	if err != nil {
		return err
	}
	if cfg.RedisAddr == "" {
		fmt.Fprintln(c.Stderr, "warning: no Redis configured; the in-memory audit log of this process is empty")
	}
	a, err := newKeyApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case stats:
		s, err := a.Audit.Stats(ctx)
		if err != nil {
			return err
		}
		return c.printJSON(s)
	case critical:
		alerts, err := a.Audit.CriticalAlerts(ctx)
		if err != nil {
			return err
		}
		return c.printJSON(alerts)
	default:
		events, err := a.Audit.Events(ctx)
		if err != nil {
			return err
		}
		return c.printJSON(events)
	}
}
