// Command fieldcrypt serves the fieldcrypt admin API and drives key rotations
// from the command line.
//
// Commands run against the configured database, or against a running server
// when --url (FIELDCRYPT_URL) is set.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/app"
	"github.com/remind101/fieldcrypt/config"
	"github.com/remind101/fieldcrypt/keyregistry"
	"github.com/remind101/fieldcrypt/logger"
	"github.com/remind101/fieldcrypt/rotation"
	"github.com/remind101/fieldcrypt/server"
	"github.com/remind101/fieldcrypt/svc"
	"github.com/urfave/cli"
)

var stdout io.Writer = os.Stdout

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	a := cli.NewApp()
	a.Name = "fieldcrypt"
	a.Usage = "envelope encryption and key rotation for transaction fields"
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "url",
			Usage:  "Base URL of a fieldcrypt server, with admin credentials as userinfo. Commands run locally when empty.",
			EnvVar: "FIELDCRYPT_URL",
		},
	}
	a.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Serve /health and the admin API",
			Action: serve,
		},
		{
			Name:   "bootstrap",
			Usage:  "Create the initial key and write label if missing, then print crypto status",
			Action: bootstrap,
		},
		{
			Name:   "keys",
			Usage:  "List registered key labels",
			Action: withAdmin(keys),
		},
		{
			Name:      "begin",
			Usage:     "Create the target key of a rotation",
			ArgsUsage: "[label]",
			Action:    withAdmin(begin),
		},
		{
			Name:  "rotate",
			Usage: "Migrate pending rows to the target label",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "source", Usage: "Source label. Defaults to the write label."},
				cli.StringFlag{Name: "target", Usage: "Target label."},
				cli.IntFlag{Name: "batch-size", Usage: "Rows per batch. Defaults to FIELDCRYPT_BATCH_SIZE."},
				cli.BoolFlag{Name: "dry-run", Usage: "Decrypt and report without writing."},
				cli.IntFlag{Name: "max-batches", Usage: "Stop after this many batches. 0 drains every pending row."},
			},
			Action: withAdmin(rotate),
		},
		{
			Name:      "finalize",
			Usage:     "Make the target the write label",
			ArgsUsage: "<target>",
			Action:    withAdmin(finalize),
		},
		{
			Name:  "status",
			Usage: "Report rotation progress",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "target", Usage: "Target label to report progress towards."},
			},
			Action: withAdmin(status),
		},
	}
	return a
}

// admin is implemented by a running server's client and by the local engine.
type admin interface {
	Keys(context.Context) (*server.Keys, error)
	Begin(ctx context.Context, label string) (*keyregistry.KeyRecord, error)
	Run(context.Context, rotation.Request) (*rotation.Result, error)
	Finalize(ctx context.Context, target string) (*rotation.FinalizeResult, error)
	Status(ctx context.Context, target string) (*rotation.Status, error)
}

type local struct {
	*app.App
}

func (l *local) Keys(ctx context.Context) (*server.Keys, error) {
	return server.ListKeys(ctx, l.Registry, l.State)
}

func (l *local) Begin(ctx context.Context, label string) (*keyregistry.KeyRecord, error) {
	return l.Rotation.Begin(ctx, label)
}

func (l *local) Run(ctx context.Context, req rotation.Request) (*rotation.Result, error) {
	return l.Rotation.Run(ctx, req)
}

func (l *local) Finalize(ctx context.Context, target string) (*rotation.FinalizeResult, error) {
	return l.Rotation.Finalize(ctx, target)
}

func (l *local) Status(ctx context.Context, target string) (*rotation.Status, error) {
	return l.Rotation.Status(ctx, target)
}

func withAdmin(fn func(context.Context, *cli.Context, admin) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if raw := c.GlobalString("url"); raw != "" {
			u, err := url.Parse(raw)
			if err != nil {
				return errors.Wrap(err, "parsing --url")
			}
			return fn(ctx, c, server.NewClient(u))
		}

		a, env, err := open(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		defer a.Close()
		return fn(env.Context, c, &local{App: a})
	}
}

// open loads the configuration and builds the app. The returned context
// carries the configured logger.
func open(ctx context.Context) (*app.App, svc.Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, svc.Env{}, err
	}

	env := svc.InitAll("fieldcrypt", cfg.LogLevel, cfg.StatsdAddr)
	env.Context = logger.WithLogger(ctx, env.Logger)

	a, err := app.New(env.Context, cfg)
	if err != nil {
		env.Close()
		return nil, svc.Env{}, err
	}
	return a, env, nil
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, env, err := open(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	user, pass, _ := a.Config.AdminCredentials()
	s := server.New(server.Options{
		State:       a.State,
		Rotation:    a.Rotation,
		Keys:        a.Registry,
		HealthFatal: a.Config.HealthFatal,
		AdminUser:   user,
		AdminPass:   pass,
	})

	srv := svc.NewServer(s.Handler(), svc.WithPort(a.Config.Port), svc.WithBaseContext(env.Context))
	return svc.RunServer(env.Context, srv, func() { a.Close() })
}

func bootstrap(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, env, err := open(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	defer a.Close()

	return printJSON(a.State.Status(env.Context))
}

func keys(ctx context.Context, c *cli.Context, a admin) error {
	k, err := a.Keys(ctx)
	if err != nil {
		return err
	}
	return printJSON(k)
}

func begin(ctx context.Context, c *cli.Context, a admin) error {
	k, err := a.Begin(ctx, c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(k)
}

func rotate(ctx context.Context, c *cli.Context, a admin) error {
	res, err := a.Run(ctx, rotation.Request{
		Source:     c.String("source"),
		Target:     c.String("target"),
		BatchSize:  c.Int("batch-size"),
		DryRun:     c.Bool("dry-run"),
		MaxBatches: c.Int("max-batches"),
	})
	if res != nil {
		if perr := printJSON(res); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func finalize(ctx context.Context, c *cli.Context, a admin) error {
	target := c.Args().First()
	if target == "" {
		return errors.New("finalize requires a target label")
	}
	res, err := a.Finalize(ctx, target)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func status(ctx context.Context, c *cli.Context, a admin) error {
	st, err := a.Status(ctx, c.String("target"))
	if err != nil {
		return err
	}
	return printJSON(st)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
