package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/syntaxvpn/vpnpool/internal/app"
	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/pool"

	log "github.com/sirupsen/logrus"
)

const usage = `usage: vpnpool [-config path] <command> [flags]

commands:
  serve        run the HTTP service (default)
  init         write a starter config file
  migrate      apply database migrations
  load-uuids   add identifiers from a file to a server pool
  gen-uuids    generate identifiers, optionally loading them into a server pool
  admin-token  issue an admin API token
`

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:], os.Stdout); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses global flags and dispatches the subcommand.
func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("vpnpool", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	fs.Usage = func() { _, _ = fmt.Fprint(fs.Output(), usage) }
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	command, rest := "serve", fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	if command == "init" {
		return runInit(appCfg.ConfigPath, rest)
	}

	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return err
	}
	app.ConfigureLogging(cfg.Logging)

	switch command {
	case "serve":
		return app.RunServer(ctx, cfg)
	case "migrate":
		if errMigrate := app.Migrate(cfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	case "load-uuids":
		return runLoad(ctx, cfg, rest)
	case "gen-uuids":
		return runGenerate(ctx, cfg, rest, out)
	case "admin-token":
		return runAdminToken(cfg, rest, out)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runInit(configPath string, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	var opts app.InitOptions
	fs.StringVar(&opts.DatabaseType, "db-type", "sqlite", "database type: sqlite or postgres")
	fs.StringVar(&opts.DatabasePath, "db-path", "", "sqlite database file")
	fs.StringVar(&opts.DatabaseHost, "db-host", "", "postgres host")
	fs.IntVar(&opts.DatabasePort, "db-port", 5432, "postgres port")
	fs.StringVar(&opts.DatabaseUser, "db-user", "", "postgres user")
	fs.StringVar(&opts.DatabasePassword, "db-password", "", "postgres password")
	fs.StringVar(&opts.DatabaseName, "db-name", "", "postgres database")
	fs.StringVar(&opts.DatabaseSSLMode, "db-sslmode", "disable", "postgres sslmode")
	fs.StringVar(&opts.BrandName, "brand", "", "brand shown in client link labels")
	fs.StringVar(&opts.ListenAddr, "addr", ":8080", "HTTP listen address")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	dsn, errDSN := app.BuildDSN(opts)
	if errDSN != nil {
		return errDSN
	}
	if errTest := app.TestDatabaseConnection(dsn); errTest != nil {
		return errTest
	}
	if errWrite := app.WriteConfigFile(configPath, opts); errWrite != nil {
		return errWrite
	}
	log.Infof("config written to %s; edit the servers section before serving", configPath)
	return nil
}

func runLoad(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("load-uuids", flag.ContinueOnError)
	server := fs.String("server", "", "server the identifiers belong to")
	file := fs.String("file", "", "file with one identifier per line (- for stdin)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if strings.TrimSpace(*server) == "" || strings.TrimSpace(*file) == "" {
		return errors.New("load-uuids: -server and -file are required")
	}

	var (
		identifiers []string
		errRead     error
	)
	if *file == "-" {
		identifiers, errRead = pool.ReadIdentifiers(os.Stdin)
	} else {
		identifiers, errRead = pool.LoadFile(*file)
	}
	if errRead != nil {
		return errRead
	}
	_, errLoad := app.LoadIdentifiers(ctx, cfg, *server, identifiers)
	return errLoad
}

func runGenerate(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gen-uuids", flag.ContinueOnError)
	n := fs.Int("n", 100, "number of identifiers to generate")
	server := fs.String("server", "", "load the generated identifiers into this server pool")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if *n <= 0 {
		return fmt.Errorf("gen-uuids: invalid count %d", *n)
	}

	identifiers := pool.Generate(*n)
	for _, id := range identifiers {
		if _, errWrite := fmt.Fprintln(out, id); errWrite != nil {
			return errWrite
		}
	}
	if strings.TrimSpace(*server) == "" {
		return nil
	}
	_, errLoad := app.LoadIdentifiers(ctx, cfg, *server, identifiers)
	return errLoad
}

func runAdminToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	name := fs.String("name", "", "operator name recorded in the token")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: jwt.expiry)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	token, errIssue := app.IssueAdminToken(cfg, *name, *ttl)
	if errIssue != nil {
		return errIssue
	}
	_, errWrite := fmt.Fprintln(out, token)
	return errWrite
}
