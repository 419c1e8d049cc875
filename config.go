/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/icebox/games/content"
	"github.com/Seednode/icebox/storage"
)

type Config struct {
	bind           string
	builtin        bool
	dbDriver       string
	dbDSN          string
	pairs          int
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	submitTimeout  time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.pairs < 1 {
		return fmt.Errorf("invalid pair count (must be at least 1): %d", c.pairs)
	}
	if n := len(content.MediaKeys()); c.builtin && c.pairs > n {
		return fmt.Errorf("invalid pair count (built-in content has %d pairs): %d", n, c.pairs)
	}
	if err := c.validateDB(); err != nil {
		return err
	}
	if !c.builtin && c.dbDSN == "" {
		return errors.New("no game content available: set --db-dsn or enable --builtin-content")
	}
	return nil
}

func (c *Config) validateDB() error {
	if c.dbDSN == "" {
		return nil
	}
	switch c.dbDriver {
	case storage.DriverSQLite, storage.DriverPostgres:
		return nil
	}
	return fmt.Errorf("invalid database driver (must be %q or %q): %q", storage.DriverSQLite, storage.DriverPostgres, c.dbDriver)
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ICEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "icebox",
		Short:         "Icebreaker mini-games for groups: photo memory, word chains and polls.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&cfg.dbDriver, "db-driver", storage.DriverSQLite, "database driver, sqlite or postgres (env: ICEBOX_DB_DRIVER)")
	pfs.StringVar(&cfg.dbDSN, "db-dsn", "", "database connection string; built-in content only when empty (env: ICEBOX_DB_DSN)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: ICEBOX_VERBOSE)")

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: ICEBOX_BIND)")
	fs.BoolVar(&cfg.builtin, "builtin-content", true, "fall back to built-in content for groups without stored content (env: ICEBOX_BUILTIN_CONTENT)")
	fs.IntVar(&cfg.pairs, "pairs", 9, "number of card pairs dealt per memory game (env: ICEBOX_PAIRS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: ICEBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: ICEBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: ICEBOX_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: ICEBOX_SESSION_TIMEOUT)")
	fs.DurationVar(&cfg.submitTimeout, "submit-timeout", 10*time.Second, "time allowed for saving a game result (env: ICEBOX_SUBMIT_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: ICEBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: ICEBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: ICEBOX_VERSION)")

	bindEnv(v, pfs)
	bindEnv(v, fs)

	cmd.AddCommand(newSeedCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("icebox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
