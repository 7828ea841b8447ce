package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind               string
	catalogAffiliateID string
	catalogAppID       string
	catalogTimeout     time.Duration
	catalogURL         string
	port               int
	prefix             string
	profile            bool
	sessionTimeout     time.Duration
	tlsCert            string
	tlsKey             string
	verbose            bool
	version            bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.catalogTimeout < time.Second {
		return fmt.Errorf("invalid catalog timeout (must be at least 1s): %s", c.catalogTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PRICEGUESSER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "priceguesser",
		Short:         "A multiplayer price-guessing party game, played against live shopping listings.",
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

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PRICEGUESSER_BIND)")
	fs.StringVar(&cfg.catalogAffiliateID, "catalog-affiliate-id", "", "Rakuten affiliate ID to embed in product links (env: PRICEGUESSER_CATALOG_AFFILIATE_ID)")
	fs.StringVar(&cfg.catalogAppID, "catalog-app-id", "", "Rakuten application ID for product lookups (env: PRICEGUESSER_CATALOG_APP_ID)")
	fs.DurationVar(&cfg.catalogTimeout, "catalog-timeout", 10*time.Second, "time budget for a single catalog fetch (env: PRICEGUESSER_CATALOG_TIMEOUT)")
	fs.StringVar(&cfg.catalogURL, "catalog-url", "https://app.rakuten.co.jp", "base URL of the shopping catalog API (env: PRICEGUESSER_CATALOG_URL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PRICEGUESSER_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PRICEGUESSER_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PRICEGUESSER_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are closed (env: PRICEGUESSER_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PRICEGUESSER_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PRICEGUESSER_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PRICEGUESSER_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PRICEGUESSER_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("priceguesser v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
