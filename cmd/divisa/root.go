package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"divisa/internal/adapter/repository"
	"divisa/internal/config"
	"divisa/internal/domain/model"
	"divisa/internal/domain/ports"
	"divisa/pkg/logger"
)

type rootOptions struct {
	apiURL   string
	shellURL string
	logLevel string
	envFile  string
	json     bool

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "divisa",
		Short:         "Official VES exchange rates from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api-url", "", "rates API base URL (default from DIVISA_API_BASE_URL)")
	flags.StringVar(&opts.shellURL, "shell-url", "", "shell server URL (default http://localhost:<DIVISA_SERVER_PORT>)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.envFile, "env-file", "", "path to a .env file")
	flags.BoolVar(&opts.json, "json", false, "print raw JSON")

	cmd.AddCommand(
		newRatesCmd(opts),
		newRateCmd(opts),
		newStatusCmd(opts),
		newUpdateCmd(opts),
		newHealthCmd(opts),
		newConvertCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(o.envFile)
	if err != nil {
		return err
	}
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.shellURL == "" {
		o.shellURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	o.cfg = cfg
	o.log = logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return nil
}

func (o *rootOptions) api() ports.RatesAPI {
	return repository.NewRatesAPI(o.cfg.API.BaseURL, o.cfg.API.Timeout, o.log)
}

// warnUnpublished flags foreign codes the rates API does not publish; the
// request still goes out so the API has the final word.
func warnUnpublished(w io.Writer, codes ...string) {
	for _, code := range codes {
		c := model.NormalizeCurrency(code)
		if c == model.LocalCurrency || !c.IsValid() || c.IsSupported() {
			continue
		}
		fmt.Fprintf(w, "warning: %s is not published by the rates API (published: %s)\n", c, supportedList())
	}
}

func supportedList() string {
	codes := make([]string, len(model.SupportedCurrencies))
	for i, c := range model.SupportedCurrencies {
		codes[i] = c.String()
	}
	return strings.Join(codes, ", ")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
