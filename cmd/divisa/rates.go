package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"divisa/internal/coordinator"
	"divisa/internal/domain/model"
	"divisa/internal/service"
	"divisa/pkg/utils"
)

// errReported marks an error that was already written to the output.
var errReported = errors.New("reported")

func newRatesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rates",
		Short: "Show every current rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.api().GetAllRates(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			coordinator.NewTerminalUI(cmd.OutOrStdout(), nil, opts.log).RenderRates(resp)
			return nil
		},
	}
}

func newRateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate CODE",
		Short: "Show the rate of one currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			warnUnpublished(cmd.ErrOrStderr(), args[0])
			resp, err := opts.api().GetCurrencyRate(cmd.Context(), model.Currency(args[0]))
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "1 %s = %s %s (published %s, updated %s)\n",
				resp.Currency,
				color.New(color.Bold).Sprintf("%.4f", resp.Rate),
				model.LocalCurrency,
				resp.DatePublished,
				utils.FormatTimestamp(resp.LastUpdated),
			)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the rates API system status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.api().GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "System: %s\n", resp.SystemStatus)
			fmt.Fprintf(out, "Rates available: %d\n", resp.RatesAvailable)
			fmt.Fprintf(out, "Last update: %s\n", utils.FormatTimestamp(resp.LastUpdate))
			for _, u := range resp.RecentUpdates {
				fmt.Fprintf(out, "  %s  %-8s %s\n", utils.FormatTimestamp(u.CreatedAt), u.Status, u.Message)
			}
			return nil
		},
	}
}

func newUpdateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Force the rates API to refresh from its source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.api().ForceUpdate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the rates API health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.api().Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newConvertCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "convert AMOUNT FROM TO",
		Short: "Convert an amount between VES and a foreign currency",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				_ = printJSON(out, model.NewErrorResult(service.ErrInvalidAmount))
				return errReported
			}

			warnUnpublished(cmd.ErrOrStderr(), args[1], args[2])
			converter := service.NewConverterService(opts.api(), model.Currency(opts.cfg.API.LocalCurrency), opts.log, nil)
			result, err := converter.Convert(cmd.Context(), amount, model.Currency(args[1]), model.Currency(args[2]))
			if err != nil {
				_ = printJSON(out, model.NewErrorResult(err))
				return errReported
			}

			if opts.json {
				return printJSON(out, result)
			}
			fmt.Fprintf(out, "%s %s = %s %s (rate %.4f)\n",
				strconv.FormatFloat(result.OriginalAmount, 'f', -1, 64), result.FromCurrency,
				color.New(color.FgGreen, color.Bold).Sprintf("%.2f", result.ConvertedAmount), result.ToCurrency,
				result.ExchangeRate,
			)
			return nil
		},
	}
}
