package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/zannhost/skiplink"
	"github.com/zannhost/skiplink/protocol"
)

// errResolveFailed is returned after the failure document was printed
var errResolveFailed = errors.New("resolution failed")

func newResolveCmd(a *app) *cobra.Command {
	var siteKey string

	cmd := &cobra.Command{
		Use:   "resolve <short-link>",
		Short: "Resolve one short link and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := skiplink.NewFromConfig(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			link, err := client.Resolve(cmd.Context(), args[0], siteKey)
			if err != nil {
				if encErr := enc.Encode(protocol.Response{Error: protocol.NewErrorInfo(err)}); encErr != nil {
					return encErr
				}
				return errResolveFailed
			}
			return enc.Encode(protocol.Response{Status: true, Result: link})
		},
	}
	cmd.Flags().StringVar(&siteKey, "sitekey", "", "Turnstile site key (default from config)")
	cmd.Flags().Bool("lenient", false, "continue past missing intermediate tokens")
	return cmd
}
