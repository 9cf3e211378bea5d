package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zannhost/skiplink/fingerprint"
)

func newPresetsCmd() *cobra.Command {
	var http2 bool
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List fingerprint presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range fingerprint.Available() {
				p := fingerprint.Get(name)
				marker := " "
				if name == fingerprint.DefaultPreset {
					marker = "*"
				}
				if http2 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %s\n", marker, name, p.Akamai())
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %s\n", marker, name, p.UserAgent)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&http2, "http2", false, "print the Akamai HTTP/2 fingerprint instead of the user agent")
	return cmd
}
