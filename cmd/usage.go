package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccswitch/pkg/provider"
	"github.com/lkarlslund/ccswitch/pkg/usage"
)

func newUsageCmd(root *rootOptions) *cobra.Command {
	opts := &providerOptions{rootOptions: root}
	var force bool
	usageCmd := &cobra.Command{
		Use:   "usage <provider-id>",
		Short: "Run a provider's usage-query script and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app, kind provider.AppKind) error {
				res := usage.NewService(a.providers, a.settings).WithStore(a.store).Query(cmd.Context(), kind, args[0], force)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
				if !res.Success {
					return errors.New(res.Error)
				}
				return nil
			})
		},
	}
	usageCmd.Flags().StringVar(&opts.app, "app", string(provider.AppClaude), "Client app (claude, codex)")
	usageCmd.Flags().BoolVar(&force, "force", false, "Ignore a result cached in the last few seconds")
	return usageCmd
}
