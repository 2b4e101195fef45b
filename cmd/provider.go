package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccswitch/pkg/provider"
)

type providerOptions struct {
	*rootOptions
	app string
}

func (o *providerOptions) kind() (provider.AppKind, error) {
	return provider.ParseAppKind(o.app)
}

// withApp opens the app and resolves --app for a provider subcommand.
func (o *providerOptions) withApp(fn func(a *app, kind provider.AppKind) error) error {
	kind, err := o.kind()
	if err != nil {
		return err
	}
	a, err := openApp(o.settingsPath)
	if err != nil {
		return err
	}
	return fn(a, kind)
}

func newProviderCmd(root *rootOptions) *cobra.Command {
	opts := &providerOptions{rootOptions: root}
	providerCmd := &cobra.Command{
		Use:     "provider",
		Aliases: []string{"providers", "p"},
		Short:   "Manage API providers",
	}
	providerCmd.PersistentFlags().StringVar(&opts.app, "app", string(provider.AppClaude), "Client app (claude, codex)")

	providerCmd.AddCommand(
		newProviderListCmd(opts),
		newProviderAddCmd(opts),
		newProviderRemoveCmd(opts),
		newProviderUseCmd(opts),
		newProviderProxyCmd(opts),
		newProviderOrderCmd(opts),
		newProviderScriptCmd(opts),
	)
	return providerCmd
}

func newProviderListCmd(opts *providerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers in failover order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app, kind provider.AppKind) error {
				providers := a.providers.List(kind)
				if len(providers) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s providers.\n", kind)
					return nil
				}
				current := a.providers.Current(kind)
				t := table.New().
					Border(lipgloss.NormalBorder()).
					Headers("", "ID", "NAME", "PROXY", "ORDER", "USAGE SCRIPT")
				for _, p := range providers {
					marker := ""
					if p.ID == current {
						marker = "*"
					}
					order := "-"
					if p.SortIndex != nil {
						order = strconv.Itoa(*p.SortIndex)
					}
					script := "-"
					if us, ok := p.UsageScript(); ok && us.Enabled {
						script = "enabled"
					}
					t.Row(marker, p.ID, p.Name, onOff(p.ProxyEnabled), order, script)
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Render())
				return nil
			})
		},
	}
}

func newProviderAddCmd(opts *providerOptions) *cobra.Command {
	var (
		id, settings, settingsFile string
		website, category          string
		proxyEnabled               bool
		sortIndex                  int
	)
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a provider",
		Long: `Add a provider. Settings are the client's own config blob:
  claude: {"env":{"ANTHROPIC_AUTH_TOKEN":"...","ANTHROPIC_BASE_URL":"..."}}
  codex:  {"auth":{"OPENAI_API_KEY":"..."},"config":"base_url = \"...\"\n..."}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app, kind provider.AppKind) error {
				raw, err := readSettings(settings, settingsFile)
				if err != nil {
					return err
				}
				p := provider.Provider{
					ID:             id,
					Name:           args[0],
					SettingsConfig: raw,
					WebsiteURL:     website,
					Category:       category,
					ProxyEnabled:   proxyEnabled,
				}
				if cmd.Flags().Changed("sort-index") {
					p.SortIndex = &sortIndex
				}
				if _, err := provider.ExtractCredentials(p, kind); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
				added, err := a.providers.Add(kind, p)
				if err != nil {
					return err
				}
				if err := a.persist(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s provider %s (%s).\n", kind, added.Name, added.ID)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&id, "id", "", "Provider ID (default: generated)")
	addCmd.Flags().StringVar(&settings, "settings", "", "Settings JSON")
	addCmd.Flags().StringVar(&settingsFile, "settings-file", "", "Read settings JSON from file")
	addCmd.Flags().StringVar(&website, "website", "", "Provider website URL")
	addCmd.Flags().StringVar(&category, "category", "", "Provider category")
	addCmd.Flags().BoolVar(&proxyEnabled, "proxy", false, "Include in proxy failover")
	addCmd.Flags().IntVar(&sortIndex, "sort-index", 0, "Failover order (lower first)")
	addCmd.MarkFlagsMutuallyExclusive("settings", "settings-file")
	return addCmd
}

func readSettings(inline, path string) (json.RawMessage, error) {
	raw := []byte(inline)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, errors.New("provider settings are required (--settings or --settings-file)")
	}
	if !json.Valid(raw) {
		return nil, errors.New("provider settings are not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func newProviderRemoveCmd(opts *providerOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a provider",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app, kind provider.AppKind) error {
				if err := a.providers.Remove(kind, args[0]); err != nil {
					return err
				}
				if err := a.persist(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", args[0])
				return nil
			})
		},
	}
}

func newProviderUseCmd(opts *providerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Select the provider the client uses in direct mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app, kind provider.AppKind) error {
				if err := a.switcher(nil).SwitchProvider(kind, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Now using %s for %s.\n", args[0], kind)
				return nil
			})
		},
	}
}

func newProviderProxyCmd(opts *providerOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "proxy <id> <on|off>",
		Short:     "Include or exclude a provider from proxy failover",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			return opts.withApp(func(a *app, kind provider.AppKind) error {
				if err := a.providers.SetProxyEnabled(kind, args[0], enabled); err != nil {
					return err
				}
				if err := a.persist(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Proxy %s for %s.\n", onOff(enabled), args[0])
				return nil
			})
		},
	}
}

func newProviderOrderCmd(opts *providerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order <id> <index|none>",
		Short: "Set a provider's failover position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var idx *int
			if !strings.EqualFold(args[1], "none") {
				v, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid index %q", args[1])
				}
				idx = &v
			}
			return opts.withApp(func(a *app, kind provider.AppKind) error {
				if err := a.providers.SetSortIndex(kind, args[0], idx); err != nil {
					return err
				}
				if err := a.persist(); err != nil {
					return err
				}
				if idx == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared order for %s.\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Order for %s set to %d.\n", args[0], *idx)
				}
				return nil
			})
		},
	}
}

func newProviderScriptCmd(opts *providerOptions) *cobra.Command {
	var (
		file    string
		timeout int
		disable bool
	)
	scriptCmd := &cobra.Command{
		Use:   "script <id>",
		Short: "Attach a JavaScript usage-query script to a provider",
		Long: `Attach a usage-query script. The script evaluates to an object with a
"request" ({url, method, headers, body}) and an "extractor(response)"
function. {{apiKey}} and {{baseUrl}} are replaced with the provider's
credentials before evaluation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app, kind provider.AppKind) error {
				p, ok := a.providers.Get(kind, args[0])
				if !ok {
					return fmt.Errorf("%w: %s", provider.ErrProviderNotFound, args[0])
				}
				script := &provider.UsageScript{Language: "javascript"}
				if us, ok := p.UsageScript(); ok {
					script = us
				}
				if file != "" {
					b, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					script.Code = string(b)
				}
				if strings.TrimSpace(script.Code) == "" {
					return errors.New("no script code; pass --file")
				}
				if cmd.Flags().Changed("timeout") {
					script.Timeout = &timeout
				}
				script.Enabled = !disable
				if err := a.providers.SetUsageScript(kind, args[0], script); err != nil {
					return err
				}
				if err := a.persist(); err != nil {
					return err
				}
				state := "enabled"
				if !script.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Usage script %s for %s.\n", state, args[0])
				return nil
			})
		},
	}
	scriptCmd.Flags().StringVar(&file, "file", "", "Script file")
	scriptCmd.Flags().IntVar(&timeout, "timeout", 0, "Timeout in seconds (default: usage_timeout_seconds)")
	scriptCmd.Flags().BoolVar(&disable, "disable", false, "Keep the script but disable it")
	return scriptCmd
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
