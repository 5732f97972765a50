package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/mediasync/internal/notify"
	"github.com/user/mediasync/internal/types"
)

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyConfigCmd, notifySetCmd)
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Configure how events are presented",
}

var notifyConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show notification settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			cfg := a.bus.Config()
			fmt.Printf("enabled  = %t\n", cfg.Enabled)
			fmt.Printf("%-8s = %t\n", notify.ChannelSound, cfg.SoundEnabled)
			fmt.Printf("%-8s = %t\n", notify.ChannelToast, cfg.ShowToast)
			fmt.Printf("%-8s = %t\n", notify.ChannelDesktop, cfg.BrowserNotifications)
			fmt.Printf("%-8s = %t\n", notify.ChannelTelegram, cfg.PushEnabled)

			keys := make([]string, 0, len(cfg.EventFilters))
			for t := range cfg.EventFilters {
				keys = append(keys, string(t))
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("filter.%s = %t\n", k, cfg.EventFilters[types.EventType(k)])
			}
			return nil
		})
	},
}

var notifySetCmd = &cobra.Command{
	Use:   "set <key> <true|false>",
	Short: "Change a notification switch",
	Long: "Change a notification switch. Keys: enabled, sound, toast, desktop, telegram, " +
		"or filter.<event-type> to silence or restore one event type.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("invalid value %q: want true or false", args[1])
		}
		return withApp(func(a *app) error {
			cfg := a.bus.Config()
			if err := applySwitch(&cfg, args[0], on); err != nil {
				return err
			}
			if err := a.bus.UpdateConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Set %s = %t\n", args[0], on)
			return nil
		})
	},
}

func applySwitch(cfg *notify.Config, key string, on bool) error {
	switch key {
	case "enabled":
		cfg.Enabled = on
	case notify.ChannelSound:
		cfg.SoundEnabled = on
	case notify.ChannelToast:
		cfg.ShowToast = on
	case notify.ChannelDesktop:
		cfg.BrowserNotifications = on
	case notify.ChannelTelegram:
		cfg.PushEnabled = on
	default:
		name, ok := strings.CutPrefix(key, "filter.")
		if !ok {
			return fmt.Errorf("unknown notification key: %s", key)
		}
		t := types.EventType(name)
		if !t.Valid() {
			return fmt.Errorf("%w: %s", notify.ErrUnknownEventType, name)
		}
		cfg.EventFilters[t] = on
	}
	return nil
}
