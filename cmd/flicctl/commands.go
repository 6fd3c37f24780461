package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"openfms/flic/internal/client"
	"openfms/flic/internal/config"
	"openfms/flic/internal/middleware"
	"openfms/flic/internal/protocol"
)

func parseAddrs(args []string) ([]protocol.BdAddr, error) {
	addrs := make([]protocol.BdAddr, 0, len(args))
	for _, arg := range args {
		addr, err := protocol.ParseBdAddr(arg)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the daemon's controller state and verified buttons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
			defer cancel()
			info, err := s.GetInfoContext(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Controller state\t%s\n", info.BluetoothControllerState)
			fmt.Fprintf(tw, "Address\t%s (%s)\n", info.MyBdAddr, info.MyBdAddrType)
			fmt.Fprintf(tw, "Pending connections\t%d / %d\n", info.CurrentPendingConnections, info.MaxPendingConnections)
			fmt.Fprintf(tw, "Max connected buttons\t%d\n", info.MaxConcurrentlyConnectedButtons)
			fmt.Fprintf(tw, "No space for connection\t%v\n", info.CurrentlyNoSpaceForConnection)
			fmt.Fprintf(tw, "Verified buttons\t%d\n", len(info.VerifiedButtons))
			for _, addr := range info.VerifiedButtons {
				fmt.Fprintf(tw, "\t%s\n", addr)
			}
			return tw.Flush()
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Print button advertisements until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}

			scanner := client.NewButtonScanner(func(_ *client.ButtonScanner, adv client.Advertisement) {
				var flags []string
				if adv.IsPrivate {
					flags = append(flags, "private")
				}
				if adv.AlreadyVerified {
					flags = append(flags, "verified")
				}
				if adv.AlreadyConnectedToThisDevice {
					flags = append(flags, "connected-here")
				}
				if adv.AlreadyConnectedToOtherDevice {
					flags = append(flags, "connected-elsewhere")
				}
				fmt.Printf("%s %s %-10s rssi=%d %s\n", stamp(), adv.BdAddr, adv.Name, adv.RSSI, strings.Join(flags, ","))
			})
			if err := s.AddScanner(scanner); err != nil {
				s.Close()
				return err
			}
			fmt.Fprintln(os.Stderr, "Scanning, press Ctrl-C to stop")
			return s.wait(cmd.Context())
		},
	}
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Find, connect and verify a new button",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			finished := make(chan client.WizardCompleted, 1)
			wizard := client.NewScanWizard(func(_ *client.ScanWizard, ev client.WizardEvent) {
				switch e := ev.(type) {
				case client.WizardFoundPrivate:
					fmt.Println("Found a private button. Hold it down for 7 seconds to make it public.")
				case client.WizardFoundPublic:
					fmt.Printf("Found public button %s (%s), connecting...\n", e.BdAddr, e.Name)
				case client.WizardButtonConnected:
					fmt.Printf("Connected to %s, verifying...\n", e.BdAddr)
				case client.WizardCompleted:
					finished <- e
				}
			})
			if err := s.AddScanWizard(wizard); err != nil {
				return err
			}
			fmt.Println("Press and hold the button you want to add")

			var result client.WizardCompleted
			select {
			case result = <-finished:
			case err := <-s.done:
				return err
			case <-cmd.Context().Done():
				if err := s.CancelScanWizard(wizard); err != nil {
					return err
				}
				select {
				case result = <-finished:
				case err := <-s.done:
					return err
				}
			}

			if result.Result != protocol.WizardSuccess {
				return fmt.Errorf("wizard ended: %s", result.Result)
			}
			fmt.Printf("Added button %s (%s)\n", result.BdAddr, result.Name)
			return nil
		},
	}
}

func listenCmd() *cobra.Command {
	var latency string
	var autoDisconnect int
	cmd := &cobra.Command{
		Use:   "listen <addr>...",
		Short: "Open connection channels and print button events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddrs(args)
			if err != nil {
				return err
			}
			mode, err := protocol.ParseLatencyMode(latency)
			if err != nil {
				return err
			}

			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}

			handler := func(ch *client.ConnectionChannel, ev client.ChannelEvent) {
				switch e := ev.(type) {
				case client.ChannelCreated:
					if e.Error != protocol.NoError {
						fmt.Printf("%s %s rejected: %s\n", stamp(), ch.BdAddr(), e.Error)
						return
					}
					fmt.Printf("%s %s channel open, %s\n", stamp(), ch.BdAddr(), e.Status)
				case client.ChannelStatusChanged:
					fmt.Printf("%s %s %s %s\n", stamp(), ch.BdAddr(), e.Status, e.Reason)
				case client.ChannelRemoved:
					fmt.Printf("%s %s channel removed: %s\n", stamp(), ch.BdAddr(), e.Reason)
				case client.ButtonPressed:
					queued := ""
					if e.WasQueued {
						queued = fmt.Sprintf(" (queued %ds ago)", e.TimeDiff)
					}
					fmt.Printf("%s %s %s %s%s\n", stamp(), ch.BdAddr(), e.Kind, e.ClickType, queued)
				}
			}
			for _, addr := range addrs {
				ch := client.NewConnectionChannel(addr, handler)
				if err := ch.SetLatencyMode(mode); err != nil {
					s.Close()
					return err
				}
				if err := ch.SetAutoDisconnectTime(int16(autoDisconnect)); err != nil {
					s.Close()
					return err
				}
				if err := s.AddConnectionChannel(ch); err != nil {
					s.Close()
					return err
				}
			}
			return s.wait(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&latency, "latency", "normal", "latency mode: normal, low or high")
	cmd.Flags().IntVar(&autoDisconnect, "auto-disconnect", protocol.MaxAutoDisconnectTime, "seconds of inactivity before disconnect, 512 disables")
	return cmd
}

func buttonInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "button-info <addr>",
		Short: "Show what the daemon knows about a button",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := protocol.ParseBdAddr(args[0])
			if err != nil {
				return err
			}
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
			defer cancel()
			info, err := s.GetButtonInfoContext(ctx, addr)
			if err != nil {
				return err
			}
			if !info.Known() {
				fmt.Printf("%s is not verified\n", addr)
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Address\t%s\n", info.BdAddr)
			fmt.Fprintf(tw, "UUID\t%s\n", info.UUID)
			fmt.Fprintf(tw, "Color\t%s\n", info.Color)
			fmt.Fprintf(tw, "Serial\t%s\n", info.SerialNumber)
			return tw.Flush()
		},
	}
}

// oneShotCmd sends one command per address and waits for the daemon to
// process them.
func oneShotCmd(use, short, done string, send func(c *client.Client, addr protocol.BdAddr) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddrs(args)
			if err != nil {
				return err
			}
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			for _, addr := range addrs {
				if err := send(s.Client, addr); err != nil {
					return err
				}
			}
			if err := s.flush(cmd.Context()); err != nil {
				return err
			}
			for _, addr := range addrs {
				fmt.Printf("%s %s\n", addr, done)
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return oneShotCmd("delete <addr>...", "Remove buttons from the daemon's database", "deleted",
		func(c *client.Client, addr protocol.BdAddr) error { return c.DeleteButton(addr) })
}

func forceDisconnectCmd() *cobra.Command {
	return oneShotCmd("force-disconnect <addr>...", "Disconnect buttons and drop every client's channel to them", "disconnected",
		func(c *client.Client, addr protocol.BdAddr) error { return c.ForceDisconnect(addr) })
}

func batteryCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "battery <addr>...",
		Short: "Print battery levels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddrs(args)
			if err != nil {
				return err
			}
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}

			var mu sync.Mutex
			pending := make(map[protocol.BdAddr]bool, len(addrs))
			for _, addr := range addrs {
				pending[addr] = true
			}
			handler := func(l *client.BatteryStatusListener, st client.BatteryStatus) {
				level := "unknown"
				if st.Percentage >= 0 {
					level = fmt.Sprintf("%d%%", st.Percentage)
				}
				fmt.Printf("%s %s battery %s (updated %s)\n", stamp(), l.BdAddr(), level, st.UpdatedAt.Format(time.RFC3339))

				mu.Lock()
				delete(pending, l.BdAddr())
				last := len(pending) == 0
				mu.Unlock()
				if last && !follow {
					s.Close()
				}
			}
			for _, addr := range addrs {
				if err := s.AddBatteryStatusListener(client.NewBatteryStatusListener(addr, handler)); err != nil {
					s.Close()
					return err
				}
			}
			return s.wait(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing updates")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.GenerateToken(config.Load().JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
