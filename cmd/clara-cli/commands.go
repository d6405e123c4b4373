package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type statusReply struct {
	Running         bool   `json:"running"`
	Services        int    `json:"services"`
	EventsProcessed uint64 `json:"events_processed"`
	ThreatsToday    int    `json:"threats_today"`
	TrackersBlocked int    `json:"trackers_blocked"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

type serviceReply struct {
	Name   string `json:"name"`
	Status int    `json:"status"`
	PID    int    `json:"pid"`
}

type successReply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type trustReply struct {
	Package string `json:"package"`
	Score   int    `json:"score"`
	Status  string `json:"status"`
	Source  string `json:"source"`
}

var serviceStatusNames = []string{"unknown", "starting", "running", "stopping", "stopped", "error"}

func serviceStatusName(n int) string {
	if n < 0 || n >= len(serviceStatusNames) {
		return "invalid"
	}
	return serviceStatusNames[n]
}

// printFramed renders title and body inside the same box-drawing
// frame original_source's printStatus/printServices use.
func printFramed(title, body string) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════╗")
	fmt.Printf("║ %-50s ║\n", title)
	fmt.Println("╠══════════════════════════════════════════════════╣")
	fmt.Println(body)
	fmt.Println("╚══════════════════════════════════════════════════╝")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show overall daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := sendCommand("status")
		if err != nil {
			return err
		}
		if outputJSON {
			fmt.Print(raw)
			return nil
		}

		var resp statusReply
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return fmt.Errorf("parse status response: %w", err)
		}
		body := fmt.Sprintf(
			"  Running:          %v\n  Services:         %d\n  Events processed: %d\n  Threats today:    %d\n  Trackers blocked: %d\n  Uptime:           %ds",
			resp.Running, resp.Services, resp.EventsProcessed, resp.ThreatsToday, resp.TrackersBlocked, resp.UptimeSeconds)
		printFramed("CLARA Security - Status", body)
		return nil
	},
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List supervised services",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := sendCommand("services")
		if err != nil {
			return err
		}
		if outputJSON {
			fmt.Print(raw)
			return nil
		}

		var resp []serviceReply
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return fmt.Errorf("parse services response: %w", err)
		}
		var lines []string
		for _, s := range resp {
			lines = append(lines, fmt.Sprintf("  %-16s %-10s pid=%d", s.Name, serviceStatusName(s.Status), s.PID))
		}
		printFramed("CLARA Security - Services", strings.Join(lines, "\n"))
		return nil
	},
}

func printSuccessReply(raw string) error {
	if outputJSON {
		fmt.Print(raw)
		return nil
	}
	var resp successReply
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	} else {
		fmt.Println("ok")
	}
	return nil
}

func serviceLifecycleCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <service>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := sendCommand(verb + " " + args[0])
			if err != nil {
				return err
			}
			return printSuccessReply(raw)
		},
	}
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Trigger a manual full scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("starting scan...")
		raw, err := sendCommand("scan")
		if err != nil {
			return err
		}
		return printSuccessReply(raw)
	},
}

func appCommand(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <package>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := sendCommand(verb + " " + args[0])
			if err != nil {
				return err
			}
			return printSuccessReply(raw)
		},
	}
}

var trustCmd = &cobra.Command{
	Use:   "trust <package>",
	Short: "Show the trust score and status of an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := sendCommand("trust " + args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			fmt.Print(raw)
			return nil
		}
		var resp trustReply
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return fmt.Errorf("parse trust response: %w", err)
		}
		fmt.Printf("%s  score=%d  status=%s  source=%s\n", resp.Package, resp.Score, resp.Status, resp.Source)
		return nil
	},
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist <package> <on|off>",
	Short: "Toggle whitelist immunity for an app",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := sendCommand("whitelist " + args[0] + " " + args[1])
		if err != nil {
			return err
		}
		return printSuccessReply(raw)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(serviceLifecycleCmd("start", "Start a service"))
	rootCmd.AddCommand(serviceLifecycleCmd("stop", "Stop a service"))
	rootCmd.AddCommand(serviceLifecycleCmd("restart", "Restart a service"))
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(appCommand("lock", "Lock an app behind the app-lock PIN"))
	rootCmd.AddCommand(appCommand("unlock", "Remove an app's lock"))
	rootCmd.AddCommand(appCommand("hide", "Hide root from an app"))
	rootCmd.AddCommand(appCommand("unhide", "Stop hiding root from an app"))
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(whitelistCmd)
}
