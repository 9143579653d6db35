// Command coordinatorctl is a thin management-channel client: it sends
// one verb over the wire protocol and prints the raw decoded JSON
// response. It deliberately has no status-table rendering, column
// layout, or percentage formatting — callers that want a formatted view
// build it on top of the JSON this prints.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fghso/camps-dct/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:   "coordinatorctl",
		Short: "Send a management command to a running coordinator",
	}
	root.PersistentFlags().StringVar(&addr, "addr", envOrDefault("COORDINATORCTL_ADDR", "127.0.0.1:9090"), "Coordinator connection address")

	root.AddCommand(newStatusCmd(&addr))
	root.AddCommand(newRMClientsCmd(&addr))
	root.AddCommand(newResetCmd(&addr))
	root.AddCommand(newShutdownCmd(&addr))

	return root
}

func newStatusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Send GET_STATUS and print the raw response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(*addr, map[string]any{"command": "GET_STATUS"})
		},
	}
}

func newRMClientsCmd(addr *string) *cobra.Command {
	var names string
	cmd := &cobra.Command{
		Use:   "rm-clients",
		Short: "Send RM_CLIENTS with a comma-separated client name list (use \"all\" or \"disconnected\")",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(*addr, map[string]any{
				"command":     "RM_CLIENTS",
				"clientnames": strings.Split(names, ","),
			})
		},
	}
	cmd.Flags().StringVar(&names, "names", "all", "Comma-separated client names, or \"all\"/\"disconnected\"")
	return cmd
}

func newResetCmd(addr *string) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Send RESET for a given status (AVAILABLE, INPROGRESS, SUCCEEDED, FAILED, ERROR)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(*addr, map[string]any{"command": "RESET", "status": status})
		},
	}
	cmd.Flags().StringVar(&status, "status", "FAILED", "Resource status to reset back to AVAILABLE")
	return cmd
}

func newShutdownCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Send SHUTDOWN and wait for the coordinator to confirm teardown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(*addr, map[string]any{"command": "SHUTDOWN"})
		},
	}
}

func sendAndPrint(addr string, req map[string]any) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("coordinatorctl: dial %s: %w", addr, err)
	}
	defer conn.Close()

	codec := wire.New(conn)
	if err := codec.Send(map[string]any{"command": "CONNECT", "type": "manager", "processid": os.Getpid()}); err != nil {
		return fmt.Errorf("coordinatorctl: send CONNECT: %w", err)
	}

	var accepted map[string]any
	if err := codec.Receive(&accepted); err != nil {
		return fmt.Errorf("coordinatorctl: receive ACCEPTED: %w", err)
	}
	if accepted["command"] != "ACCEPTED" {
		return fmt.Errorf("coordinatorctl: connection refused: %v", accepted["reason"])
	}

	if err := codec.Send(req); err != nil {
		return fmt.Errorf("coordinatorctl: send %v: %w", req["command"], err)
	}

	var resp map[string]any
	if err := codec.Receive(&resp); err != nil {
		return fmt.Errorf("coordinatorctl: receive response: %w", err)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("coordinatorctl: encode response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
