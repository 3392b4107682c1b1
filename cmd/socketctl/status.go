package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kleeedolinux/socketlink/socket"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect once and report the connection status",
	Long:  "Resolve the client configuration, connect to the relay and print the resulting status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		sc, err := clientConfig(cfg)
		if err != nil {
			return err
		}
		sc.Options.Reconnection = false

		svc := newService(sc)
		defer svc.Destroy()

		ctx, cancel := context.WithTimeout(context.Background(), sc.Options.Timeout+time.Second)
		defer cancel()

		connectErr := svc.Connect(ctx)
		st := svc.Status()

		if statusJSON {
			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return fmt.Errorf("cannot marshal status: %w", err)
			}
			fmt.Println(string(data))
		} else {
			fmt.Println("Configuration:")
			fmt.Printf("  URL:       %s\n", sc.URL)
			fmt.Printf("  Timeout:   %s\n", sc.Options.Timeout)
			fmt.Println()
			printStatus(st)
		}

		if connectErr != nil {
			return fmt.Errorf("connect failed (%s): %w", socket.KindOf(connectErr), connectErr)
		}
		return nil
	},
}

func printStatus(st socket.Status) {
	fmt.Println("Status:")
	fmt.Printf("  Phase:     %s\n", st.Phase())
	if st.Error != "" {
		fmt.Printf("  Error:     %s\n", st.Error)
	}
	fmt.Printf("  Attempts:  %d\n", st.ReconnectAttempts)
	if !st.LastConnected.IsZero() {
		fmt.Printf("  Connected: %s\n", st.LastConnected.Format(time.RFC3339))
	}
	if !st.LastDisconnected.IsZero() {
		fmt.Printf("  Dropped:   %s\n", st.LastDisconnected.Format(time.RFC3339))
	}
}
