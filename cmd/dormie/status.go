package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check portal connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := log.New(io.Discard, "", 0)
		if statusVerbose {
			logger = log.New(cmd.ErrOrStderr(), "dormie: ", log.LstdFlags)
		}

		sess, err := buildSession(cfg, logger)
		if err != nil {
			return err
		}
		defer sess.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		convs, err := sess.API.Conversations(ctx)
		if err != nil {
			return fmt.Errorf("REST API unreachable: %w", err)
		}
		fmt.Printf("REST API:  ok (%d conversations)\n", len(convs))

		if err := sess.Start(ctx); err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}

		start := time.Now()
		if err := sess.Realtime.Ping(ctx); err != nil {
			return fmt.Errorf("realtime ping failed: %w", err)
		}
		fmt.Printf("realtime:  ok (socket %s, rtt %s)\n",
			sess.Realtime.SocketID(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "log connection details to stderr")
	rootCmd.AddCommand(statusCmd)
}
