package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	acquireCh    int
	acquireCount int
)

func init() {
	acquireCmd.Flags().StringVar(&nodeLabel, "node", "", "node label to acquire from")
	_ = acquireCmd.MarkFlagRequired("node")
	RootCmd.AddCommand(acquireCmd)

	acquireChNCmd.Flags().StringVar(&nodeLabel, "node", "", "node label to acquire from")
	acquireChNCmd.Flags().IntVar(&acquireCh, "ch", 0, "channel to acquire")
	acquireChNCmd.Flags().IntVar(&acquireCount, "n", 1, "number of traces to acquire")
	_ = acquireChNCmd.MarkFlagRequired("node")
	RootCmd.AddCommand(acquireChNCmd)

	showCurrentCmd.Flags().StringVar(&nodeLabel, "node", "", "node label to report settings for")
	_ = showCurrentCmd.MarkFlagRequired("node")
	RootCmd.AddCommand(showCurrentCmd)
}

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "acquire one two-channel trace from a node",
	Run: func(cmd *cobra.Command, args []string) {
		c := newController()
		v, err := c.Acquire(context.Background(), nodeLabel)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(v)
	},
}

var acquireChNCmd = &cobra.Command{
	Use:   "acquire-ch-n",
	Short: "acquire n traces on one channel, chunked across the wire's per-batch limit",
	Run: func(cmd *cobra.Command, args []string) {
		c := newController()
		traces, err := c.AcquireChN(context.Background(), nodeLabel, acquireCh, acquireCount)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(traces)
	},
}

var showCurrentCmd = &cobra.Command{
	Use:   "show-current",
	Short: "print a node's persisted settings",
	Run: func(cmd *cobra.Command, args []string) {
		c := newController()
		ns, err := c.ShowCurrent(nodeLabel)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(ns)
	},
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(b))
}
