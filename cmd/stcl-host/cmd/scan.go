package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	startScanCmd.Flags().StringVar(&masterLabel, "master", "", "scanning node's label")
	_ = startScanCmd.MarkFlagRequired("master")
	RootCmd.AddCommand(startScanCmd)

	startLockCmd.Flags().StringVar(&masterLabel, "master", "", "scanning node's label whose cavity to lock")
	_ = startLockCmd.MarkFlagRequired("master")
	RootCmd.AddCommand(startLockCmd)

	closeCmd.Flags().StringVar(&masterLabel, "master", "", "scanning node's label whose cavity to shut down")
	_ = closeCmd.MarkFlagRequired("master")
	RootCmd.AddCommand(closeCmd)
}

var startScanCmd = &cobra.Command{
	Use:   "start-scan",
	Short: "start the piezo ramp and master PID loop on a scanning node",
	Run: func(cmd *cobra.Command, args []string) {
		c := newController()
		if err := c.StartScan(context.Background(), masterLabel); err != nil {
			log.Fatal(err)
		}
		log.WithField("master", masterLabel).Info("scan started")
	},
}

var startLockCmd = &cobra.Command{
	Use:   "start-lock",
	Short: "start the lock loop on every node in a cavity",
	Run: func(cmd *cobra.Command, args []string) {
		c := newController()
		if err := c.StartLock(context.Background(), masterLabel); err != nil {
			log.Fatal(err)
		}
		log.WithField("master", masterLabel).Info("lock started")
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "stop monitors, slaves, then the master, in that order",
	Run: func(cmd *cobra.Command, args []string) {
		c := newController()
		if err := c.Close(context.Background(), masterLabel); err != nil {
			log.Fatal(err)
		}
		log.WithField("master", masterLabel).Info("cavity closed")
	},
}
