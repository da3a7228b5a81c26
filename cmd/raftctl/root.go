package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "raftctl",
		Short: "Drive a demonstration Raft cluster built on the raft core",
	}
	root.AddCommand(newRunCommand())
	return root
}

// newRunCommand bootstraps an in-memory cluster, elects a leader,
// submits one command, and prints the resulting cluster status.
func newRunCommand() *cobra.Command {
	var servers int
	var command string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bootstrap a demo cluster and submit one command",
		RunE: func(cmd *cobra.Command, args []string) error {
			cluster, err := newDemoCluster(servers)
			if err != nil {
				return err
			}
			leader, err := cluster.runUntilLeader(50)
			if err != nil {
				return err
			}
			fmt.Printf("elected leader: server %d\n", leader)

			reqID, digest, err := cluster.submit(leader, command)
			if err != nil {
				return err
			}
			fmt.Printf("submitted %q as request %s (digest %x)\n", command, reqID, digest)

			for _, line := range cluster.status() {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&servers, "servers", 3, "number of voters in the demo cluster")
	cmd.Flags().StringVar(&command, "command", "noop", "command payload to submit to the leader")
	return cmd
}
