// Command raftctl is a demonstration operator CLI built around the raft
// core: it boots an in-memory cluster, submits commands against it, and
// reports cluster status, the way a thin operator tool would sit in
// front of a production deployment of the library.
package main

import (
	"fmt"
	"os"

	"github.com/pingcap/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error(err.Error())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
