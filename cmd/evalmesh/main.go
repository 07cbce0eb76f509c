// Command evalmesh runs translation tasks against the model catalog and
// stores one message_log.json transcript per run.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
