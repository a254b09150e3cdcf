// Command quotactl inspects and meters account quotas against the same
// stores the server uses.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(appFromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}
