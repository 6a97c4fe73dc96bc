// Command billingctl is the operator tool for the billing service. It talks
// to the ledger and the gateway directly, not through the HTTP API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
