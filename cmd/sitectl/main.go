// Command sitectl is the operator tool for the sitedeploy API.
package main

import (
	"fmt"
	"os"
)

var buildVersion = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
