// SPDX-License-Identifier: Apache-2.0
//
// Zipbridge - gateway and tooling for the Zip robot serial link.

package main

import (
	"os"

	"github.com/steffenpharai/zipbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
