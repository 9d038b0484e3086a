// Command domainscan checks domain feeds for look-alikes of watched terms.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
