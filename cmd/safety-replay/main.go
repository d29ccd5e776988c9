// Command safety-replay runs recorded CAN traffic through the safety profile
// offline and reports what the gateway would have done with it.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
