// Command gamenetd runs a gamenet server or client with a small chat demo,
// pings servers and manages the server ban list.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
