// Command boothctl drives one side of a booth session from a terminal.
package main

import (
	"log"
)

func main() {
	if err := Execute(); err != nil {
		log.Fatal(err)
	}
}
