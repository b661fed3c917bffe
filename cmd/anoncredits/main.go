// Command anoncredits runs the anonymous identity and credits service.
package main

import "github.com/tutu-network/anoncredits/internal/cli"

func main() {
	cli.Execute()
}
