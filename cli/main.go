// Command recordkit inspects and edits the databases configured in
// recordkit.yaml.
package main

import (
	"os"

	"github.com/satishbabariya/recordkit/cli/commands"
	"github.com/satishbabariya/recordkit/cli/internal/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		ui.PrintError("%v", err)
		os.Exit(1)
	}
}
