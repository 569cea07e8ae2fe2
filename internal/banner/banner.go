// Package banner prints the startup banner.
package banner

import (
	"fmt"
	"io"
)

const Version = "1.0.0"

// Print writes the banner and version to w.
func Print(w io.Writer) {
	banner := `
   ______                     __      __
  / ____/___  _____________  / /___ _/ /_____  _____
 / /   / __ \/ ___/ ___/ _ \/ / __ '/ __/ __ \/ ___/
/ /___/ /_/ / /  / /  /  __/ / /_/ / /_/ /_/ / /
\____/\____/_/  /_/   \___/_/\__,_/\__/\____/_/
                  v%s - Event Correlator
    `
	fmt.Fprintf(w, banner, Version)
	fmt.Fprintln(w, "\n------------------------------------------------")
}
