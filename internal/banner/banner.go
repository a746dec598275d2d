// Package banner prints the daemon's startup header.
package banner

import (
	"fmt"

	"github.com/whiteout-project/wosbot/internal/health"
)

// Logo is the ASCII art logo for wosbot
const Logo = `
   ██╗    ██╗ ██████╗ ███████╗██████╗  ██████╗ ████████╗
   ██║    ██║██╔═══██╗██╔════╝██╔══██╗██╔═══██╗╚══██╔══╝
   ██║ █╗ ██║██║   ██║███████╗██████╔╝██║   ██║   ██║
   ██║███╗██║██║   ██║╚════██║██╔══██╗██║   ██║   ██║
   ╚███╔███╔╝╚██████╔╝███████║██████╔╝╚██████╔╝   ██║
    ╚══╝╚══╝  ╚═════╝ ╚══════╝╚═════╝  ╚═════╝    ╚═╝
`

// Tagline is the project tagline
const Tagline = "Whiteout Survival Alliance Bot"

// PrintWithVersion prints the banner with version info
func PrintWithVersion(version string) {
	fmt.Print(Logo)
	fmt.Printf("   %s\n", Tagline)
	fmt.Printf("   v%s\n\n", version)
}

// Startup prints the full startup banner with the health report: dependency
// state first, then the feature grid.
func Startup(version, gateway string, report *health.Report) {
	fmt.Print(Logo)
	fmt.Printf("   %s\n", Tagline)
	fmt.Println()
	fmt.Printf("   Version:  v%s\n", version)
	fmt.Printf("   Gateway:  %s\n", gateway)
	fmt.Println()

	for _, c := range report.Dependencies {
		fmt.Printf("   %s %-10s %s\n", c.Status.Symbol(), c.Name, c.Message)
		if c.Fix != "" {
			fmt.Printf("     fix: %s\n", c.Fix)
		}
	}
	fmt.Println()

	for _, f := range report.Features {
		name := f.Name
		if f.Note != "" {
			name += " (" + f.Note + ")"
		}
		fmt.Printf("   %s %s\n", f.Status.Symbol(), name)
	}
	fmt.Println()
}
