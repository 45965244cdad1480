// Package banner prints the CLI startup banner.
package banner

import "fmt"

// Logo is the ASCII art logo for Autopilot
const Logo = `
   █████╗ ██╗   ██╗████████╗ ██████╗ ██████╗ ██╗██╗      ██████╗ ████████╗
  ██╔══██╗██║   ██║╚══██╔══╝██╔═══██╗██╔══██╗██║██║     ██╔═══██╗╚══██╔══╝
  ███████║██║   ██║   ██║   ██║   ██║██████╔╝██║██║     ██║   ██║   ██║
  ██╔══██║██║   ██║   ██║   ██║   ██║██╔═══╝ ██║██║     ██║   ██║   ██║
  ██║  ██║╚██████╔╝   ██║   ╚██████╔╝██║     ██║███████╗╚██████╔╝   ██║
  ╚═╝  ╚═╝ ╚═════╝    ╚═╝    ╚═════╝ ╚═╝     ╚═╝╚══════╝ ╚═════╝    ╚═╝
`

// Tagline is the project tagline
const Tagline = "Missions That Run Themselves"

// Print prints the banner with tagline
func Print() {
	fmt.Print(Logo)
	fmt.Printf("  %s\n\n", Tagline)
}

// StartupBanner prints the full startup banner
func StartupBanner(version, gateway string) {
	fmt.Print(Logo)
	fmt.Printf("  %s\n", Tagline)
	fmt.Println()
	fmt.Printf("  Version:  v%s\n", version)
	fmt.Printf("  Gateway:  %s\n", gateway)
	fmt.Println()
}
