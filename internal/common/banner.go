package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner to stderr.
func PrintBanner(config *Config, logger *Logger) {
	version := GetVersion()
	build := GetBuild()
	commit := GetGitCommit()

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 70
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		` 888    888 8888888888        d8888 8888888b. 88888888888 888    888`,
		` 888    888 888              d88888 888   Y88b    888     888    888`,
		` 888    888 888             d88P888 888    888    888     888    888`,
		` 8888888888 8888888        d88P 888 888   d88P    888     8888888888`,
		` 888    888 888           d88P  888 8888888P'     888     888    888`,
		` 888    888 888          d88P   888 888 T88b      888     888    888`,
		` 888    888 888         d8888888888 888  T88b     888     888    888`,
		` 888    888 8888888888 d88P     888 888   T88b    888     888    888`,
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Version: %s (build %s, commit %s)\n", version, build, commit)
	fmt.Fprintf(os.Stderr, "  Storage: %s\n", config.Storage.Path)
	fmt.Fprintf(os.Stderr, "  Log level: %s\n", config.Logging.Level)
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	logger.Debug().Str("version", version).Msg("Banner printed")
}
