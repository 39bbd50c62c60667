package cmd

import (
	"fmt"

	"github.com/fatih/color"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
)

// formatScoreWithColor renders a permission score in green, yellow, or red
// relative to the policy ceiling.
func formatScoreWithColor(score, ceiling float64) string {
	text := fmt.Sprintf("%.2f / %.1f", score, ceiling)
	switch {
	case score >= ceiling*0.7:
		return colorError(text)
	case score >= ceiling*0.35:
		return colorWarn(text)
	default:
		return colorSuccess(text)
	}
}
