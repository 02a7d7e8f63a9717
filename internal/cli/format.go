package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/botdeployer/deployer/internal/deploy"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	pendingColor = color.New(color.FgYellow)
	headingColor = color.New(color.FgHiWhite, color.Bold)
	logColor     = color.New(color.FgHiBlack)
)

func statusText(s deploy.Status) string {
	switch s {
	case deploy.StatusRunning:
		return successColor.Sprint(s)
	case deploy.StatusFailed:
		return failureColor.Sprint(s)
	default:
		return pendingColor.Sprint(s)
	}
}

func printLine(out io.Writer, line string) {
	fmt.Fprintln(out, logColor.Sprint(line))
}

func printSummary(out io.Writer, d *deploy.Deployment) {
	fmt.Fprintf(out, "%s %s\n", headingColor.Sprint("Deployment"), d.ID)
	fmt.Fprintf(out, "  bot:     %s\n", d.BotID)
	fmt.Fprintf(out, "  status:  %s\n", statusText(d.Status))
	fmt.Fprintf(out, "  created: %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  updated: %s\n", d.UpdatedAt.Format("2006-01-02 15:04:05"))
}
