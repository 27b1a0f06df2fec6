package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mohans/labelx/labelx"
)

var statusCmd = &cobra.Command{
	Use:   "status [task_id]",
	Short: "Show both stage statuses of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClientFromConfig().Status(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("%sTask Details%s\n", colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, st.TaskID)
		cmd.Printf("%sPhase:%s       %s\n", colorDim, colorReset, st.Phase)
		cmd.Printf("%sStage 1:%s     %s\n", colorDim, colorReset, colorizeStatus(st.Stage1Status))
		cmd.Printf("%sStage 2:%s     %s\n", colorDim, colorReset, colorizeStatus(st.Stage2Status))
		if st.Result != nil && *st.Result != "" {
			cmd.Printf("%sResult:%s      %s\n", colorDim, colorReset, *st.Result)
		}
		return nil
	},
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func colorizeStatus(s *labelx.Status) string {
	if s == nil {
		return "-"
	}
	switch *s {
	case labelx.StatusSuccess:
		return colorGreen + "✓ " + string(*s) + colorReset
	case labelx.StatusFailure, labelx.StatusRevoked:
		return colorRed + "✗ " + string(*s) + colorReset
	case labelx.StatusStarted, labelx.StatusRetry:
		return colorYellow + "⏳ " + string(*s) + colorReset
	case labelx.StatusPending:
		return colorCyan + "◯ " + string(*s) + colorReset
	default:
		return string(*s)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
