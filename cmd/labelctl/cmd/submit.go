package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mohans/labelx/internal/api"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a labeling task",
	Long: `Submit a two-stage labeling task over [start, end).

Example:
  labelctl submit --model-type topic --predict-type author_name --start 2024-01-01 --end 2024-01-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		req := api.CreateTaskRequest{}
		req.ModelType, _ = flags.GetString("model-type")
		req.PredictType, _ = flags.GetString("predict-type")
		req.StartTime, _ = flags.GetString("start")
		req.EndTime, _ = flags.GetString("end")
		req.InputSchema, _ = flags.GetString("input-schema")
		req.Queue, _ = flags.GetString("queue")
		req.Countdown, _ = flags.GetInt("countdown")

		acc, err := newClientFromConfig().Submit(req)
		if err != nil {
			return err
		}
		cmd.Printf("%s Task accepted\n", colorGreen+"✓"+colorReset)
		cmd.Printf("%sTask ID:%s     %s\n", colorDim, colorReset, acc.TaskID)
		cmd.Printf("%sModel:%s       %s/%s\n", colorDim, colorReset, acc.ModelType, acc.PredictType)
		cmd.Printf("%sRange:%s       %s\n", colorDim, colorReset, acc.DateRange)
		cmd.Printf("%sQueue:%s       %s (stage 2 after %ds)\n", colorDim, colorReset, acc.Queue, acc.Countdown)
		return nil
	},
}

func init() {
	f := submitCmd.Flags()
	f.String("model-type", "", "model type (required)")
	f.String("predict-type", "", "predict type (required)")
	f.String("start", "", "window start, e.g. 2024-01-01 (required)")
	f.String("end", "", "window end, exclusive (required)")
	f.String("input-schema", "", "input schema")
	f.String("queue", "", "queue name (server default when empty)")
	f.Int("countdown", 0, "seconds to wait before stage 2")
	for _, name := range []string{"model-type", "predict-type", "start", "end"} {
		_ = submitCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(submitCmd)
}
