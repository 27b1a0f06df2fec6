package cmd

import (
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := newClientFromConfig().List(limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			cmd.Println("No tasks.")
			return nil
		}
		cmd.Printf("%s%-32s  %-8s  %-8s  %-20s  %s%s\n", colorBold, "TASK ID", "STAGE1", "STAGE2", "MODEL", "CREATED", colorReset)
		for _, r := range recs {
			stage2 := string(r.Stage2Status)
			if stage2 == "" {
				stage2 = "-"
			}
			cmd.Printf("%-32s  %-8s  %-8s  %-20s  %s\n", r.TaskID, r.Stage1Status, stage2,
				r.ModelType+"/"+r.PredictType, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 0, "maximum tasks to show (server default when 0)")
	rootCmd.AddCommand(listCmd)
}
