package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var sampleCmd = &cobra.Command{
	Use:   "sample [task_id]",
	Short: "Print sample rows from a task's result tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClientFromConfig().Sample(args[0])
		if err != nil {
			return err
		}
		for _, table := range s.Tables {
			cmd.Printf("%stable:%s %s\n", colorDim, colorReset, table)
		}
		out, err := json.MarshalIndent(s.ErrorMessage, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)
}
