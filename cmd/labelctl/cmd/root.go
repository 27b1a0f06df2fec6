package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "labelctl",
	Short: "labelctl submits and inspects labeling tasks",
	Long: `labelctl talks to the labelx API.

Common workflows:

  Submit a task:
    labelctl submit --model-type topic --predict-type author_name \
      --start 2024-01-01 --end 2024-01-31 --queue q1 --countdown 5

  Poll its status:
    labelctl status <task_id>

  Sample the result tables once stage 2 succeeded:
    labelctl sample <task_id>

Configuration:
  LABELX_URL     API endpoint (default: http://localhost:8000)
  LABELX_TOKEN   bearer token, when the API has auth enabled`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".labelctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LABELX")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

func newClientFromConfig() *LabelClient {
	return NewLabelClient(viper.GetString("url"), viper.GetString("token"))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.labelctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8000", "labelx API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "bearer token")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
