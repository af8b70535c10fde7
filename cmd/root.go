package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/behzadon/gather/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:   "gather",
		Short: "Event planning polls",
		Long: `Gather runs the polling engine behind event planning: organizers
collect date, venue and free-form options, participants vote with one of
several voting systems, and finalized date polls move the event.`,
		SilenceUsage: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
}

func GetConfig() *config.Config {
	return cfg
}
