package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/unlist-sh/unlist/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `              _ _     _
  _   _ _ __ | (_)___| |_
 | | | | '_ \| | / __| __|
 | |_| | | | | | \__ \ |_
  \__,_|_| |_|_|_|___/\__|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "unlist",
	Short: "Scans data-broker sites for your personal records and opts you out.",
	Long: LOGO + `unlist keeps your personal information off data-broker sites: it scans a
catalog of brokers for records matching your profile, files opt-out requests
for every match, and re-scans on a schedule until the records stay gone.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.unlist.yaml)")

	// Global flags
	rootCmd.PersistentFlags().String("dbpath", "", "Path to the SQLite DB file (default: ~/.config/unlist/unlist.sqlite)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".unlist")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.unlist.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("backend.url", "")
	viper.SetDefault("backend.authtoken", "")
	viper.SetDefault("brokers.dir", "")
	viper.SetDefault("schedule.cadence", "4h")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
