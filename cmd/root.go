package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "amnis",
	Short: "amnis fetches new episodes from xdcc sources",
	Long:  `amnis watches xdcc pack listings for configured shows, requests new episodes and files them away`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")
}

const (
	defaultPollInterval = time.Minute * 30
	defaultSource       = "CR-ARCHIVE|720p"
)

func initConfig() {
	// a missing .env is fine
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Get().Warn("failed to load .env", zap.Error(err))
	}

	if _, err := os.Stat(cfgFile); err == nil {
		viper.SetConfigFile(cfgFile)
	}

	viper.SetEnvPrefix("AMNIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", ""))
	viper.AutomaticEnv()

	viper.SetDefault("irc.port", 6667)
	viper.SetDefault("irc.tls", false)
	viper.SetDefault("irc.nick", "amnis")

	viper.SetDefault("catalog.url", "")
	viper.SetDefault("catalog.sources", []string{defaultSource})
	viper.SetDefault("catalog.term", "")
	viper.SetDefault("catalog.resolutions", []int{})
	viper.SetDefault("catalog.backoff", time.Millisecond*500)
	viper.SetDefault("catalog.maxRetries", 3)

	viper.SetDefault("library.complete", "complete")
	viper.SetDefault("library.incomplete", "incomplete")
	viper.SetDefault("library.data", ".")
	viper.SetDefault("library.autoArchive", false)

	viper.SetDefault("storage.filePath", "amnis.sqlite")

	viper.SetDefault("transfer.maxResumeAttempts", 5)
	viper.SetDefault("transfer.resumeBackoffMin", time.Second)
	viper.SetDefault("transfer.resumeBackoffMax", time.Second*30)
	viper.SetDefault("transfer.acceptTimeout", time.Second*30)

	viper.SetDefault("manager.pollInterval", defaultPollInterval)

	viper.SetDefault("server.enabled", false)
	viper.SetDefault("server.port", 8080)
}
