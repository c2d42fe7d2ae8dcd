package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "renderdiff",
	Short: "A visual regression harness for map renderers",
	Long: `renderdiff runs render tests against a map renderer.

Each test directory holds a style.json describing the scene and the operations
to apply, and an expected.png. The rendered frame is compared to the expected
image and the test passes when the share of differing pixels stays within the
test's tolerance.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./renderdiff.yaml)")
	rootCmd.PersistentFlags().String("fixtures", ".", "Fixture root containing the vendor and integration directories")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"fixture_root", "fixtures"},
		{"verbose", "verbose"},
		{"log_format", "log-format"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, rootCmd.PersistentFlags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("renderdiff")
	}

	viper.SetEnvPrefix("RENDERDIFF")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
