package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tagship/tagship/internal/config"
	"github.com/tagship/tagship/internal/logger"
	"github.com/tagship/tagship/internal/model"
	"github.com/tagship/tagship/internal/service"
	"github.com/tagship/tagship/pkg/index"
)

var (
	configPath string
	logLevel   string
)

// rootCmd is the tagship command line entrypoint
var rootCmd = &cobra.Command{
	Use:   "tagship",
	Short: "Publish tagged releases to a package index and verify them",
	Long: `tagship runs the publish-and-verify pipeline for tagged releases.

A tag selects a channel by prefix pattern (by convention t* for the
pre-release index, v* for production). The pipeline checks out the
tagged commit, builds the artifact, uploads it to the channel's index,
and confirms the version is retrievable. The exit code is 0 only on
confirmed publication.`,
}

// publishCmd runs the full pipeline for one repo/tag pair
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Run the publish-and-verify pipeline for a tag",
	RunE:  runPublish,
}

// verifyCmd runs only the confirmation check
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that a published version is retrievable from its index",
	RunE:  runVerify,
}

var (
	publishRepo string
	publishTag  string

	verifyChannel string
	verifyName    string
	verifyVersion string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	publishCmd.Flags().StringVar(&publishRepo, "repo", "", "configured repository name")
	publishCmd.Flags().StringVar(&publishTag, "tag", "", "tag to publish")
	publishCmd.MarkFlagRequired("repo")
	publishCmd.MarkFlagRequired("tag")

	verifyCmd.Flags().StringVar(&verifyChannel, "channel", "", "channel whose index to query")
	verifyCmd.Flags().StringVar(&verifyName, "name", "", "package name")
	verifyCmd.Flags().StringVar(&verifyVersion, "version", "", "version to look for")
	verifyCmd.MarkFlagRequired("channel")
	verifyCmd.MarkFlagRequired("name")
	verifyCmd.MarkFlagRequired("version")

	rootCmd.AddCommand(publishCmd, verifyCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.InitCLILogger(logLevel)
	defer log.Sync()

	publisher, err := service.NewPublisher(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	defer publisher.Close()

	run, err := publisher.Publish(cmd.Context(), publishRepo, publishTag)
	if err != nil {
		return err
	}
	if run.Status != model.StatusConfirmed {
		return fmt.Errorf("run %s ended %s: %s", run.ID, run.Status, run.Error)
	}

	fmt.Printf("confirmed: %s %s published to %s\n", run.PackageName, run.Version, run.Channel)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var channel *config.Channel
	for i := range cfg.Channels {
		if cfg.Channels[i].Name == verifyChannel {
			channel = &cfg.Channels[i]
		}
	}
	if channel == nil {
		return fmt.Errorf("unknown channel: %s", verifyChannel)
	}

	log := logger.InitCLILogger(logLevel)
	defer log.Sync()

	client := index.NewClient(log)
	found, err := client.Verify(cmd.Context(), channel.IndexURL, verifyName, verifyVersion)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("version %s of %s was not found in the %s index response",
			verifyVersion, verifyName, channel.Name)
	}

	fmt.Printf("confirmed: %s %s is retrievable from %s\n", verifyName, verifyVersion, channel.Name)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
