package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/epub2tts/epub2tts/internal/launcher"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Check that the converter and its dependencies are installed",
	Long:    paragraph(fmt.Sprintf("\n%s every dependency of the converter and print a report, including the helper programs that are not required.", keyword("Check"))),
	Example: paragraph("epub2tts doctor\nepub2tts doctor --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		deps := launcher.Dependencies(cfg.Requirements())
		checkErr := deps.CheckAll(ctx)
		fmt.Fprint(cmd.OutOrStdout(), deps.PrintReport())
		if checkErr != nil {
			return &exitError{code: launcher.ExitMissingDependency}
		}
		return nil
	},
}
