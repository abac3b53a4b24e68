package cmd

import (
	"fmt"
	"io"
	"os"

	"gemchat/internal/transfer"

	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all sessions",
	Long: `Export all sessions as json (the import format), yaml or md.

Without --out the export is written to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := transfer.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			w = f
		}
		return transfer.Export(w, a.chat.Sessions(), format)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace all sessions with an exported JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()
		sessions, err := transfer.Import(f)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.chat.Replace(cmd.Context(), sessions); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s session(s)\n", countStyle.Render(fmt.Sprint(len(sessions))))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json, yaml or md")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
