package cmd

import (
	"fmt"
	"os"

	"gemchat/internal/auth"
	"gemchat/internal/catalog"
	"gemchat/internal/models"

	"github.com/spf13/cobra"
)

var (
	loginKey  string
	loginName string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API key and display name",
	Long: `Store the API key and display name used for every request.

The key may also come from $GEMINI_API_KEY.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		raw := loginKey
		if raw == "" {
			raw = os.Getenv("GEMINI_API_KEY")
		}
		key, name, err := auth.ValidateSettings(raw, loginName, a.cfg.BasicConfig.CredentialPrefix)
		if err != nil {
			return err
		}
		if err := a.chat.SaveSettings(cmd.Context(), models.UserSettings{APIKey: key, UserName: name}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", titleStyle.Render(name))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.chat.SignOut(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the selectable models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		def := cfg.BasicConfig.DefaultModel
		if def == "" {
			def = catalog.Default
		}
		out := cmd.OutOrStdout()
		for _, m := range catalog.All() {
			marker := " "
			if m.ID == def {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s  %s  %s\n", marker, titleStyle.Render(m.ID), m.Name, dateStyle.Render(m.Description))
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginKey, "api-key", "", "API key")
	loginCmd.Flags().StringVar(&loginName, "name", "", "Display name")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(modelsCmd)
}
