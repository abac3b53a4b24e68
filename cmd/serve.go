package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"gemchat/internal/api"
	"gemchat/internal/attachment"
	"gemchat/internal/auth"
	"gemchat/internal/debug"
	"gemchat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the chat API over HTTP. Replies stream as server-sent events.

Every route except GET /api/csrf requires the csrf cookie and the matching
X-CSRF-Token header.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		basic := a.cfg.BasicConfig
		if ephemeral {
			log.Printf("store: memory")
		} else {
			log.Printf("store: %s", basic.StoreBackend)
		}

		if n, ok := a.kv.(storage.Notifier); ok {
			go a.chat.Follow(ctx, n.Changes(ctx))
		}

		stager := attachment.NewStager(basic.AttachmentDir, time.Duration(basic.AttachmentTTL)*time.Minute, basic.MaxAttachmentBytes)
		stager.StartCleaner(ctx, time.Duration(basic.AttachmentCleanInterval)*time.Minute)

		authService := auth.NewService(24 * time.Hour)
		handlers := api.NewHandler(a.chat, authService, stager, basic.CredentialPrefix)

		if !debug.Enabled() {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.Default()
		handlers.RegisterRoutes(router)

		addr := serveAddr
		if addr == "" {
			addr = basic.ServerAddress
		}
		if err := router.Run(addr); err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides basic_config.server_address)")
	rootCmd.AddCommand(serveCmd)
}
