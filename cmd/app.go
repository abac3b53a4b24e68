package cmd

import (
	"context"
	"fmt"
	"os"

	"gemchat/internal/chat"
	"gemchat/internal/completion"
	"gemchat/internal/config"
	"gemchat/internal/storage"
)

// app is the wiring every command shares.
type app struct {
	cfg   *config.Config
	kv    storage.KV
	chat  *chat.Controller
	close func() error
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("GEMCHAT_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var kv storage.KV
	closer := func() error { return nil }
	if ephemeral {
		kv = storage.NewMemoryKV()
	} else {
		kv, closer, err = storage.OpenBackend(cfg)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	store, err := storage.NewStore(kv)
	if err != nil {
		closer()
		return nil, err
	}

	controller, err := chat.NewController(ctx, store, completion.NewClient(cfg.Providers), chat.Options{
		Throttle:     cfg.Throttle(),
		DefaultModel: cfg.BasicConfig.DefaultModel,
	})
	if err != nil {
		closer()
		return nil, fmt.Errorf("init chat: %w", err)
	}
	return &app{cfg: cfg, kv: kv, chat: controller, close: closer}, nil
}
