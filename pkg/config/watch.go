package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever config.json is written and calls
// onChange with the new config. It blocks until ctx is done.
func Watch(ctx context.Context, onChange func(Config)) error {
	dir := ProjectDir()
	if dir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	cfgDir := filepath.Join(dir, ProjectConfigDir)
	if err := watcher.Add(cfgDir); err != nil {
		return fmt.Errorf("watch %s: %w", cfgDir, err)
	}
	target := filepath.Clean(ConfigPath(dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := Reload(); err != nil {
				getLogger().Warn("⚠️  config reload failed, keeping previous config: %v", err)
				continue
			}
			cfg, err := GetConfig()
			if err != nil {
				continue
			}
			getLogger().Info("🔄 Config reloaded from %s", target)
			if onChange != nil {
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			getLogger().Error("fsnotify error=%v", err)
		}
	}
}
