package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InitProjectConfigScaffold 在当前工作目录下初始化项目级配置模板（./.nox/config.json）。
// InitProjectConfigScaffold writes a project-level config scaffold
// (./.nox/config.json) into dir, leaving an existing file alone. It returns
// the scaffold path.
func InitProjectConfigScaffold(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get current working directory: %w", err)
		}
		dir = cwd
	}

	cfgDir := filepath.Join(dir, ".nox")
	path := filepath.Join(cfgDir, "config.json")

	// 若项目已经有 ./.nox/config.json，则尊重用户现有配置。
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat project config: %w", err)
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir .nox: %w", err)
	}

	cfg := Default()
	// Secrets never land in a scaffold.
	cfg.Provider.APIKey = ""
	cfg.Developer.Passphrase = ""
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write project config: %w", err)
	}
	return path, nil
}

// WriteProviderModel 将 provider.model 写入项目配置（./.nox/config.json）；目录不存在则创建
// WriteProviderModel writes provider.model to project config (./.nox/config.json); creates dir if needed
func WriteProviderModel(projectDir, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("model is empty")
	}
	return updateProjectSection(projectDir, "provider", func(section map[string]any) {
		section["model"] = model
	})
}

// WriteInstrumentDefault 将 instrument.default 写入项目配置；label 为空时删除该键
// WriteInstrumentDefault persists the default instrument label; an empty
// label removes the key.
func WriteInstrumentDefault(projectDir, label string) error {
	label = strings.TrimSpace(label)
	return updateProjectSection(projectDir, "instrument", func(section map[string]any) {
		if label == "" {
			delete(section, "default")
			return
		}
		section["default"] = label
	})
}

func updateProjectSection(projectDir, key string, update func(map[string]any)) error {
	dir := filepath.Join(strings.TrimSpace(projectDir), ".nox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir .nox: %w", err)
	}
	path := filepath.Join(dir, "config.json")
	var out map[string]any
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(stripJSONComments(data), &out); err != nil {
			out = nil
		}
	}
	if out == nil {
		out = make(map[string]any)
	}
	section, _ := out[key].(map[string]any)
	if section == nil {
		section = make(map[string]any)
	}
	update(section)
	out[key] = section
	data, err = json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
