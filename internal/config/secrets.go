package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Secrets 是从 TOML 密钥文件读取的键值，缺失的键回退到环境变量。
type Secrets map[string]string

// LoadSecrets 读取密钥文件；文件不存在时返回空集合。
func LoadSecrets(path string) (Secrets, error) {
	if path == "" {
		return Secrets{}, nil
	}

	raw := map[string]any{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Secrets{}, nil
		}
		return nil, fmt.Errorf("decode secrets file %s: %w", path, err)
	}

	secrets := make(Secrets, len(raw))
	for key, value := range raw {
		// 嵌套表（如 [auth]）不作为密钥。
		if s, ok := value.(string); ok {
			secrets[key] = strings.TrimSpace(s)
		}
	}
	return secrets, nil
}

// Lookup 优先返回密钥文件中的值，否则读取同名环境变量。
func (s Secrets) Lookup(key string) string {
	if value := s[key]; value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv(key))
}
