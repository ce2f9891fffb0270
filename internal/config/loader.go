package config

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// FileLoader reads the serialized route table from disk.
type FileLoader struct {
	Path string
}

func (l *FileLoader) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read route config: %w", err)
	}
	return data, nil
}

// RedisLoader reads the serialized route table from a key in the
// shared store, so every gateway instance reloads the same table.
type RedisLoader struct {
	Client *redis.Client
	Key    string
}

func (l *RedisLoader) Load(ctx context.Context) ([]byte, error) {
	data, err := l.Client.Get(ctx, l.Key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("fetch route config %q: %w", l.Key, err)
	}
	return data, nil
}
