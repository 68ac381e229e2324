package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/redis/go-redis/v9"

	"portab/internal/config"
	"portab/internal/portab"
)

const defaultRedisPrefix = "portab"

// RedisVault keeps blobs in Redis. Content lives in plain string keys;
// each metadata item is a hash holding its data and version so both change
// together.
//
//	<prefix>:content:<checksum>
//	<prefix>:meta:<hostID>:<name>  {data, version}
type RedisVault struct {
	name   string
	client *redis.Client
	prefix string
}

var _ portab.Vault = (*RedisVault)(nil)

// NewRedisVault connects to the server named by cfg.RedisAddr.
func NewRedisVault(cfg config.VaultConfig) (*RedisVault, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis vault requires redis_addr to be set")
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	return NewRedisVaultWithClient(cfg.Name, client, cfg.RedisPrefix), nil
}

// NewRedisVaultWithClient wraps an existing client.
func NewRedisVaultWithClient(name string, client *redis.Client, prefix string) *RedisVault {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisVault{name: name, client: client, prefix: prefix}
}

func (v *RedisVault) contentKey(checksum string) string {
	return v.prefix + ":content:" + checksum
}

func (v *RedisVault) metaKey(hostID, name string) string {
	return v.prefix + ":meta:" + hostID + ":" + name
}

// PutContent stores the blob unless one is already present under checksum.
func (v *RedisVault) PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error {
	if err := checkChecksum(checksum); err != nil {
		return err
	}
	data, err := readSized(r, size)
	if err != nil {
		return err
	}
	if err := v.client.SetNX(ctx, v.contentKey(checksum), data, 0).Err(); err != nil {
		return fmt.Errorf("storing content %s: %w", checksum, err)
	}
	return nil
}

func (v *RedisVault) GetContent(ctx context.Context, checksum string, w io.Writer) error {
	if err := checkChecksum(checksum); err != nil {
		return err
	}
	data, err := v.client.Get(ctx, v.contentKey(checksum)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: content %s", ErrNotFound, checksum)
	}
	if err != nil {
		return fmt.Errorf("fetching content %s: %w", checksum, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	return nil
}

func (v *RedisVault) PutMetadata(ctx context.Context, hostID, name string, r io.Reader, size int64, version int64) error {
	if _, err := metadataKey(hostID, name); err != nil {
		return err
	}
	data, err := readSized(r, size)
	if err != nil {
		return err
	}
	err = v.client.HSet(ctx, v.metaKey(hostID, name), "data", data, "version", version).Err()
	if err != nil {
		return fmt.Errorf("storing metadata %s/%s: %w", hostID, name, err)
	}
	return nil
}

func (v *RedisVault) GetMetadata(ctx context.Context, hostID, name string, w io.Writer) error {
	if _, err := metadataKey(hostID, name); err != nil {
		return err
	}
	data, err := v.client.HGet(ctx, v.metaKey(hostID, name), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: metadata %q for host %s", ErrNotFound, name, hostID)
	}
	if err != nil {
		return fmt.Errorf("fetching metadata %s/%s: %w", hostID, name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

func (v *RedisVault) GetMetadataVersion(ctx context.Context, hostID, name string) (int64, error) {
	if _, err := metadataKey(hostID, name); err != nil {
		return 0, err
	}
	raw, err := v.client.HGet(ctx, v.metaKey(hostID, name), "version").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fetching metadata version: %w", err)
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup pings the server.
func (v *RedisVault) ValidateSetup(ctx context.Context) error {
	if err := v.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("vault %q: redis not reachable: %w", v.name, err)
	}
	return nil
}

// Close releases the client's connections.
func (v *RedisVault) Close() error {
	return v.client.Close()
}
