package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	KeyPrefix = "cover:price:"
	// UpdatesChannel carries every accepted attestation as JSON.
	UpdatesChannel = "cover:prices"
)

var ErrNoPrice = errors.New("no price for token")

// Attestation is a signed SOLACE price quote for one payment token, in
// the form CoverPaymentManager.Withdraw expects it.
type Attestation struct {
	Token     common.Address `json:"token"`
	Price     *uint256.Int   `json:"price"`
	Deadline  *uint256.Int   `json:"deadline"`
	Signature hexutil.Bytes  `json:"signature"`
}

// Store keeps the latest attestation per token.
type Store interface {
	Put(ctx context.Context, a Attestation, ttl time.Duration) error
	Get(ctx context.Context, token common.Address) (Attestation, error)
}

// RedisConfig configures the attestation store connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig, log zerolog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis")
	return rdb, nil
}

// RedisStore is a Store backed by one key per token, expiring at the
// attestation deadline.
type RedisStore struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewRedisStore(rdb *redis.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, log: log}
}

func key(token common.Address) string {
	return KeyPrefix + strings.ToLower(token.Hex())
}

func (s *RedisStore) Put(ctx context.Context, a Attestation, ttl time.Duration) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key(a.Token), body, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	// Best effort: subscribers can always fall back to Get.
	if err := s.rdb.Publish(ctx, UpdatesChannel, body).Err(); err != nil {
		s.log.Warn().Err(err).Str("token", a.Token.Hex()).Msg("failed to publish price update")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token common.Address) (Attestation, error) {
	body, err := s.rdb.Get(ctx, key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Attestation{}, ErrNoPrice
	}
	if err != nil {
		return Attestation{}, fmt.Errorf("redis get: %w", err)
	}
	var a Attestation
	if err := json.Unmarshal(body, &a); err != nil {
		return Attestation{}, fmt.Errorf("decode attestation: %w", err)
	}
	return a, nil
}
