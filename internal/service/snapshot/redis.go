package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketPulse/internal/domain/models"
)

// ErrNoSnapshot is returned when no composite has been saved yet.
var ErrNoSnapshot = errors.New("snapshot: none stored")

const key = "marketpulse:composite"

// Store mirrors the last good composite into Redis so a restarted
// process (or a sibling replica) can serve something before its first
// successful refresh. It is a warm-start cache, not durable storage:
// entries expire and are rebuilt from upstream.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func New(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{client: client, ttl: cfg.TTL}, nil
}

// Save stores the composite with the configured TTL.
func (s *Store) Save(ctx context.Context, snap *models.UnifiedSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the last saved composite, or ErrNoSnapshot.
func (s *Store) Load(ctx context.Context) (*models.UnifiedSnapshot, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap models.UnifiedSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
