package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

const captchaTTL = 10 * time.Minute

func captchaKey(email string) string { return "captcha:" + email }

func (s *Store) SetCaptcha(ctx context.Context, email, code string) error {
	return s.rdb.Set(ctx, captchaKey(email), code, captchaTTL).Err()
}

// GetCaptcha returns redis.Nil when the code expired or was never sent.
func (s *Store) GetCaptcha(ctx context.Context, email string) (string, error) {
	return s.rdb.Get(ctx, captchaKey(email)).Result()
}

func (s *Store) DeleteCaptcha(ctx context.Context, email string) error {
	return s.rdb.Del(ctx, captchaKey(email)).Err()
}

// ModelSnapshot is the versioned upstream configuration. Editing tools
// write a whole new snapshot; readers always fetch the latest, so there
// is no in-place mutation to invalidate.
type ModelSnapshot struct {
	Version int64  `json:"version"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Proxy   string `json:"proxy"`
	Timeout int    `json:"timeout_seconds"`
}

const modelSnapshotKey = "config:model"

func (s *Store) GetModelSnapshot(ctx context.Context) (*ModelSnapshot, error) {
	raw, err := s.rdb.Get(ctx, modelSnapshotKey).Bytes()
	if err != nil {
		return nil, err
	}
	var snap ModelSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SetModelSnapshot(ctx context.Context, snap *ModelSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, modelSnapshotKey, raw, 0).Err()
}
