package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-checkout-pipeline/internal/redisx"
)

// RedisStore keeps cart JSON under cart:{id} with an abandonment TTL.
// Update runs WATCH/MULTI on the key: the version check happens inside
// the watched section, so a concurrent writer aborts the transaction
// and both races surface as ErrVersionConflict.
type RedisStore struct {
	RDB *redis.Client
	TTL time.Duration
}

func cartKey(id string) string { return fmt.Sprintf(redisx.KeyCart, id) }

func (s *RedisStore) Create(ctx context.Context, c *Cart) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ok, err := s.RDB.SetNX(ctx, cartKey(c.ID), b, s.TTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cart %s already exists", c.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Cart, error) {
	b, err := s.RDB.Get(ctx, cartKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c := &Cart{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *RedisStore) Update(ctx context.Context, c *Cart) error {
	key := cartKey(c.ID)
	err := s.RDB.Watch(ctx, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur := &Cart{}
		if err := json.Unmarshal(b, cur); err != nil {
			return err
		}
		if cur.Version != c.Version {
			return fmt.Errorf("%w: have %d, want %d", ErrVersionConflict, c.Version, cur.Version)
		}
		next := clone(c)
		next.Version++
		next.UpdatedAt = time.Now().UTC()
		nb, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, nb, s.TTL)
			return nil
		})
		if err != nil {
			return err
		}
		c.Version = next.Version
		c.UpdatedAt = next.UpdatedAt
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent write", ErrVersionConflict)
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.RDB.Del(ctx, cartKey(id)).Err()
}
