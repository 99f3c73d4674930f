package persistence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/tidwall/buntdb"
)

// BuntDBStore is the in-process fallback store. It keeps all keys in an
// in-memory BuntDB instance: writes are serialized through a single Update
// transaction, which gives IncrementWithExpiry its required atomicity, and
// expired keys are hidden on read and removed by BuntDB's own expiry sweep.
type BuntDBStore struct {
	db *buntdb.DB
}

func NewBuntDBStore() (*BuntDBStore, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &BuntDBStore{db: db}, nil
}

func setOptions(ttl time.Duration) *buntdb.SetOptions {
	if ttl <= 0 {
		return nil
	}
	return &buntdb.SetOptions{Expires: true, TTL: ttl}
}

func (s *BuntDBStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *BuntDBStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, setOptions(ttl))
		return err
	})
}

func (s *BuntDBStore) SetMany(ctx context.Context, entries map[string]string, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for key, value := range entries {
			if _, _, err := tx.Set(key, value, setOptions(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BuntDBStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (s *BuntDBStore) DeleteMany(ctx context.Context, keys []string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

func (s *BuntDBStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BuntDBStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var value int64
	err := s.db.Update(func(tx *buntdb.Tx) error {
		opts := setOptions(ttl)
		cur, err := tx.Get(key)
		if err == nil {
			n, perr := strconv.ParseInt(cur, 10, 64)
			if perr != nil {
				return perr
			}
			value = n + 1
			// preserve the remaining ttl of an existing counter
			if rem, terr := tx.TTL(key); terr == nil && rem >= 0 {
				opts = &buntdb.SetOptions{Expires: true, TTL: rem}
			} else {
				opts = nil
			}
		} else if errors.Is(err, buntdb.ErrNotFound) {
			value = 1
		} else {
			return err
		}
		_, _, err = tx.Set(key, strconv.FormatInt(value, 10), opts)
		return err
	})
	return value, err
}

func (s *BuntDBStore) Decrement(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := tx.Get(key)
		if errors.Is(err, buntdb.ErrNotFound) {
			value = 0
			return nil
		}
		if err != nil {
			return err
		}
		n, perr := strconv.ParseInt(cur, 10, 64)
		if perr != nil {
			return perr
		}
		value = n - 1
		if value < 0 {
			value = 0
		}
		var opts *buntdb.SetOptions
		if rem, terr := tx.TTL(key); terr == nil && rem >= 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: rem}
		}
		_, _, err = tx.Set(key, strconv.FormatInt(value, 10), opts)
		return err
	})
	return value, err
}

func (s *BuntDBStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := tx.Get(key)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, cur, setOptions(ttl))
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (s *BuntDBStore) ScanPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			out[key] = value
			return true
		})
	})
	return out, err
}

func (s *BuntDBStore) Close() error {
	return s.db.Close()
}
