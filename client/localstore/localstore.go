// Package localstore keeps per-device client state in a bbolt file: the notification
// preference and the per-conversation clear cutoffs of every identity that used the device.
package localstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"

	"github.com/mqy/pairchat/identity"
)

var (
	bucketPrefs   = []byte("prefs")
	bucketCleared = []byte("cleared")

	keyNotificationsEnabled = []byte("notifications_enabled")
)

type Store struct {
	db *bbolt.DB
}

// Open opens or creates the state file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open local store %s error: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPrefs, bucketCleared} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init local store error: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadCutoffs returns the clear cutoffs (unix ms) saved for self, keyed by conversation key.
func (s *Store) LoadCutoffs(self string) (map[string]int64, error) {
	self = identity.Normalize(self)
	out := make(map[string]int64)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCleared).Bucket([]byte(self))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				glog.Warningf("localstore: skip bad cutoff of %s/%s", self, k)
				return nil
			}
			out[string(k)] = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load cutoffs of %s error: %w", self, err)
	}
	return out, nil
}

// SaveCutoff stores the cutoff of conversation key for self, overwriting any previous one.
func (s *Store) SaveCutoff(self, key string, ms int64) error {
	self = identity.Normalize(self)
	if self == "" || key == "" {
		return errors.New("localstore: empty identity or conversation key")
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(ms))
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketCleared).CreateBucketIfNotExists([]byte(self))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), v[:])
	})
}

// LoadNotificationsEnabled returns false when the flag was never saved.
func (s *Store) LoadNotificationsEnabled() (bool, error) {
	var enabled bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		enabled = string(tx.Bucket(bucketPrefs).Get(keyNotificationsEnabled)) == "true"
		return nil
	})
	return enabled, err
}

func (s *Store) SaveNotificationsEnabled(enabled bool) error {
	v := []byte("false")
	if enabled {
		v = []byte("true")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrefs).Put(keyNotificationsEnabled, v)
	})
}
