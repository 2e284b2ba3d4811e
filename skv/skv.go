// Copyright 2016 RapidLoop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package skv provides a simple persistent key-value store for Go values.
// It can store a mapping of string to any gob-encodable Go value, grouped
// into named buckets. It is lightweight and performant, and ideal for a
// single-node service like voicelink.
//
// The API is very simple - you can Put(), Get(), Delete() or ForEach()
// entries. These methods are goroutine-safe.
//
// skv uses BoltDB for storage and the encoding/gob package for encoding
// and decoding values. There are no other dependencies.
package skv

import (
	"bytes"
	"encoding/gob"
	"errors"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

type KV interface {
	CreateBucket(bucketName string) error
	Get(bucketName string, key string, value interface{}) error
	Put(bucketName string, key string, value interface{}) error
	Delete(bucketName string, key string) error
	ForEach(bucketName string, fn func(key string, raw []byte) error) error
	NextSequence(bucketName string) (uint64, error)
	Close() error
}

type SKV struct {
	Db   *bolt.DB
	Name string
}

var (
	DbMutex     sync.Mutex
	ErrNotFound = errors.New("skv key not found")
	ErrBadValue = errors.New("skv bad value")
)

// Open a key-value store. "path" is the full path to the database file,
// any leading directories must have been created already. File is created
// with mode 0640 if needed.
//
// Because of BoltDB restrictions, only one process may open the file at a
// time. Attempts to open the file from another process will fail with a
// timeout error.
func DbOpen(path string, dbPath string) (SKV, error) {
	DbMutex.Lock()
	defer DbMutex.Unlock()
	opts := &bolt.Options{
		Timeout: 50 * time.Millisecond,
	}
	db, err := bolt.Open(dbPath+path, 0640, opts)
	if err != nil {
		return SKV{}, err
	}
	return SKV{Db: db, Name: path}, nil
}

func (kvs SKV) CreateBucket(bucketName string) error {
	return kvs.Db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
}

// Put an entry into the store. The passed value is gob-encoded and
// stored. The value cannot be nil - if it is, Put() returns ErrBadValue.
func (kvs SKV) Put(bucketName string, key string, value interface{}) error {
	if value == nil {
		return ErrBadValue
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return err
	}
	DbMutex.Lock()
	defer DbMutex.Unlock()
	return kvs.Db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), buf.Bytes())
	})
}

// Get an entry from the store. "value" must be pointer-typed. If the key
// is not present in the store, Get returns ErrNotFound. The value passed
// to Get() can be nil, in which case any value read from the store is
// silently discarded (presence check).
func (kvs SKV) Get(bucketName string, key string, value interface{}) error {
	return kvs.Db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		if k, v := c.Seek([]byte(key)); k == nil || string(k) != key {
			return ErrNotFound
		} else if value == nil {
			return nil
		} else {
			d := gob.NewDecoder(bytes.NewReader(v))
			return d.Decode(value)
		}
	})
}

// Delete the entry with the given key. If no such key is present in the
// store, it returns ErrNotFound.
func (kvs SKV) Delete(bucketName string, key string) error {
	DbMutex.Lock()
	defer DbMutex.Unlock()
	return kvs.Db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		if k, _ := c.Seek([]byte(key)); k == nil || string(k) != key {
			return ErrNotFound
		} else {
			return c.Delete()
		}
	})
}

// ForEach visits every entry of a bucket. The raw bytes handed to fn are
// only valid for the duration of the call; use Decode() to unpack them.
func (kvs SKV) ForEach(bucketName string, fn func(key string, raw []byte) error) error {
	return kvs.Db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// NextSequence returns a monotonically increasing id for a bucket.
func (kvs SKV) NextSequence(bucketName string) (uint64, error) {
	var seq uint64
	DbMutex.Lock()
	defer DbMutex.Unlock()
	err := kvs.Db.Update(func(tx *bolt.Tx) error {
		var err error
		seq, err = tx.Bucket([]byte(bucketName)).NextSequence()
		return err
	})
	return seq, err
}

// Decode unpacks a gob value produced by Put().
func Decode(raw []byte, value interface{}) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(value)
}

// Close closes the key-value store file.
func (kvs SKV) Close() error {
	return kvs.Db.Close()
}
