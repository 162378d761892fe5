// Package nodestore implements the Persistent Node Store: named
// byte-addressed nodes, each holding an ordered list of (key, value)
// pairs, backed by bbolt. Append is the hot path (spec.md §4.1/§6):
// it writes one new record without re-serializing the rest of the
// node, trading a growing byte blob for avoiding a full re-marshal on
// every SetProperty. Save performs the full rewrite used for periodic
// compaction.
package nodestore

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Record is one (key, value) pair in a node's journal.
type Record struct {
	Key   string
	Value string
}

// Store is the bbolt-backed persistent node store. Buckets are created
// lazily per name (e.g. "containers", "volumes"), matching the
// teacher's bucket-per-entity-kind layout in pkg/storage/boltdb.go.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("nodestore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append adds one (key, value) record to the node identified by
// (bucket, id), creating both the bucket and the node if they don't
// yet exist.
func (s *Store) Append(bucket, id, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		existing := b.Get([]byte(id))
		encoded := appendRecord(existing, Record{Key: key, Value: value})
		return b.Put([]byte(id), encoded)
	})
}

// List decodes and returns the full ordered journal for a node. A node
// with no prior writes returns (nil, nil).
func (s *Store) List(bucket, id string) ([]Record, error) {
	var recs []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var err error
		recs, err = decodeRecords(data)
		return err
	})
	return recs, err
}

// Save replaces the node's entire journal with recs in one write.
// Tree.Create uses it to write a new container's empty node; no code
// path uses it to compact an existing append journal.
func (s *Store) Save(bucket, id string, recs []Record) error {
	data := encodeRecords(recs)
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

// Remove deletes a node entirely.
func (s *Store) Remove(bucket, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// ListIDs returns every node id present in bucket, for restart replay.
func (s *Store) ListIDs(bucket string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func appendRecord(existing []byte, r Record) []byte {
	buf := make([]byte, 0, len(existing)+len(r.Key)+len(r.Value)+20)
	buf = append(buf, existing...)
	return encodeInto(buf, r)
}

func encodeRecords(recs []Record) []byte {
	var buf []byte
	for _, r := range recs {
		buf = encodeInto(buf, r)
	}
	return buf
}

func encodeInto(buf []byte, r Record) []byte {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(len(r.Key)))
	buf = append(buf, scratch[:n]...)
	buf = append(buf, r.Key...)
	n = binary.PutUvarint(scratch[:], uint64(len(r.Value)))
	buf = append(buf, scratch[:n]...)
	buf = append(buf, r.Value...)
	return buf
}

func decodeRecords(data []byte) ([]Record, error) {
	var recs []Record
	for len(data) > 0 {
		klen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("nodestore: corrupt journal (key length)")
		}
		data = data[n:]
		if uint64(len(data)) < klen {
			return nil, fmt.Errorf("nodestore: corrupt journal (short key)")
		}
		key := string(data[:klen])
		data = data[klen:]

		vlen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("nodestore: corrupt journal (value length)")
		}
		data = data[n:]
		if uint64(len(data)) < vlen {
			return nil, fmt.Errorf("nodestore: corrupt journal (short value)")
		}
		value := string(data[:vlen])
		data = data[vlen:]

		recs = append(recs, Record{Key: key, Value: value})
	}
	return recs, nil
}
