// go-openvasp - OpenVASP travel rule messaging client
// Copyright (c) 2020 The go-openvasp Authors. All rights reserved.

// Package store persists session states across client restarts.
package store

import (
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/getopenvasp/go-openvasp/protocol"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// dbSessionPrefix is the database key prefix under which session records
	// are stored.
	dbSessionPrefix = []byte("session-")

	// ErrSessionNotFound is returned if a session record is attempted to be
	// read from the database but it does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRecord is the persisted layout of a single session, independent of
// the storage technology. It carries everything needed to rehydrate the
// session: role, linkage, channel material, protocol state and message log.
type SessionRecord struct {
	Role       string                 `json:"role"`
	ID         string                 `json:"id"`
	Peer       protocol.VaspCode      `json:"peer"`
	Topic      protocol.TopicName     `json:"topic"`
	Secret     hexutil.Bytes          `json:"secret"`
	PeerTopic  protocol.TopicName     `json:"peerTopic,omitempty"`
	PeerSecret hexutil.Bytes          `json:"peerSecret,omitempty"`
	State      string                 `json:"state"`
	Log        []*protocol.Envelope   `json:"log,omitempty"`
	Transfer   *protocol.TransferInfo `json:"transfer,omitempty"`
}

// Store is a LevelDB backed collection of session records.
type Store struct {
	database *leveldb.DB
}

// Open creates or reopens the session database inside a data directory.
func Open(datadir string) (*Store, error) {
	db, err := leveldb.OpenFile(filepath.Join(datadir, "sessions"), &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{database: db}, nil
}

// Close flushes and tears down the database.
func (s *Store) Close() error {
	return s.database.Close()
}

// Save inserts or overwrites the record of a session.
func (s *Store) Save(record *SessionRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.database.Put(dbSessionKey(record.ID), blob, nil)
}

// Load retrieves the record of a single session.
func (s *Store) Load(id string) (*SessionRecord, error) {
	blob, err := s.database.Get(dbSessionKey(id), nil)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	record := new(SessionRecord)
	if err := json.Unmarshal(blob, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes the record of a session. Deleting a missing record is a
// no-op.
func (s *Store) Delete(id string) error {
	return s.database.Delete(dbSessionKey(id), nil)
}

// All retrieves every persisted session record.
func (s *Store) All() ([]*SessionRecord, error) {
	var records []*SessionRecord

	it := s.database.NewIterator(util.BytesPrefix(dbSessionPrefix), nil)
	defer it.Release()

	for it.Next() {
		record := new(SessionRecord)
		if err := json.Unmarshal(it.Value(), record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, it.Error()
}

// dbSessionKey assembles the database key a session record is stored under.
func dbSessionKey(id string) []byte {
	return append(append([]byte{}, dbSessionPrefix...), []byte(id)...)
}
