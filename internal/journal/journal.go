// Package journal keeps the resting side of the book in pebble so an engine
// can rebuild it after a restart.
package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/hakimelghazi/clob-core/internal/engine"
)

var ErrCorruptRecord = errors.New("journal: corrupt record")

// key:   pos/<a|b>/<price:8><seq:8>
// value: <quantity:8><owner>
//
// meta/seq holds the highest sequence ever journaled, as <seq:8>.
const (
	prefix    = "pos/"
	keyLen    = len(prefix) + 2 + 16
	minValLen = 8
	seqKey    = "meta/seq"
)

type Journal struct {
	db  *pebble.DB
	seq uint64
}

// Open opens (or creates) the journal in dir.
func Open(dir string) (*Journal, error) {
	return OpenWith(dir, &pebble.Options{})
}

// OpenWith opens the journal with caller-supplied pebble options, e.g. an
// in-memory vfs.
func OpenWith(dir string, opts *pebble.Options) (*Journal, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dir, err)
	}
	j := &Journal{db: db}
	if j.seq, err = j.readSequence(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) readSequence() (uint64, error) {
	v, closer, err := j.db.Get([]byte(seqKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal: read %s: %w", seqKey, err)
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, fmt.Errorf("%w: %s", ErrCorruptRecord, seqKey)
	}
	return binary.BigEndian.Uint64(v), nil
}

// LastSequence returns the highest sequence PutPosition has seen, including
// orders that have since been deleted.
func (j *Journal) LastSequence() (uint64, error) {
	return j.seq, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// PutPosition writes pos and, for a new high sequence, meta/seq in one batch.
func (j *Journal) PutPosition(side engine.Side, id engine.OrderID, pos engine.Position) error {
	if id.Seq <= j.seq {
		return j.db.Set(keyFor(side, id), encodePosition(pos), pebble.Sync)
	}
	b := j.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyFor(side, id), encodePosition(pos), nil); err != nil {
		return err
	}
	if err := b.Set([]byte(seqKey), binary.BigEndian.AppendUint64(nil, id.Seq), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	j.seq = id.Seq
	return nil
}

func (j *Journal) DeletePosition(side engine.Side, id engine.OrderID) error {
	return j.db.Delete(keyFor(side, id), pebble.Sync)
}

// Positions calls fn for every journaled position, asks before bids, each
// side in (price, sequence) order.
func (j *Journal) Positions(fn func(side engine.Side, id engine.OrderID, pos engine.Position) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte("pos0"), // '0' follows '/'
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		side, id, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		pos, err := decodePosition(iter.Value())
		if err != nil {
			return fmt.Errorf("%w: %s", err, id)
		}
		if err := fn(side, id, pos); err != nil {
			return err
		}
	}
	return iter.Error()
}

func keyFor(side engine.Side, id engine.OrderID) []byte {
	buf := make([]byte, 0, keyLen)
	buf = append(buf, prefix...)
	if side == engine.SideBuy {
		buf = append(buf, 'b', '/')
	} else {
		buf = append(buf, 'a', '/')
	}
	buf = binary.BigEndian.AppendUint64(buf, id.Price)
	return binary.BigEndian.AppendUint64(buf, id.Seq)
}

func parseKey(b []byte) (engine.Side, engine.OrderID, error) {
	if len(b) != keyLen || !bytes.HasPrefix(b, []byte(prefix)) || b[len(prefix)+1] != '/' {
		return "", engine.OrderID{}, fmt.Errorf("%w: key %q", ErrCorruptRecord, b)
	}
	var side engine.Side
	switch b[len(prefix)] {
	case 'a':
		side = engine.SideSell
	case 'b':
		side = engine.SideBuy
	default:
		return "", engine.OrderID{}, fmt.Errorf("%w: key %q", ErrCorruptRecord, b)
	}
	rest := b[len(prefix)+2:]
	return side, engine.OrderID{
		Price: binary.BigEndian.Uint64(rest[:8]),
		Seq:   binary.BigEndian.Uint64(rest[8:]),
	}, nil
}

func encodePosition(p engine.Position) []byte {
	buf := make([]byte, 8, 8+len(p.Owner))
	binary.BigEndian.PutUint64(buf, p.Quantity)
	return append(buf, p.Owner...)
}

func decodePosition(b []byte) (engine.Position, error) {
	if len(b) <= minValLen {
		return engine.Position{}, ErrCorruptRecord
	}
	return engine.Position{
		Quantity: binary.BigEndian.Uint64(b[:8]),
		Owner:    string(b[8:]),
	}, nil
}
