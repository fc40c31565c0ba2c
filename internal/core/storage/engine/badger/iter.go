package badger

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"
)

// iterator 只读事务上的前缀迭代器，看到的是创建时刻的快照
type iterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	err    error
	closed bool
}

func (i *iterator) First() bool {
	if i.closed {
		return false
	}
	i.it.Seek(i.prefix)
	return i.Valid()
}

func (i *iterator) Next() bool {
	if i.closed || !i.it.Valid() {
		return false
	}
	i.it.Next()
	return i.Valid()
}

func (i *iterator) Valid() bool {
	if i.closed || !i.it.Valid() {
		return false
	}
	return bytes.HasPrefix(i.it.Item().Key(), i.prefix)
}

func (i *iterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.it.Item().KeyCopy(nil)
}

func (i *iterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	v, err := i.it.Item().ValueCopy(nil)
	if err != nil {
		i.err = err
		return nil
	}
	return v
}

func (i *iterator) Error() error {
	return i.err
}

func (i *iterator) Close() {
	if i.closed {
		return
	}
	i.closed = true
	i.it.Close()
	i.txn.Discard()
}
