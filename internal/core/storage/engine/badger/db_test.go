package badger

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-recordnet/internal/core/storage/engine"
)

func openTemp(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := engine.DefaultConfig(dir)
	cfg.GCInterval = 0
	e, err := Open(cfg)
	require.NoError(t, err)
	return e, dir
}

// TestEngine_PutGetDelete 测试基本读写
func TestEngine_PutGetDelete(t *testing.T) {
	e, _ := openTemp(t)
	defer e.Close()

	require.NoError(t, e.Put([]byte("k"), []byte("v")))

	v, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	ok, err := e.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.Delete([]byte("k")))
	_, err = e.Get([]byte("k"))
	assert.True(t, engine.IsNotFound(err))

	ok, err = e.Has([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestEngine_EmptyKey 测试空键
func TestEngine_EmptyKey(t *testing.T) {
	e, _ := openTemp(t)
	defer e.Close()

	assert.ErrorIs(t, e.Put(nil, []byte("v")), engine.ErrEmptyKey)
	_, err := e.Get(nil)
	assert.ErrorIs(t, err, engine.ErrEmptyKey)
}

// TestEngine_BatchIsAtomic 测试批量写入一次提交
func TestEngine_BatchIsAtomic(t *testing.T) {
	e, _ := openTemp(t)
	defer e.Close()

	require.NoError(t, e.Put([]byte("old"), []byte("1")))

	b := e.NewBatch()
	b.Delete([]byte("old"))
	b.Put([]byte("new"), []byte("2"))
	assert.Equal(t, 2, b.Size())

	// 提交前不可见
	_, err := e.Get([]byte("new"))
	assert.True(t, engine.IsNotFound(err))

	require.NoError(t, b.Write())
	assert.Equal(t, 0, b.Size())

	_, err = e.Get([]byte("old"))
	assert.True(t, engine.IsNotFound(err))
	v, err := e.Get([]byte("new"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

// TestEngine_PrefixIterator 测试前缀遍历按键升序
func TestEngine_PrefixIterator(t *testing.T) {
	e, _ := openTemp(t)
	defer e.Close()

	for i := 3; i >= 0; i-- {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("a/%d", i)), []byte{byte(i)}))
	}
	require.NoError(t, e.Put([]byte("b/0"), []byte("x")))

	it := e.NewPrefixIterator([]byte("a/"))
	defer it.Close()

	var keys []string
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
		assert.Len(t, it.Value(), 1)
	}
	require.NoError(t, it.Error())
	assert.Equal(t, []string{"a/0", "a/1", "a/2", "a/3"}, keys)
}

// TestEngine_Reopen 测试数据在重启后仍然存在
func TestEngine_Reopen(t *testing.T) {
	e, dir := openTemp(t)
	require.NoError(t, e.Put([]byte("persist"), []byte("yes")))
	require.NoError(t, e.Close())

	_, err := e.Get([]byte("persist"))
	assert.ErrorIs(t, err, engine.ErrClosed)
	require.NoError(t, e.Close())

	cfg := engine.DefaultConfig(dir)
	cfg.GCInterval = 0
	e2, err := Open(cfg)
	require.NoError(t, err)
	defer e2.Close()

	v, err := e2.Get([]byte("persist"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), v)
}

// TestEngine_InMemory 测试内存模式
func TestEngine_InMemory(t *testing.T) {
	e, err := Open(engine.InMemoryConfig())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("m"), []byte("1")))
	ok, err := e.Has([]byte("m"))
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestEngine_InMemoryLargeValues 测试内存模式接受阈值以内的大值，超出时返回 ErrTooLarge
func TestEngine_InMemoryLargeValues(t *testing.T) {
	cfg := engine.InMemoryConfig()
	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	limit := int(cfg.MaxValueSize())
	fits := bytes.Repeat([]byte{1}, limit)
	require.NoError(t, e.Put([]byte("fits"), fits))
	v, err := e.Get([]byte("fits"))
	require.NoError(t, err)
	assert.Len(t, v, limit)

	tooBig := make([]byte, limit+1)
	assert.ErrorIs(t, e.Put([]byte("big"), tooBig), engine.ErrTooLarge)

	b := e.NewBatch()
	b.Put([]byte("a"), []byte("small"))
	b.Put([]byte("big"), tooBig)
	assert.ErrorIs(t, b.Write(), engine.ErrTooLarge)
	ok, err := e.Has([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok, "rejected batch must not be partially applied")
}

// TestOpen_InvalidConfig 测试配置校验
func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(nil)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	_, err = Open(engine.DefaultConfig(""))
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	cfg := engine.InMemoryConfig()
	cfg.ValueThreshold = engine.MaxValueThreshold + 1
	_, err = Open(cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}
