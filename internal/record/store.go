// Package record 实现本地记录存储
//
// Store 负责写入前的校验流水线（地址、签名、合并、支付、容量），
// 按“离本节点越远越先淘汰”的策略控制容量，并把记录持久化到 badger。
//
// Store 不是线程安全的：它只属于网络引擎的事件循环。
package record

import (
	"bytes"
	"errors"
	"iter"
	"slices"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-recordnet/internal/core/metrics"
	"github.com/dep2p/go-recordnet/internal/core/storage/engine"
	"github.com/dep2p/go-recordnet/internal/core/storage/kv"
	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/interfaces"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("record")

// formatVersion 磁盘格式版本，写在 m/version
//
// 版本 2 起记录值带段数前缀，大记录分段保存。
const formatVersion = 2

var (
	recordPrefix = []byte("r/")
	partPrefix   = []byte("p/")
	metaPrefix   = []byte("m/")
	versionKey   = []byte("version")
)

// Deps 外部协作者
type Deps struct {
	Verifier interfaces.SignatureVerifier
	Merger   interfaces.Merger
	Payments interfaces.PaymentVerifier

	// Metrics 可选
	Metrics interfaces.Metrics

	// Clock 可选，默认真实时钟
	Clock clock.Clock
}

// entry 内存索引项，记录本体留在磁盘上
type entry struct {
	kind types.RecordKind
	size int

	// segments 磁盘上的段数，至少为 1
	segments int

	// verified 为 false 的记录来自上次运行，首次读取时重新校验，
	// 在此之前不对外提供
	verified bool
}

// Store 记录存储
type Store struct {
	cfg     Config
	local   types.PeerID
	records *kv.Store
	parts   *kv.Store

	verifier interfaces.SignatureVerifier
	merger   interfaces.Merger
	payments interfaces.PaymentVerifier
	metrics  interfaces.Metrics
	clock    clock.Clock

	index  map[types.Address]*entry
	sorted []types.Address
	bytes  int64
	pins   map[types.Address]int
}

// Open 打开存储并从磁盘重建索引
func Open(eng engine.Engine, local types.PeerID, cfg Config, deps Deps) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Verifier == nil || deps.Merger == nil || deps.Payments == nil {
		return nil, ErrMissingCollaborator
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	s := &Store{
		cfg:      cfg,
		local:    local,
		records:  kv.New(eng, recordPrefix),
		parts:    kv.New(eng, partPrefix),
		verifier: deps.Verifier,
		merger:   deps.Merger,
		payments: deps.Payments,
		metrics:  metrics.OrNop(deps.Metrics),
		clock:    deps.Clock,
		index:    make(map[types.Address]*entry),
		pins:     make(map[types.Address]int),
	}

	if err := s.checkFormat(kv.New(eng, metaPrefix)); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.report()
	return s, nil
}

func (s *Store) checkFormat(meta *kv.Store) error {
	v, err := meta.GetUint64(versionKey)
	switch {
	case engine.IsNotFound(err):
		if err := meta.PutUint64(versionKey, formatVersion); err != nil {
			return storageErr("write format version", err)
		}
		return nil
	case err != nil:
		return storageErr("read format version", err)
	case v != formatVersion:
		return ErrUnsupportedFormat
	}
	return nil
}

// load 扫描磁盘，坏记录直接删除，超出当前容量的部分按距离淘汰
func (s *Store) load() error {
	var (
		corrupt [][]byte
		readErr error
	)
	err := s.records.Scan(func(key, value []byte) bool {
		addr, err := types.AddressFromBytes(key)
		if err != nil {
			corrupt = append(corrupt, append([]byte(nil), key...))
			return true
		}
		raw, segments, err := s.join(addr, value)
		if err != nil {
			if !errors.Is(err, errBadSegments) {
				readErr = err
				return false
			}
			corrupt = append(corrupt, append([]byte(nil), key...))
			return true
		}
		rec, err := wire.UnmarshalRecord(raw)
		if err != nil || rec.Address != addr {
			corrupt = append(corrupt, append([]byte(nil), key...))
			return true
		}
		s.index[addr] = &entry{kind: rec.Kind, size: rec.Size(), segments: segments}
		s.sorted = append(s.sorted, addr)
		s.bytes += int64(rec.Size())
		return true
	})
	if err == nil {
		err = readErr
	}
	if err != nil {
		return storageErr("scan records", err)
	}

	if len(corrupt) > 0 {
		b := s.records.NewBatch()
		for _, k := range corrupt {
			b.Delete(k)
		}
		if err := b.Write(); err != nil {
			return storageErr("drop corrupt records", err)
		}
		log.Warn("dropped undecodable records", "count", len(corrupt))
	}
	// 坏记录留下的分段一并清理
	if err := s.dropOrphanParts(); err != nil {
		return err
	}

	// Scan 已按键升序返回
	if victims := s.overflow(); len(victims) > 0 {
		if err := s.commit(nil, victims); err != nil {
			return err
		}
		log.Info("pruned records over capacity", "count", len(victims))
	}

	log.Debug("record store opened", "records", len(s.index), "bytes", s.bytes)
	return nil
}

// overflow 容量缩小后需要淘汰的记录，最远的先走
func (s *Store) overflow() []types.Address {
	needRecords := len(s.index) - s.cfg.MaxRecords
	needBytes := s.bytes - s.cfg.MaxBytes
	if needRecords <= 0 && needBytes <= 0 {
		return nil
	}
	var victims []types.Address
	for _, addr := range s.byDistanceDesc(func(types.Address) bool { return true }) {
		if needRecords <= 0 && needBytes <= 0 {
			break
		}
		victims = append(victims, addr)
		needRecords--
		needBytes -= int64(s.index[addr].size)
	}
	return victims
}

// ============================================================================
//                              读取
// ============================================================================

// Get 读取可对外提供的记录
//
// 不存在或未通过重新校验返回 types.ErrNotFound；底层故障返回 *StorageError。
func (s *Store) Get(addr types.Address) (*types.Record, error) {
	e, ok := s.index[addr]
	if !ok {
		return nil, types.ErrNotFound
	}

	head, err := s.records.Get(addr[:])
	if err != nil {
		if engine.IsNotFound(err) {
			s.forget(addr)
			return nil, types.ErrNotFound
		}
		return nil, storageErr("get", err)
	}
	raw, _, err := s.join(addr, head)
	if err != nil && !errors.Is(err, errBadSegments) {
		return nil, storageErr("get", err)
	}
	var rec *types.Record
	if err == nil {
		rec, err = wire.UnmarshalRecord(raw)
	}
	if err != nil {
		log.Warn("undecodable record removed", "addr", addr.ShortString(), "err", err)
		return nil, s.dropInvalid(addr)
	}

	if !e.verified {
		if reason := s.validate(rec); reason != types.RejectNone {
			log.Warn("stored record failed re-validation", "addr", addr.ShortString(), "reason", reason)
			return nil, s.dropInvalid(addr)
		}
		e.verified = true
	}
	return rec, nil
}

func (s *Store) dropInvalid(addr types.Address) error {
	if err := s.Remove(addr); err != nil {
		return err
	}
	return types.ErrNotFound
}

// Has 地址是否在索引中（包括尚未重新校验的记录）
func (s *Store) Has(addr types.Address) bool {
	_, ok := s.index[addr]
	return ok
}

// Len 记录条数
func (s *Store) Len() int {
	return len(s.index)
}

// Addresses 按地址升序遍历
//
// 每次调用遍历调用时刻的快照，可以重复调用；遍历过程中修改存储不影响本次结果。
func (s *Store) Addresses() iter.Seq[types.Address] {
	return func(yield func(types.Address) bool) {
		for _, addr := range slices.Clone(s.sorted) {
			if !yield(addr) {
				return
			}
		}
	}
}

// AddressesAfter 返回严格大于 after 的至多 limit 个地址；after 为 nil 从头开始
func (s *Store) AddressesAfter(after *types.Address, limit int) []types.Address {
	start := 0
	if after != nil {
		i, found := slices.BinarySearchFunc(s.sorted, *after, compareAddr)
		if found {
			i++
		}
		start = i
	}
	end := min(start+limit, len(s.sorted))
	if start >= end {
		return nil
	}
	return slices.Clone(s.sorted[start:end])
}

// ============================================================================
//                              写入
// ============================================================================

// Put 校验并写入记录
//
// 校验或容量问题通过 Outcome 返回且不改变存储内容；error 只表示本地存储故障。
func (s *Store) Put(rec *types.Record, proof *types.PaymentProof, opts PutOptions) (Outcome, error) {
	if rec == nil {
		return reject(types.RejectMalformed), nil
	}
	out, err := s.put(rec, proof, opts)
	if err != nil {
		return out, err
	}
	s.metrics.PutOutcome(rec.Kind, out.Reason)
	if out.Accepted() {
		if out.Changed {
			log.Debug("record stored", "addr", rec.Address.ShortString(), "kind", rec.Kind, "evicted", len(out.Evicted))
		}
	} else {
		log.Debug("record rejected", "addr", rec.Address.ShortString(), "reason", out.Reason)
	}
	return out, nil
}

func (s *Store) put(rec *types.Record, proof *types.PaymentProof, opts PutOptions) (Outcome, error) {
	if reason := s.validate(rec); reason != types.RejectNone {
		return reject(reason), nil
	}

	if e, ok := s.index[rec.Address]; ok {
		if e.kind != rec.Kind {
			return reject(types.RejectMalformed), nil
		}
		current, err := s.Get(rec.Address)
		switch {
		case err == nil:
			if rec.Kind == types.KindChunk {
				return Outcome{}, nil
			}
			return s.merge(current, rec)
		case !errors.Is(err, types.ErrNotFound):
			return Outcome{}, err
		}
		// 旧记录未通过重新校验已被删除，按新地址处理
	}

	// 只有内容块的首次写入需要付费
	if opts.RequirePayment && rec.Kind == types.KindChunk {
		if reason := s.checkPayment(rec, proof); reason != types.RejectNone {
			return reject(reason), nil
		}
	}

	victims, ok := s.makeRoom(rec.Address, 1, int64(rec.Size()))
	if !ok {
		return reject(types.RejectCapacityExceeded), nil
	}
	return s.store(rec, victims)
}

// merge 可变记录与已有版本合并，不覆盖
func (s *Store) merge(current, incoming *types.Record) (Outcome, error) {
	merged, err := s.merger.Merge(current, incoming)
	if err != nil {
		log.Debug("merge failed", "addr", current.Address.ShortString(), "err", err)
		return reject(types.RejectMergeFailed), nil
	}
	if merged == nil || merged.Address != current.Address || merged.Kind != current.Kind {
		return reject(types.RejectMergeFailed), nil
	}
	if merged.ContentHash() == current.ContentHash() {
		return Outcome{}, nil
	}
	if merged.Size() > s.cfg.MaxRecordSize {
		return reject(types.RejectTooLarge), nil
	}

	delta := int64(merged.Size() - s.index[current.Address].size)
	victims, ok := s.makeRoom(current.Address, 0, delta)
	if !ok {
		return reject(types.RejectCapacityExceeded), nil
	}
	return s.store(merged, victims)
}

// store 提交写入；超出存储引擎上限的记录按过大拒绝，不视为存储故障
func (s *Store) store(rec *types.Record, victims []types.Address) (Outcome, error) {
	if err := s.commit(rec, victims); err != nil {
		if errors.Is(err, engine.ErrTooLarge) {
			log.Warn("record exceeds storage engine limits", "addr", rec.Address.ShortString(), "size", rec.Size(), "err", err)
			return reject(types.RejectTooLarge), nil
		}
		return Outcome{}, err
	}
	return Outcome{Changed: true, Evicted: victims}, nil
}

// Validate 不写入地检查记录的结构、地址与签名，用于校验从网络取回的副本
func (s *Store) Validate(rec *types.Record) types.RejectReason {
	if rec == nil {
		return types.RejectMalformed
	}
	return s.validate(rec)
}

// validate 按类型检查结构、地址与签名
func (s *Store) validate(rec *types.Record) types.RejectReason {
	if !rec.Kind.Valid() || len(rec.Payload) == 0 {
		return types.RejectMalformed
	}
	if rec.Size() > s.cfg.MaxRecordSize {
		return types.RejectTooLarge
	}

	switch rec.Kind {
	case types.KindChunk:
		if types.ChunkAddress(rec.Payload) != rec.Address {
			return types.RejectHashMismatch
		}
	default:
		if len(rec.Owner) == 0 {
			return types.RejectMalformed
		}
		if types.OwnerAddress(rec.Kind, rec.Owner) != rec.Address {
			return types.RejectAddressMismatch
		}
		if err := s.verifier.Verify(rec); err != nil {
			return types.RejectInvalidSignature
		}
	}
	return types.RejectNone
}

// checkPayment 先查格式与金额，再交给支付协作者
func (s *Store) checkPayment(rec *types.Record, proof *types.PaymentProof) types.RejectReason {
	if proof == nil {
		return types.RejectMissingPayment
	}
	if !proof.WellFormed() {
		return types.RejectMalformedPayment
	}
	price := s.Quote(rec.Size())
	if proof.Amount < price.Amount {
		return types.RejectInsufficientPayment
	}
	if !s.payments.VerifyProof(proof, price) {
		return types.RejectPaymentVerificationFailed
	}
	return types.RejectNone
}

// commit 在一个批次里删除 victims 并写入 rec（可为 nil），成功后再更新索引
func (s *Store) commit(rec *types.Record, victims []types.Address) error {
	b := s.records.NewBatch()
	pb := b.With(s.parts)
	for _, v := range victims {
		b.Delete(v[:])
		s.deleteParts(pb, v, 1)
	}
	segments := 0
	if rec != nil {
		head, rest := split(wire.MarshalRecord(rec))
		segments = 1 + len(rest)
		b.Put(rec.Address[:], head)
		for i, part := range rest {
			pb.Put(partKey(rec.Address, i+1), part)
		}
		// 新版本段数变少时删掉多出来的旧段
		s.deleteParts(pb, rec.Address, segments)
	}
	if err := b.Write(); err != nil {
		b.Discard()
		return storageErr("commit", err)
	}

	for _, v := range victims {
		s.forget(v)
		log.Debug("record evicted", "addr", v.ShortString())
	}
	if rec != nil {
		s.remember(rec, segments)
	}
	s.report()
	return nil
}

// deleteParts 删除 addr 序号不小于 from 的已知分段
func (s *Store) deleteParts(b *kv.Batch, addr types.Address, from int) {
	e, ok := s.index[addr]
	if !ok {
		return
	}
	for i := from; i < e.segments; i++ {
		b.Delete(partKey(addr, i))
	}
}

// Remove 删除记录，不存在不是错误
func (s *Store) Remove(addr types.Address) error {
	if _, ok := s.index[addr]; !ok {
		return nil
	}
	b := s.records.NewBatch()
	b.Delete(addr[:])
	s.deleteParts(b.With(s.parts), addr, 1)
	if err := b.Write(); err != nil {
		b.Discard()
		return storageErr("remove", err)
	}
	s.forget(addr)
	s.report()
	return nil
}

// ============================================================================
//                              索引维护
// ============================================================================

func compareAddr(a, b types.Address) int {
	return bytes.Compare(a[:], b[:])
}

func (s *Store) remember(rec *types.Record, segments int) {
	if old, ok := s.index[rec.Address]; ok {
		s.bytes -= int64(old.size)
	} else {
		i, _ := slices.BinarySearchFunc(s.sorted, rec.Address, compareAddr)
		s.sorted = slices.Insert(s.sorted, i, rec.Address)
	}
	s.index[rec.Address] = &entry{kind: rec.Kind, size: rec.Size(), segments: segments, verified: true}
	s.bytes += int64(rec.Size())
}

func (s *Store) forget(addr types.Address) {
	e, ok := s.index[addr]
	if !ok {
		return
	}
	delete(s.index, addr)
	s.bytes -= int64(e.size)
	if i, found := slices.BinarySearchFunc(s.sorted, addr, compareAddr); found {
		s.sorted = slices.Delete(s.sorted, i, i+1)
	}
}

func (s *Store) report() {
	s.metrics.SetStoredRecords(len(s.index))
	s.metrics.SetStoredBytes(s.bytes)
}

// Stats 存储统计
type Stats struct {
	Records int
	Bytes   int64
	Pinned  int

	// Fill 容量占用比例 [0, 1]，取条数与字节两者中较大的
	Fill float64
}

// Stats 返回统计
func (s *Store) Stats() Stats {
	return Stats{
		Records: len(s.index),
		Bytes:   s.bytes,
		Pinned:  len(s.pins),
		Fill:    s.fill(),
	}
}
