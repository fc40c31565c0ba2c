// Package recordnet 内容寻址记录网络的节点
//
// 节点把记录保存在离记录地址最近的 K 个节点上（副本组），
// 付费写入、多数法定数读取，并在成员变化时自动维护副本。
//
// 快速开始：
//
//	cfg := config.Default()
//	cfg.Bootstrap.Peers = []string{"/ip4/10.0.0.1/tcp/4001"}
//
//	node, err := recordnet.New(cfg)
//	if err != nil { ... }
//	if err := node.Start(ctx); err != nil { ... }
//	defer node.Stop(context.Background())
//
//	h := node.Handle()
//	price, _ := h.GetStoreQuote(ctx, chunk.Address, chunk.Size())
//	out, _ := h.PutRecord(ctx, chunk, proofFor(price))
//	rec, _ := h.GetRecord(ctx, chunk.Address)
//
// 组件通过 fx 组装：存储（BadgerDB）、记录存储、TCP+yamux 网络、
// 网络引擎与指标。协作者（签名校验、合并、支付校验）可以通过 Option 替换。
package recordnet
