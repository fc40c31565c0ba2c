// Package collab 提供外部协作者的参考实现
//
//   - Ed25519Verifier: 可变记录的所有者签名校验，Owner 为 ed25519 公钥
//   - SetMerger: Register 按条目并集合并，Scratchpad 计数器大者胜出
//   - QuoteVerifier: 接受付给本节点且金额不低于报价的凭证
//   - StaticBootstrap: 固定的引导地址列表
//
// Register 负载是一组分别签名的条目，合并后的记录仍然可以逐条校验；
// Scratchpad 负载是 8 字节大端计数器加数据，整条记录由所有者签名。
package collab
