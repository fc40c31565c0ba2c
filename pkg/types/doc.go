// Package types 定义 recordnet 的基础类型
//
// 最底层的包，不依赖任何 recordnet 内部包。地址、节点 ID、
// 记录、支付凭证和报价都是值类型，在各模块之间按值传递。
//
// 地址空间是 256 位；节点 ID 与记录地址处于同一空间，
// 距离为按位异或，比较时按大端无符号整数解释。
package types
