package types

import "fmt"

// CloseGroupSize 副本组大小 K
const CloseGroupSize = 5

// CloseGroupMajority 副本组多数
func CloseGroupMajority() int {
	return CloseGroupSize/2 + 1
}

// Quorum 分布式读取需要的一致副本数
type Quorum struct {
	kind quorumKind
	n    int
}

type quorumKind uint8

const (
	quorumOne quorumKind = iota
	quorumMajority
	quorumAll
	quorumN
)

var (
	// QuorumOne 一份有效副本即可
	QuorumOne = Quorum{kind: quorumOne}
	// QuorumMajority 副本组多数
	QuorumMajority = Quorum{kind: quorumMajority}
	// QuorumAll 副本组全部
	QuorumAll = Quorum{kind: quorumAll}
)

// QuorumN 指定数量，n < 1 视为 1
func QuorumN(n int) Quorum {
	if n < 1 {
		n = 1
	}
	return Quorum{kind: quorumN, n: n}
}

// Required 需要的副本数
func (q Quorum) Required() int {
	switch q.kind {
	case quorumMajority:
		return CloseGroupMajority()
	case quorumAll:
		return CloseGroupSize
	case quorumN:
		return q.n
	default:
		return 1
	}
}

// IsOne 是否只需一份
func (q Quorum) IsOne() bool {
	return q.Required() == 1
}

func (q Quorum) String() string {
	switch q.kind {
	case quorumMajority:
		return "majority"
	case quorumAll:
		return "all"
	case quorumN:
		return fmt.Sprintf("n(%d)", q.n)
	default:
		return "one"
	}
}
