package metrics

import (
	"github.com/dep2p/go-recordnet/pkg/interfaces"
	"github.com/dep2p/go-recordnet/pkg/types"
)

type nop struct{}

// Nop 丢弃所有指标
func Nop() interfaces.Metrics { return nop{} }

func (nop) SetStoredRecords(int)                            {}
func (nop) SetStoredBytes(int64)                            {}
func (nop) SetRoutingTableSize(int)                         {}
func (nop) PutOutcome(types.RecordKind, types.RejectReason) {}
func (nop) ReplicationSucceeded()                           {}
func (nop) ReplicationFailed()                              {}
func (nop) ReplicationRetried()                             {}
func (nop) ObserveQuery(string, float64, string)            {}

// OrNop nil 时返回 Nop
func OrNop(m interfaces.Metrics) interfaces.Metrics {
	if m == nil {
		return Nop()
	}
	return m
}
