package recordnet

import "errors"

var (
	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("recordnet: node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("recordnet: node already started")

	// ErrNodeClosed 节点已停止，不能再次启动
	ErrNodeClosed = errors.New("recordnet: node closed")
)
