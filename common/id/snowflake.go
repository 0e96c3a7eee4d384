package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
func New() int64 {
	return node.Generate().Int64()
}

// NewString generates a new ID in base58 string form. The remote conversation
// record carries conversation and message IDs as opaque strings; Snowflake IDs
// are time-ordered, which keeps message IDs sortable within a conversation.
func NewString() string {
	return node.Generate().Base58()
}
