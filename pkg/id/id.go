package id

import (
	"hash/fnv"
	"os"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("id",
	fx.Provide(NewNode),
)

// NewNode builds the process-wide snowflake generator. The node number is
// derived from the hostname so replicas get distinct id spaces without
// coordination.
func NewNode() (*snowflake.Node, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "contentplane"
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(hostname))

	return snowflake.NewNode(int64(h.Sum32() % 1024))
}
