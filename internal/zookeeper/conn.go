// internal/zookeeper/conn.go
package zookeeper

import (
	"time"

	"fooddelivery/internal/pkg/logger"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

// Conn 包装 zk.Conn，并把 zk 客户端自身的日志转到 zerolog。
type Conn struct {
	*zk.Conn
}

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	logger.L().Debug().Msgf("zookeeper: "+format, args...)
}

// Connect 连接 ZooKeeper 集群，等待首次会话建立或超时。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, errors.New("zookeeper: no server configured")
	}
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, errors.Wrapf(err, "connect zookeeper %v", servers)
	}

	timeout := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				logger.L().Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper.")
				return &Conn{Conn: conn}, nil
			}
		case <-timeout:
			conn.Close()
			return nil, errors.Errorf("zookeeper: no session within %s", sessionTimeout)
		}
	}
}
