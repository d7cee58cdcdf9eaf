package network

import (
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// NewListener создаёт слушатель игрового транспорта. Поддерживаются
// tcp (надёжный поток) и kcp (ARQ поверх UDP для каналов с потерями);
// оба отдают net.Listener, дальше соединения обслуживаются одинаково.
func NewListener(transport, addr string) (net.Listener, error) {
	switch transport {
	case "", "tcp":
		return net.Listen("tcp", addr)
	case "kcp":
		ln, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("не удалось открыть KCP слушатель: %w", err)
		}
		return ln, nil
	default:
		return nil, fmt.Errorf("неизвестный транспорт: %q", transport)
	}
}
