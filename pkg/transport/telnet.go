package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/ziutek/telnet"
)

// Telnet 返回 telnet 拨号器；选项协商由 telnet 库处理。
func Telnet(opts Options) Dialer {
	port := opts.Port
	if port <= 0 {
		port = DefaultTelnetPort
	}
	return func(ctx context.Context, address string) (Transport, error) {
		target := hostPort(address, port)
		d := &net.Dialer{Timeout: opts.dialTimeout()}
		nc, err := d.DialContext(ctx, "tcp", target)
		if err != nil {
			return nil, fmt.Errorf("failed to dial telnet %s: %w", target, err)
		}
		conn, err := telnet.NewConn(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to open telnet %s: %w", target, err)
		}
		return Wrap(conn, opts.Mode, opts.poll()), nil
	}
}
