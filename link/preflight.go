package link

import (
	"net"
	"time"
)

// CheckUDPPortAvailable probes whether port can be bound right now, by
// binding and immediately closing. Used as a startup sanity check before
// Link.Start so a port conflict is reported clearly instead of surfacing
// only as the wrapped bind error returned by Link.Start.
func CheckUDPPortAvailable(port uint16) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	c, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	_ = c.SetDeadline(time.Now())
	return c.Close()
}
