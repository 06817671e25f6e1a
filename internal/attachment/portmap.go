package attachment

import (
	"fmt"
	"net/netip"
)

// vmForwarded is the pseudo-address of ports the VM hypervisor forwards from all its addresses.
const vmForwarded = "vm-forwarded"

// portMap tracks the (IP, port) pairs claimed by the attachments of one UserAS.
type portMap struct {
	used map[string]int // key -> index of the claiming conf
}

func newPortMap() *portMap {
	return &portMap{used: make(map[string]int)}
}

func portKey(ip string, port int) string {
	if addr, err := netip.ParseAddr(ip); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), uint16(port)).String()
	}
	return fmt.Sprintf("%s:%d", ip, port)
}

// claim records the pair for conf idx. It returns the index of the conf that claimed the pair
// first, and false if the pair was still free.
func (m *portMap) claim(ip string, port, idx int) (int, bool) {
	key := portKey(ip, port)
	if prev, ok := m.used[key]; ok && prev != idx {
		return prev, true
	}
	m.used[key] = idx
	return 0, false
}
