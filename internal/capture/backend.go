// Package capture runs the cancellable packet-capture loop for one cycle and
// serializes what it saw to a pcap file.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// snapLen is the per-packet capture length, also recorded in the pcap header.
const snapLen = 65536

// ErrSetup marks backend failures that cannot be retried on the next poll,
// such as an interface that does not exist. The controller stops polling when
// it sees one; everything else is treated as transient.
var ErrSetup = errors.New("capture setup failed")

// Packet is one captured frame plus its pcap metadata. The payload is opaque
// to this program; packets are only accumulated and written out.
type Packet struct {
	Info gopacket.CaptureInfo
	Data []byte
}

// Backend captures traffic in bounded slices. CaptureFor blocks for at most
// roughly timeout even when the interface is silent; that bound is what makes
// cancellation between polls reliable.
type Backend interface {
	CaptureFor(iface, filter string, timeout time.Duration) ([]Packet, error)
}

// LiveBackend captures from a real interface via libpcap. The handle is opened
// lazily on the first poll and reused for the rest of the process, so the BPF
// filter compiles once.
type LiveBackend struct {
	mu     sync.Mutex
	handle *pcap.Handle
}

// NewLiveBackend returns an unopened live backend.
func NewLiveBackend() *LiveBackend {
	return &LiveBackend{}
}

func (b *LiveBackend) open(iface, filter string, timeout time.Duration) (*pcap.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle != nil {
		return b.handle, nil
	}

	handle, err := pcap.OpenLive(iface, snapLen, true, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrSetup, iface, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w: filter %q: %w", ErrSetup, filter, err)
		}
	}
	b.handle = handle
	return handle, nil
}

// CaptureFor reads packets until timeout has elapsed. A silent interface
// costs one libpcap read timeout; packets arriving close to the deadline may
// stretch the call by at most one more.
func (b *LiveBackend) CaptureFor(iface, filter string, timeout time.Duration) ([]Packet, error) {
	handle, err := b.open(iface, filter, timeout)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	var out []Packet
	for time.Now().Before(deadline) {
		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			return out, fmt.Errorf("reading from %s: %w", iface, err)
		}
		out = append(out, Packet{Info: ci, Data: data})
	}
	return out, nil
}

// Close releases the pcap handle, if one was opened.
func (b *LiveBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle != nil {
		b.handle.Close()
		b.handle = nil
	}
}
