package capture

import (
	"fmt"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// WritePcap serializes packets, in the order given, to a pcap file at path.
// A file is produced even when packets is empty.
func WritePcap(path string, packets []Packet) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating pcap file: %w", err)
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("writing pcap header: %w", err)
	}
	for _, p := range packets {
		if err := w.WritePacket(p.Info, p.Data); err != nil {
			f.Close()
			return fmt.Errorf("writing packet: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing pcap file: %w", err)
	}
	return nil
}
