// Package pcap exports captured raw packets as a pcap stream so they can be inspected in Wireshark.
package pcap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/woozymasta/fixtura/internal/models"
)

const (
	snapLen = 65536

	// clientPort is the UDP port of the synthetic querying side.
	clientPort = 27005

	// maxPayload fits a UDP datagram over IPv4 or IPv6 without jumbograms.
	maxPayload = 65535 - 8 - 20

	// packetGap spaces consecutive packets in the capture timeline.
	packetGap = time.Millisecond
)

var (
	errBadAddress     = errors.New("server address is not an IP")
	errPacketTooLarge = errors.New("packet does not fit a UDP datagram")
)

// Write encodes packets as UDP datagrams sent by addr to a local client and writes them to w
// as a LINKTYPE_RAW pcap stream. The first packet is stamped with ts.
func Write(w io.Writer, addr models.ServerAddress, packets [][]byte, ts time.Time) error {
	src := net.ParseIP(addr.IP)
	if src == nil {
		return fmt.Errorf("%w: %q", errBadAddress, addr.IP)
	}

	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}

	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	for i, payload := range packets {
		if len(payload) > maxPayload {
			return fmt.Errorf("%w: packet %d has %d bytes", errPacketTooLarge, i, len(payload))
		}

		buf := gopacket.NewSerializeBuffer()
		network := networkLayer(src)

		udp := &layers.UDP{
			SrcPort: layers.UDPPort(addr.Port),
			DstPort: clientPort,
		}
		if err := udp.SetNetworkLayerForChecksum(network); err != nil {
			return err
		}

		if err := gopacket.SerializeLayers(buf, opts, network, udp, gopacket.Payload(payload)); err != nil {
			return fmt.Errorf("failed to serialize packet %d: %w", i, err)
		}

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * packetGap),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pw.WritePacket(ci, data); err != nil {
			return fmt.Errorf("failed to write packet %d: %w", i, err)
		}
	}

	return nil
}

type ipLayer interface {
	gopacket.NetworkLayer
	gopacket.SerializableLayer
}

// networkLayer builds the IP header for a datagram from src to the loopback of the same family.
func networkLayer(src net.IP) ipLayer {
	if v4 := src.To4(); v4 != nil {
		return &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    v4,
			DstIP:    net.IPv4(127, 0, 0, 1).To4(),
		}
	}

	return &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      src,
		DstIP:      net.IPv6loopback,
	}
}
