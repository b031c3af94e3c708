package pcap

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/fixtura/internal/models"
)

type readBack struct {
	ci      gopacket.CaptureInfo
	packet  gopacket.Packet
	payload []byte
}

func readAll(t *testing.T, data []byte, first gopacket.LayerType) []readBack {
	t.Helper()

	r, err := pcapgo.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeRaw, r.LinkType())

	var out []readBack
	for {
		raw, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		pkt := gopacket.NewPacket(raw, first, gopacket.Default)
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		require.True(t, ok)

		out = append(out, readBack{ci: ci, packet: pkt, payload: udp.Payload})
	}

	return out
}

func TestWriteIPv4RoundTrip(t *testing.T) {
	packets := [][]byte{
		{0xff, 0xff, 0xff, 0xff, 0x49, 0x11, 0x00},
		[]byte("second packet"),
	}
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, models.ServerAddress{IP: "192.168.1.20", Port: 27016}, packets, ts))

	got := readAll(t, buf.Bytes(), layers.LayerTypeIPv4)
	require.Len(t, got, 2)

	for i, rb := range got {
		assert.Equal(t, packets[i], rb.payload)

		ip, ok := rb.packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		require.True(t, ok)
		assert.Equal(t, "192.168.1.20", ip.SrcIP.String())

		udp := rb.packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		assert.Equal(t, layers.UDPPort(27016), udp.SrcPort)
	}

	assert.True(t, ts.Equal(got[0].ci.Timestamp))
	assert.True(t, got[1].ci.Timestamp.After(got[0].ci.Timestamp))
}

func TestWriteIPv6(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, models.ServerAddress{IP: "2001:db8::1", Port: 9987}, [][]byte{{1, 2, 3}}, time.Now()))

	got := readAll(t, buf.Bytes(), layers.LayerTypeIPv6)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2, 3}, got[0].payload)
}

func TestWriteNoPackets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, models.ServerAddress{IP: "10.0.0.1", Port: 1}, nil, time.Now()))

	assert.Empty(t, readAll(t, buf.Bytes(), layers.LayerTypeIPv4))
}

func TestWriteRejects(t *testing.T) {
	var buf bytes.Buffer

	err := Write(&buf, models.ServerAddress{IP: "not-an-ip", Port: 1}, nil, time.Now())
	assert.ErrorIs(t, err, errBadAddress)

	err = Write(&buf, models.ServerAddress{IP: "10.0.0.1", Port: 1}, [][]byte{make([]byte, maxPayload+1)}, time.Now())
	assert.ErrorIs(t, err, errPacketTooLarge)
}
