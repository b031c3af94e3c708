package fixture

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// MetaPacketsDigest is the metadata key holding the xxh64 digest of the raw packets.
const MetaPacketsDigest = "packets_xxh64"

// packetsVersion is the framing version written by EncodePackets.
const packetsVersion = 1

var errPacketsVersion = errors.New("unsupported packets encoding version")

// packetEnvelope frames the raw packet list before base64 encoding.
type packetEnvelope struct {
	Packets [][]byte `msgpack:"packets"`
	Version int      `msgpack:"v"`
}

// EncodePackets encodes raw packets as base64 text of a versioned msgpack envelope.
func EncodePackets(packets [][]byte) (string, error) {
	data, err := msgpack.Marshal(packetEnvelope{Version: packetsVersion, Packets: packets})
	if err != nil {
		return "", fmt.Errorf("failed to encode packets: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePackets reverses EncodePackets. An empty string decodes to no packets.
func DecodePackets(encoded string) ([][]byte, error) {
	if encoded == "" {
		return [][]byte{}, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("packets are not base64: %w", err)
	}

	var env packetEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("packets envelope: %w", err)
	}
	if env.Version != packetsVersion {
		return nil, fmt.Errorf("%w: %d", errPacketsVersion, env.Version)
	}

	if env.Packets == nil {
		return [][]byte{}, nil
	}

	return env.Packets, nil
}

// PacketsDigest returns the hex xxh64 digest over length-prefixed packets.
func PacketsDigest(packets [][]byte) string {
	h := xxhash.New()

	var size [8]byte
	for _, p := range packets {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		_, _ = h.Write(size[:])
		_, _ = h.Write(p)
	}

	return strconv.FormatUint(h.Sum64(), 16)
}
