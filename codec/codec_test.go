package codec_test

import (
	"math/rand"
	"testing"

	"github.com/go-test/deep"

	"github.com/yusuferdemnacar/robust-file-transfer/codec"
)

// allFrameKinds returns one representative of each of the twelve frame
// variants, exercising the outer edges of their variable-length fields.
func allFrameKinds() []codec.Frame {
	return []codec.Frame{
		codec.AckFrame{PacketID: 42},
		codec.ExitFrame{},
		codec.ConnIDChangeFrame{Old: 0, New: 17},
		codec.FlowControlFrame{Window: 1 << 20},
		codec.AnswerFrame{StreamID: 3, Payload: []byte("hello answer")},
		codec.ErrorFrame{StreamID: 3, Message: "file not found"},
		codec.DataFrame{StreamID: 9, Offset: 1 << 40, Payload: []byte("some file bytes")},
		codec.ReadFrame{StreamID: 1, Flags: codec.ReadFlagResume, Offset: 1000, Length: 5000, Checksum: 0xdeadbeef, Path: "LICENSE"},
		codec.WriteFrame{StreamID: 1, Offset: 0, Length: 100, Path: "upload.bin"},
		codec.ChecksumFrame{StreamID: 2, Path: "LICENSE"},
		codec.StatFrame{StreamID: 2, Path: "LICENSE"},
		codec.ListFrame{StreamID: 0, Path: "."},
	}
}

// TestFrameRoundTrip checks that serialized length always matches
// header_size + payload_length, and that parsing recovers the frame.
func TestFrameRoundTrip(t *testing.T) {
	for _, f := range allFrameKinds() {
		raw := f.Marshal(nil)
		if len(raw) != f.Len() {
			t.Errorf("%v: Len()=%d but Marshal produced %d bytes", f.Type(), f.Len(), len(raw))
		}
		got, n, err := codec.ParseFrame(raw)
		if err != nil {
			t.Fatalf("%v: ParseFrame: %v", f.Type(), err)
		}
		if n != len(raw) {
			t.Errorf("%v: consumed %d bytes, want %d", f.Type(), n, len(raw))
		}
		if diff := deep.Equal(f, got); diff != nil {
			t.Errorf("%v: round trip mismatch: %v", f.Type(), diff)
		}
	}
}

// TestPacketRoundTrip checks parse(serialize(P)) == P and that the
// checksum validates, across an increasing number of frames per packet.
func TestPacketRoundTrip(t *testing.T) {
	frames := allFrameKinds()
	for i := 1; i <= len(frames); i++ {
		p := codec.NewPacket(7, uint32(i), frames[:i])
		raw := p.Marshal()
		got, err := codec.ParsePacket(raw)
		if err != nil {
			t.Fatalf("ParsePacket with %d frames: %v", i, err)
		}
		if diff := deep.Equal(p.Header, got.Header); diff != nil {
			t.Errorf("header mismatch with %d frames: %v", i, diff)
		}
		if diff := deep.Equal(p.Frames, got.Frames); diff != nil {
			t.Errorf("frames mismatch with %d frames: %v", i, diff)
		}
	}
}

// TestChecksumIdempotence checks that recomputing a checksum from an
// already-parsed packet reproduces the same value.
func TestChecksumIdempotence(t *testing.T) {
	p := codec.NewPacket(1, 1, []codec.Frame{codec.DataFrame{StreamID: 1, Offset: 0, Payload: []byte("x")}})
	raw := p.Marshal()

	parsed, err := codec.ParsePacket(raw)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	rebuilt := codec.NewPacket(parsed.Header.ConnectionID, parsed.Header.PacketID, parsed.Frames)
	if rebuilt.Header.Checksum != parsed.Header.Checksum {
		t.Errorf("checksum not idempotent: got %x want %x", rebuilt.Header.Checksum, parsed.Header.Checksum)
	}
}

func TestParsePacketRejectsBadVersion(t *testing.T) {
	p := codec.NewPacket(1, 1, []codec.Frame{codec.ExitFrame{}})
	raw := p.Marshal()
	raw[0] = 2
	if _, err := codec.ParsePacket(raw); err != codec.ErrUnsupportedVersion {
		t.Errorf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestParsePacketRejectsCorruptChecksum(t *testing.T) {
	p := codec.NewPacket(1, 1, []codec.Frame{codec.ExitFrame{}})
	raw := p.Marshal()
	raw[9] ^= 0xFF // flip a checksum byte in the header without touching any frame
	if _, err := codec.ParsePacket(raw); err != codec.ErrChecksumMismatch {
		t.Errorf("got %v, want ErrChecksumMismatch", err)
	}
}

func TestParsePacketTruncated(t *testing.T) {
	p := codec.NewPacket(1, 1, []codec.Frame{codec.DataFrame{StreamID: 1, Offset: 0, Payload: []byte("hello")}})
	raw := p.Marshal()
	if _, err := codec.ParsePacket(raw[:len(raw)-2]); err == nil {
		t.Errorf("expected an error for truncated packet")
	}
}

// TestRandomFrameFuzz is a light property check across randomized payload
// sizes and offsets.
func TestRandomFrameFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		payload := make([]byte, rng.Intn(300))
		rng.Read(payload)
		f := codec.DataFrame{
			StreamID: uint16(rng.Intn(1 << 16)),
			Offset:   uint64(rng.Int63n(1 << 40)),
			Payload:  payload,
		}
		raw := f.Marshal(nil)
		got, n, err := codec.ParseFrame(raw)
		if err != nil || n != len(raw) {
			t.Fatalf("iteration %d: ParseFrame failed: %v", i, err)
		}
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("iteration %d: mismatch: %v", i, diff)
		}
	}
}
