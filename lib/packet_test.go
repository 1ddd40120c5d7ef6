package lib

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestFormatFlags(t *testing.T) {
	tests := []struct {
		flags    uint8
		expected string
	}{
		{SYNFlag, "1000"},
		{ACKFlag, "0100"},
		{DATAFlag, "0010"},
		{FINFlag, "0001"},
		{SYNFlag | ACKFlag, "1100"},
		{FINFlag | ACKFlag, "0101"},
		{0, "0000"},
	}
	for _, tt := range tests {
		if got := FormatFlags(tt.flags); got != tt.expected {
			t.Errorf("For flags %04b, expected %q, but got %q", tt.flags, tt.expected, got)
		}
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		input    string
		expected uint8
		wantErr  bool
	}{
		{"1000", SYNFlag, false},
		{"0100", ACKFlag, false},
		{"0010", DATAFlag, false},
		{"0001", FINFlag, false},
		{"1100", SYNFlag | ACKFlag, false},
		{"0101", FINFlag | ACKFlag, false},
		{"100", 0, true},
		{"10001", 0, true},
		{"10a0", 0, true},
		{"1200", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFlags(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("For %q, expected an error, but got flags %04b", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("For %q, unexpected error: %s", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("For %q, expected %04b, but got %04b", tt.input, tt.expected, got)
		}
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	payload := []byte{0, 1, 127, 128, 200, 255}
	p := NewPacket(2001, 0, DATAFlag, 65536, payload)
	defer p.ReturnChunk()
	p.MssOption = 1200
	p.SackBlocks = []SackBlock{{Start: 3001, End: 3101}, {Start: 3201, End: 3301}}

	got := &Packet{}
	if err := got.Unmarshal(p.Marshal()); err != nil {
		t.Fatalf("Unmarshal failed: %s", err)
	}
	defer got.ReturnChunk()

	if got.SeqNum != p.SeqNum || got.AckNum != p.AckNum || got.Flags != p.Flags ||
		got.WindowSize != p.WindowSize || got.Timestamp != p.Timestamp || got.Checksum != p.Checksum {
		t.Errorf("Header fields did not survive the round trip: got %+v", got)
	}
	if got.MssOption != 1200 {
		t.Errorf("Expected MSS option 1200, but got %d", got.MssOption)
	}
	if len(got.SackBlocks) != 2 || got.SackBlocks[0] != p.SackBlocks[0] || got.SackBlocks[1] != p.SackBlocks[1] {
		t.Errorf("Expected SACK blocks %v, but got %v", p.SackBlocks, got.SackBlocks)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("Expected payload %v, but got %v", payload, got.Payload)
	}
	if !got.VerifyChecksum() {
		t.Error("Round-tripped packet failed its integrity check")
	}
}

func TestMarshalRendersSignedPayloadTokens(t *testing.T) {
	p := NewPacket(1, 0, DATAFlag, 65536, []byte{0, 127, 128, 255})
	defer p.ReturnChunk()
	wire := string(p.Marshal())
	if !strings.HasSuffix(wire, " 0 127 -128 -1") {
		t.Errorf("Expected signed payload tokens at the end of %q", wire)
	}
}

func TestUnmarshalAcceptsUnsignedPayloadTokens(t *testing.T) {
	p := NewPacket(1, 0, DATAFlag, 65536, []byte{128, 255})
	defer p.ReturnChunk()
	wire := string(p.Marshal())
	unsigned := strings.Replace(wire, " -128 -1", " 128 255", 1)
	if unsigned == wire {
		t.Fatalf("Test line did not contain the signed tokens: %q", wire)
	}

	got := &Packet{}
	if err := got.Unmarshal([]byte(unsigned)); err != nil {
		t.Fatalf("Unmarshal failed: %s", err)
	}
	defer got.ReturnChunk()
	if !bytes.Equal(got.Payload, []byte{128, 255}) {
		t.Errorf("Expected payload [128 255], but got %v", got.Payload)
	}
	if !got.VerifyChecksum() {
		t.Error("Unsigned rendering of the same bytes failed the integrity check")
	}
}

func TestChecksumDetectsDamage(t *testing.T) {
	p := NewPacket(101, 0, DATAFlag, 65536, []byte("hello transport"))
	defer p.ReturnChunk()
	if !p.VerifyChecksum() {
		t.Fatal("Fresh packet failed its integrity check")
	}
	damaged := *p
	damaged.Checksum += checksumSkew
	if damaged.VerifyChecksum() {
		t.Error("Expected the skewed integrity code to fail verification")
	}
}

func TestChecksumIgnoresTimestampAndOptions(t *testing.T) {
	a := NewPacket(501, 601, ACKFlag, 32768, nil)
	b := NewPacket(501, 601, ACKFlag, 32768, nil)
	b.Timestamp = a.Timestamp + 5000
	b.MssOption = 536
	b.SackBlocks = []SackBlock{{Start: 700, End: 800}}
	if a.CalculateChecksum() != b.CalculateChecksum() {
		t.Error("Timestamp and options must stay outside the integrity code")
	}
}

func TestUnmarshalRejectsMalformedMessages(t *testing.T) {
	sample := NewPacket(1, 0, DATAFlag, 65536, []byte{5, 6})
	defer sample.ReturnChunk()
	fields := strings.Fields(string(sample.Marshal()))
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"truncated header", "1 0 0010 65536"},
		{"bad seq", "x 0 0010 65536 0 0 0"},
		{"bad ack", "1 x 0010 65536 0 0 0"},
		{"bad flags", "1 0 210 65536 0 0 0"},
		{"bad window", "1 0 0010 x 0 0 0"},
		{"negative payload length", "1 0 0010 65536 -1 0 0"},
		{"oversized payload length", "1 0 0010 65536 70000 0 0"},
		{"bad timestamp", "1 0 0010 65536 0 x 0"},
		{"bad checksum", "1 0 0010 65536 0 0 x"},
		{"payload count mismatch", strings.Join(fields[:len(fields)-1], " ")},
		{"payload byte out of range", strings.Join(append(append([]string(nil), fields[:len(fields)-2]...), "300", "6"), " ")},
		{"mss without value", "1 0 0010 65536 0 0 0 MSS"},
		{"sack without count", "1 0 0100 65536 0 0 0 SACK"},
		{"sack truncated", "1 0 0100 65536 0 0 0 SACK 2 100 200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Packet{}
			err := p.Unmarshal([]byte(tt.line))
			if err == nil {
				t.Fatalf("Expected a decode error for %q, but got none", tt.line)
			}
			var decodeErr *WireDecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("Expected a WireDecodeError, but got %T: %s", err, err)
			}
		})
	}
}

func TestDuplicateIsIndependent(t *testing.T) {
	p := NewPacket(301, 0, DATAFlag, 65536, []byte{1, 2, 3})
	d := p.Duplicate()
	p.ReturnChunk()
	if !bytes.Equal(d.Payload, []byte{1, 2, 3}) {
		t.Errorf("Duplicate payload changed after the original was released: %v", d.Payload)
	}
	d.ReturnChunk()
}

func TestControlPacketsCarryNoPayload(t *testing.T) {
	for _, flags := range []uint8{SYNFlag, ACKFlag, FINFlag, SYNFlag | ACKFlag, FINFlag | ACKFlag} {
		p := NewPacket(0, 42, flags, 65536, nil)
		wire := string(p.Marshal())
		got := &Packet{}
		if err := got.Unmarshal([]byte(wire)); err != nil {
			t.Errorf("For flags %s, unmarshal failed: %s", FormatFlags(flags), err)
			continue
		}
		if len(got.Payload) != 0 {
			t.Errorf("For flags %s, expected no payload, but got %d bytes", FormatFlags(flags), len(got.Payload))
		}
		if !got.VerifyChecksum() {
			t.Errorf("For flags %s, control packet failed its integrity check", FormatFlags(flags))
		}
	}
}

