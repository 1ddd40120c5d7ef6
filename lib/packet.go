package lib

import (
	"encoding/binary"
	"hash/crc32"
	"strconv"
	"strings"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"

	"github.com/CREVIOS/Computer-Networking/logger"
)

// SackBlock is a half-open [Start, End) byte range of data the receiver
// holds ahead of its cumulative position.
type SackBlock struct {
	Start int
	End   int
}

// Packet is the wire unit of the engine. SeqNum is the 1-based byte
// offset of the first payload byte, 0 for control-only packets. AckNum
// is the next byte offset the sender of the packet expects.
type Packet struct {
	SeqNum     int
	AckNum     int
	Flags      uint8
	WindowSize int
	Timestamp  int64 // unix milliseconds at capture, informational
	Checksum   uint32
	MssOption  int // 0 means the option is absent
	SackBlocks []SackBlock
	Payload    []byte      // slice into the pooled chunk when chunk is set
	chunk      *rp.Element // memory chunk holding the payload bytes
}

// NewPacket builds a packet and seals its integrity code. A non-empty
// payload is copied into a pooled chunk owned by the returned packet.
func NewPacket(seqNum, ackNum int, flags uint8, windowSize int, payload []byte) *Packet {
	p := &Packet{
		SeqNum:     seqNum,
		AckNum:     ackNum,
		Flags:      flags,
		WindowSize: windowSize,
		Timestamp:  time.Now().UnixMilli(),
	}
	if len(payload) > 0 {
		if err := p.CopyToPayload(payload); err != nil {
			logger.Errorf("NewPacket: %s", err)
			return nil
		}
	}
	p.Checksum = p.CalculateChecksum()
	return p
}

// FormatFlags renders the flag bits as the 4-character binary string the
// wire format carries, SYN in the high position.
func FormatFlags(flags uint8) string {
	var b [4]byte
	for i := 0; i < 4; i++ {
		if flags&(1<<(3-i)) != 0 {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b[:])
}

// ParseFlags parses a 4-character binary flag string back to flag bits.
func ParseFlags(s string) (uint8, error) {
	if len(s) != 4 {
		return 0, &WireDecodeError{Reason: "flag field must be 4 characters", Line: s}
	}
	v, err := strconv.ParseUint(s, 2, 8)
	if err != nil {
		return 0, &WireDecodeError{Reason: "flag field is not binary", Line: s}
	}
	return uint8(v), nil
}

// CalculateChecksum computes the CRC32 integrity code over the sequence
// number, ack number, flag string bytes, window size, payload length and
// payload bytes. Timestamp and option blocks stay outside the code: they
// are informational and may be rewritten without invalidating the packet.
func (p *Packet) CalculateChecksum() uint32 {
	crc := crc32.NewIEEE()
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(p.SeqNum))
	crc.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(p.AckNum))
	crc.Write(buf[:])
	crc.Write([]byte(FormatFlags(p.Flags)))
	binary.BigEndian.PutUint32(buf[:], uint32(p.WindowSize))
	crc.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(len(p.Payload)))
	crc.Write(buf[:])
	if len(p.Payload) > 0 {
		crc.Write(p.Payload)
	}
	return crc.Sum32()
}

// VerifyChecksum recomputes the integrity code and compares it with the
// one carried by the packet.
func (p *Packet) VerifyChecksum() bool {
	return p.Checksum == p.CalculateChecksum()
}

// Marshal serializes the packet into its textual wire form:
//
//	seq ack flags window payloadLen timestamp checksum [MSS <n>] [SACK <count> start end ...] [payloadByte]*
//
// Payload bytes are rendered as individual signed decimal tokens.
func (p *Packet) Marshal() []byte {
	var fp int
	if rp.Debug && p.GetChunkReference() != nil {
		fp = p.AddFootPrint("packet.Marshal")
	}

	var sb strings.Builder
	sb.Grow(64 + 4*len(p.Payload))
	sb.WriteString(strconv.Itoa(p.SeqNum))
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(p.AckNum))
	sb.WriteByte(' ')
	sb.WriteString(FormatFlags(p.Flags))
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(p.WindowSize))
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(len(p.Payload)))
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(p.Timestamp, 10))
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatUint(uint64(p.Checksum), 10))

	if p.MssOption > 0 {
		sb.WriteString(" MSS ")
		sb.WriteString(strconv.Itoa(p.MssOption))
	}

	if len(p.SackBlocks) > 0 {
		sb.WriteString(" SACK ")
		sb.WriteString(strconv.Itoa(len(p.SackBlocks)))
		for _, b := range p.SackBlocks {
			sb.WriteByte(' ')
			sb.WriteString(strconv.Itoa(b.Start))
			sb.WriteByte(' ')
			sb.WriteString(strconv.Itoa(b.End))
		}
	}

	for _, c := range p.Payload {
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(int(int8(c))))
	}

	if rp.Debug && p.chunk != nil {
		p.chunk.TickFootPrint(fp)
	}
	return []byte(sb.String())
}

// Unmarshal parses a wire message into p. Any structural inconsistency
// yields a WireDecodeError; the caller skips the message. A non-empty
// payload is copied into a pooled chunk owned by p.
func (p *Packet) Unmarshal(data []byte) error {
	fields := strings.Fields(string(data))
	if len(fields) < 7 {
		return newDecodeError(data, "truncated header: %d of 7 fixed fields", len(fields))
	}

	seqNum, err := strconv.Atoi(fields[0])
	if err != nil {
		return newDecodeError(data, "bad sequence number %q", fields[0])
	}
	ackNum, err := strconv.Atoi(fields[1])
	if err != nil {
		return newDecodeError(data, "bad ack number %q", fields[1])
	}
	flags, err := ParseFlags(fields[2])
	if err != nil {
		return newDecodeError(data, "bad flag field %q", fields[2])
	}
	windowSize, err := strconv.Atoi(fields[3])
	if err != nil {
		return newDecodeError(data, "bad window size %q", fields[3])
	}
	payloadLen, err := strconv.Atoi(fields[4])
	if err != nil || payloadLen < 0 || payloadLen > maxPayloadBufferSize {
		return newDecodeError(data, "bad payload length %q", fields[4])
	}
	timestamp, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return newDecodeError(data, "bad timestamp %q", fields[5])
	}
	checksum, err := strconv.ParseUint(fields[6], 10, 32)
	if err != nil {
		return newDecodeError(data, "bad checksum %q", fields[6])
	}

	p.SeqNum = seqNum
	p.AckNum = ackNum
	p.Flags = flags
	p.WindowSize = windowSize
	p.Timestamp = timestamp
	p.Checksum = uint32(checksum)
	p.MssOption = 0
	p.SackBlocks = nil

	idx := 7
options:
	for idx < len(fields) {
		switch fields[idx] {
		case "MSS":
			if idx+1 >= len(fields) {
				return newDecodeError(data, "MSS option without value")
			}
			mss, err := strconv.Atoi(fields[idx+1])
			if err != nil || mss <= 0 {
				return newDecodeError(data, "bad MSS value %q", fields[idx+1])
			}
			p.MssOption = mss
			idx += 2
		case "SACK":
			if idx+1 >= len(fields) {
				return newDecodeError(data, "SACK option without count")
			}
			count, err := strconv.Atoi(fields[idx+1])
			if err != nil || count < 0 {
				return newDecodeError(data, "bad SACK count %q", fields[idx+1])
			}
			idx += 2
			if idx+2*count > len(fields) {
				return newDecodeError(data, "SACK option truncated: %d ranges promised", count)
			}
			blocks := make([]SackBlock, 0, count)
			for i := 0; i < count; i++ {
				start, err := strconv.Atoi(fields[idx])
				if err != nil {
					return newDecodeError(data, "bad SACK range start %q", fields[idx])
				}
				end, err := strconv.Atoi(fields[idx+1])
				if err != nil {
					return newDecodeError(data, "bad SACK range end %q", fields[idx+1])
				}
				blocks = append(blocks, SackBlock{Start: start, End: end})
				idx += 2
			}
			p.SackBlocks = blocks
		default:
			// first payload token
			break options
		}
	}

	remaining := fields[idx:]
	if len(remaining) != payloadLen {
		return newDecodeError(data, "payload token count %d does not match declared length %d", len(remaining), payloadLen)
	}
	if payloadLen == 0 {
		p.Payload = nil
		return nil
	}

	buf := make([]byte, payloadLen)
	for i, tok := range remaining {
		v, err := strconv.Atoi(tok)
		if err != nil || v < -128 || v > 255 {
			return newDecodeError(data, "bad payload byte %q", tok)
		}
		buf[i] = byte(v)
	}
	if err := p.CopyToPayload(buf); err != nil {
		return newDecodeError(data, "payload copy: %s", err)
	}

	if rp.Debug && p.GetChunkReference() != nil {
		fp := p.AddFootPrint("packet.Unmarshal")
		p.TickFootPrint(fp)
	}
	return nil
}

// Duplicate makes a standalone copy of the packet with its own chunk.
func (p *Packet) Duplicate() *Packet {
	dPacket := NewPacket(p.SeqNum, p.AckNum, p.Flags, p.WindowSize, p.Payload)
	dPacket.MssOption = p.MssOption
	dPacket.SackBlocks = append([]SackBlock(nil), p.SackBlocks...)
	return dPacket
}

// CopyToPayload borrows a chunk from the pool and copies src into it.
func (p *Packet) CopyToPayload(src []byte) error {
	p.GetChunk()
	err := p.chunk.Data.(*Payload).Copy(src)
	if err != nil {
		p.ReturnChunk()
		return err
	}
	p.Payload = p.chunk.Data.(*Payload).GetSlice()
	return nil
}

// ReturnChunk gives the payload chunk back to the pool.
func (p *Packet) ReturnChunk() {
	if p.chunk != nil {
		Pool.ReturnElement(p.chunk)
		p.chunk = nil
		p.Payload = nil
	}
}

func (p *Packet) GetChunk() {
	if Pool == nil {
		// pool created on demand when no explicit InitPool ran
		InitPool(defaultPoolCapacity, bufferLength, false, 0)
	}
	if p.chunk == nil {
		p.chunk = Pool.GetElement()
	}
}

func (p *Packet) GetChunkReference() *rp.Element {
	return p.chunk
}

func (p *Packet) AddFootPrint(fpStr string) int {
	return p.chunk.AddFootPrint(fpStr)
}

func (p *Packet) TickFootPrint(fp int) {
	p.chunk.TickFootPrint(fp)
}

func (p *Packet) AddChannel(chanStr string) {
	p.chunk.AddChannel(chanStr)
}

func (p *Packet) TickChannel() {
	if err := p.chunk.TickChannel(); err != nil {
		logger.Errorf("packet.TickChannel: %s", err)
	}
}
