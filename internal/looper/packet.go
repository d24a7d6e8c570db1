package looper

import (
	"encoding/binary"
	"math"

	"github.com/smallnest/ringbuffer"

	"github.com/loopforge/engine/internal/dsp"
)

// PacketFrames is the fixed transfer-packet size in stereo frames.
const PacketFrames = 16

// Packet is a small transfer unit crossing the Frontend/Backend boundary.
type Packet struct {
	ID    uint32
	Time  int64
	Size  uint16
	Data  [PacketFrames]dsp.Frame
}

// packetBytes is the wire size of an encoded Packet: id(4) + time(8) +
// size(2) + 16 stereo float32 frames (128).
const packetBytes = 4 + 8 + 2 + PacketFrames*2*4

func encodePacket(p Packet, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], p.ID)
	binary.LittleEndian.PutUint64(buf[4:], uint64(p.Time))
	binary.LittleEndian.PutUint16(buf[12:], p.Size)
	off := 14
	for _, f := range p.Data {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(f[1]))
		off += 8
	}
}

func decodePacket(buf []byte) Packet {
	var p Packet
	p.ID = binary.LittleEndian.Uint32(buf[0:])
	p.Time = int64(binary.LittleEndian.Uint64(buf[4:]))
	p.Size = binary.LittleEndian.Uint16(buf[12:])
	off := 14
	for i := range p.Data {
		l := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		r := math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))
		p.Data[i] = dsp.Frame{l, r}
		off += 8
	}
	return p
}

// PacketQueue is a bounded, single-producer/single-consumer transfer queue
// between a Looper's Frontend and Backend, backed by a byte ring buffer so
// the audio-thread side never allocates and never blocks: a full queue
// drops the packet instead of waiting for the consumer.
type PacketQueue struct {
	rb *ringbuffer.RingBuffer
}

const queueCapacityBytes = 512 * 1024

// NewPacketQueue allocates a PacketQueue sized for queueCapacityBytes /
// packetBytes packets.
func NewPacketQueue() *PacketQueue {
	return &PacketQueue{rb: ringbuffer.New(queueCapacityBytes)}
}

// TryPush writes a packet without blocking; it reports false if the queue
// was full and the packet was dropped. The Free check keeps the write
// all-or-nothing: TryWrite commits partial data when space runs short,
// which would break the fixed-size framing. Safe against the consumer
// because free space only grows from the producer's side.
func (q *PacketQueue) TryPush(p Packet) bool {
	if q.rb.Free() < packetBytes {
		return false
	}
	var buf [packetBytes]byte
	encodePacket(p, buf[:])
	n, err := q.rb.TryWrite(buf[:])
	return err == nil && n == packetBytes
}

// TryPop reads the next packet without blocking; ok is false if the queue
// was empty. The Length check mirrors TryPush's framing guard on the
// consumer side.
func (q *PacketQueue) TryPop() (p Packet, ok bool) {
	if q.rb.Length() < packetBytes {
		return Packet{}, false
	}
	var buf [packetBytes]byte
	n, err := q.rb.TryRead(buf[:])
	if err != nil || n != packetBytes {
		return Packet{}, false
	}
	return decodePacket(buf[:]), true
}

// Len reports the number of whole packets currently queued.
func (q *PacketQueue) Len() int {
	return q.rb.Length() / packetBytes
}

// Capacity reports the maximum number of whole packets the queue can hold.
func (q *PacketQueue) Capacity() int {
	return q.rb.Capacity() / packetBytes
}

// Drain discards all queued packets, used when Clear/Undo/Redo/Speed
// commands flush stale in-flight audio.
func (q *PacketQueue) Drain() {
	for {
		if _, ok := q.TryPop(); !ok {
			return
		}
	}
}
