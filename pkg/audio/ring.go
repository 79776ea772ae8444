package audio

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/smallnest/ringbuffer"
)

// Frame is one unit of PCM audio moving through the relay: either a single
// inbound media chunk or a complete utterance handed to transcription.
type Frame struct {
	Data       []byte
	Timestamp  time.Time
	SampleRate int32
	Channels   int16
}

// DurationMs returns the playback duration of the frame's PCM16 payload.
func (f Frame) DurationMs() int {
	if f.SampleRate == 0 {
		return 0
	}
	ch := int(f.Channels)
	if ch == 0 {
		ch = 1
	}
	samples := len(f.Data) / 2 / ch
	return samples * 1000 / int(f.SampleRate)
}

// MarshalBinary serializes the frame as
// timestamp(8) + sampleRate(4) + channels(2) + dataLen(4) + data.
func (f *Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8+4+2+4+len(f.Data))
	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], uint64(f.Timestamp.UnixNano()))
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(f.SampleRate))
	offset += 4
	binary.LittleEndian.PutUint16(buf[offset:], uint16(f.Channels))
	offset += 2
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(f.Data)))
	offset += 4
	copy(buf[offset:], f.Data)
	return buf, nil
}

// UnmarshalBinary restores a frame serialized by MarshalBinary.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 18 {
		return errors.New("frame payload too short")
	}
	offset := 0
	f.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(data[offset:])))
	offset += 8
	f.SampleRate = int32(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	f.Channels = int16(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	dataLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if len(data[offset:]) < dataLen {
		return errors.New("frame payload truncated")
	}
	f.Data = make([]byte, dataLen)
	copy(f.Data, data[offset:offset+dataLen])
	return nil
}

// FrameRing is a bounded FIFO of frames backed by a byte ring buffer.
// When full, the oldest frames are discarded to make room, so a slow
// consumer degrades to losing old audio rather than blocking the producer.
type FrameRing struct {
	size int
	rb   *ringbuffer.RingBuffer
}

// NewFrameRing creates a ring holding up to size bytes of serialized frames.
func NewFrameRing(size int) *FrameRing {
	return &FrameRing{
		size: size,
		rb:   ringbuffer.New(size).SetBlocking(false),
	}
}

// Capacity returns the ring capacity in bytes.
func (r *FrameRing) Capacity() int {
	return r.size
}

// Len returns the number of buffered bytes.
func (r *FrameRing) Len() int {
	return r.rb.Length()
}

// Enqueue appends a frame, evicting the oldest frames if space is needed.
func (r *FrameRing) Enqueue(f Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}

	required := len(data) + 4
	if required > r.rb.Capacity() {
		return errors.New("frame too large for ring")
	}

	for r.rb.Free() < required {
		if !r.dropOldest() {
			r.rb.Reset()
			break
		}
	}

	sizeBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBytes, uint32(len(data)))
	if _, err := r.rb.Write(sizeBytes); err != nil {
		return err
	}
	_, err = r.rb.Write(data)
	return err
}

// Dequeue removes and returns the oldest frame.
func (r *FrameRing) Dequeue() (Frame, bool) {
	if r.rb.IsEmpty() {
		return Frame{}, false
	}

	sizeBytes := make([]byte, 4)
	if n, err := r.rb.Read(sizeBytes); err != nil || n != 4 {
		return Frame{}, false
	}
	size := int(binary.LittleEndian.Uint32(sizeBytes))

	data := make([]byte, size)
	if n, err := r.rb.Read(data); err != nil || n != size {
		return Frame{}, false
	}

	var f Frame
	if err := f.UnmarshalBinary(data); err != nil {
		return Frame{}, false
	}
	return f, true
}

// dropOldest discards one complete frame from the front of the ring.
func (r *FrameRing) dropOldest() bool {
	if r.rb.IsEmpty() {
		return false
	}
	sizeBytes := make([]byte, 4)
	if n, err := r.rb.Read(sizeBytes); err != nil || n != 4 {
		return false
	}
	size := int(binary.LittleEndian.Uint32(sizeBytes))
	if size > 0 {
		skip := make([]byte, size)
		if n, err := r.rb.Read(skip); err != nil || n != size {
			return false
		}
	}
	return true
}
