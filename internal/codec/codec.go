// Package codec reads and writes recording files.
//
// A recording file is the magic "PTRK", a little-endian uint16 format
// version, a protobuf-encoded Recording message (see api/recording.proto)
// and a little-endian IEEE CRC-32 of that message. Fields are written in
// field-number order with every double present, so equal snapshots encode
// to equal bytes.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vincentbai/posetrace-agent/internal/models"
	"github.com/vincentbai/posetrace-agent/internal/track"
)

const Version uint16 = 1

var magic = []byte("PTRK")

const headerLen = 4 + 2
const trailerLen = 4

var (
	ErrBadMagic    = errors.New("not a recording file")
	ErrBadVersion  = errors.New("unsupported recording version")
	ErrBadChecksum = errors.New("checksum mismatch")
	ErrTruncated   = errors.New("truncated recording")
)

// CorruptFileError reports a recording that cannot be decoded.
type CorruptFileError struct {
	Offset int // offset into the message body, -1 when not applicable
	Err    error
}

func (e *CorruptFileError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("corrupt recording: %v", e.Err)
	}
	return fmt.Sprintf("corrupt recording at body offset %d: %v", e.Offset, e.Err)
}

func (e *CorruptFileError) Unwrap() error {
	return e.Err
}

// Field numbers of the Recording, Track and Keyframe messages.
const (
	recordingSessionID protowire.Number = 1
	recordingScene     protowire.Number = 2
	recordingNextFrame protowire.Number = 3
	recordingTracks    protowire.Number = 4

	trackName      protowire.Number = 1
	trackKeyframes protowire.Number = 2

	keyframeFrame protowire.Number = 1
	keyframeTX    protowire.Number = 2
	keyframeTY    protowire.Number = 3
	keyframeTZ    protowire.Number = 4
	keyframeQW    protowire.Number = 5
	keyframeQX    protowire.Number = 6
	keyframeQY    protowire.Number = 7
	keyframeQZ    protowire.Number = 8
)

// Marshal encodes s. It refuses snapshots that Unmarshal would reject.
func Marshal(s models.Snapshot) ([]byte, error) {
	if err := validate(s); err != nil {
		return nil, err
	}

	var body []byte
	body = protowire.AppendTag(body, recordingSessionID, protowire.BytesType)
	body = protowire.AppendString(body, s.SessionID)
	body = protowire.AppendTag(body, recordingScene, protowire.BytesType)
	body = protowire.AppendString(body, s.Scene)
	body = protowire.AppendTag(body, recordingNextFrame, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(s.NextFrame))
	for _, t := range s.Tracks {
		body = protowire.AppendTag(body, recordingTracks, protowire.BytesType)
		body = protowire.AppendBytes(body, appendTrack(nil, t))
	}

	out := make([]byte, 0, headerLen+len(body)+trailerLen)
	out = append(out, magic...)
	out = binary.LittleEndian.AppendUint16(out, Version)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
	return out, nil
}

func appendTrack(b []byte, t models.Track) []byte {
	b = protowire.AppendTag(b, trackName, protowire.BytesType)
	b = protowire.AppendString(b, t.Name)
	for _, k := range t.Keyframes {
		b = protowire.AppendTag(b, trackKeyframes, protowire.BytesType)
		b = protowire.AppendBytes(b, appendKeyframe(nil, k))
	}
	return b
}

func appendKeyframe(b []byte, k models.Keyframe) []byte {
	tr, rot := k.Transform.Translation, k.Transform.Rotation
	b = protowire.AppendTag(b, keyframeFrame, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.Frame))
	for i, v := range [7]float64{tr[0], tr[1], tr[2], rot.W, rot.V[0], rot.V[1], rot.V[2]} {
		b = protowire.AppendTag(b, keyframeTX+protowire.Number(i), protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// Unmarshal decodes a recording. Any structural problem yields a
// *CorruptFileError and a zero Snapshot.
func Unmarshal(data []byte) (models.Snapshot, error) {
	if len(data) < headerLen+trailerLen {
		if len(data) >= len(magic) && !bytes.Equal(data[:len(magic)], magic) {
			return models.Snapshot{}, &CorruptFileError{Offset: -1, Err: ErrBadMagic}
		}
		return models.Snapshot{}, &CorruptFileError{Offset: -1, Err: ErrTruncated}
	}
	if !bytes.Equal(data[:len(magic)], magic) {
		return models.Snapshot{}, &CorruptFileError{Offset: -1, Err: ErrBadMagic}
	}
	if v := binary.LittleEndian.Uint16(data[len(magic):headerLen]); v != Version {
		return models.Snapshot{}, &CorruptFileError{Offset: -1, Err: fmt.Errorf("%w: %d", ErrBadVersion, v)}
	}
	body := data[headerLen : len(data)-trailerLen]
	if sum := binary.LittleEndian.Uint32(data[len(data)-trailerLen:]); sum != crc32.ChecksumIEEE(body) {
		return models.Snapshot{}, &CorruptFileError{Offset: -1, Err: ErrBadChecksum}
	}

	d := decoder{}
	s, err := d.recording(body)
	if err != nil {
		return models.Snapshot{}, &CorruptFileError{Offset: d.offset, Err: err}
	}
	if err := validate(s); err != nil {
		return models.Snapshot{}, &CorruptFileError{Offset: -1, Err: err}
	}
	return s, nil
}

// decoder tracks the body offset of the message being read for error
// reporting.
type decoder struct {
	offset int
}

// fields walks the top-level fields of msg, calling fn with each field's
// number, type and raw value. base is msg's offset within the body.
func (d *decoder) fields(msg []byte, base int, fn func(num protowire.Number, typ protowire.Type, value []byte, at int) error) error {
	pos := 0
	for pos < len(msg) {
		d.offset = base + pos
		num, typ, n := protowire.ConsumeTag(msg[pos:])
		if n < 0 {
			return wireError(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, msg[pos+n:])
		if m < 0 {
			return wireError(m)
		}
		if err := fn(num, typ, msg[pos+n:pos+n+m], base+pos+n); err != nil {
			return err
		}
		pos += n + m
	}
	return nil
}

func (d *decoder) recording(body []byte) (models.Snapshot, error) {
	s := models.Snapshot{Tracks: []models.Track{}}
	var seen [5]bool
	err := d.fields(body, 0, func(num protowire.Number, typ protowire.Type, value []byte, at int) error {
		switch {
		case num == recordingSessionID && typ == protowire.BytesType:
			v, err := consumeString(value)
			s.SessionID = v
			seen[num] = true
			return err
		case num == recordingScene && typ == protowire.BytesType:
			v, err := consumeString(value)
			s.Scene = v
			seen[num] = true
			return err
		case num == recordingNextFrame && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(value)
			if n < 0 {
				return wireError(n)
			}
			s.NextFrame = models.Frame(v)
			seen[num] = true
		case num == recordingTracks && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(value)
			if n < 0 {
				return wireError(n)
			}
			t, err := d.track(msg, at+len(value)-len(msg))
			if err != nil {
				return err
			}
			s.Tracks = append(s.Tracks, t)
		case num <= recordingTracks:
			return fmt.Errorf("field %d has wire type %d", num, typ)
		}
		return nil
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	if !seen[recordingNextFrame] {
		return models.Snapshot{}, fmt.Errorf("missing next_frame")
	}
	return s, nil
}

func (d *decoder) track(msg []byte, base int) (models.Track, error) {
	t := models.Track{Keyframes: []models.Keyframe{}}
	named := false
	err := d.fields(msg, base, func(num protowire.Number, typ protowire.Type, value []byte, at int) error {
		switch {
		case num == trackName && typ == protowire.BytesType:
			v, err := consumeString(value)
			t.Name = v
			named = true
			return err
		case num == trackKeyframes && typ == protowire.BytesType:
			km, n := protowire.ConsumeBytes(value)
			if n < 0 {
				return wireError(n)
			}
			k, err := d.keyframe(km, at+len(value)-len(km))
			if err != nil {
				return err
			}
			t.Keyframes = append(t.Keyframes, k)
		case num <= trackKeyframes:
			return fmt.Errorf("field %d has wire type %d", num, typ)
		}
		return nil
	})
	if err != nil {
		return models.Track{}, err
	}
	if !named {
		return models.Track{}, fmt.Errorf("track without a name")
	}
	return t, nil
}

func (d *decoder) keyframe(msg []byte, base int) (models.Keyframe, error) {
	var (
		k      models.Keyframe
		values [7]float64
		seen   [9]bool
	)
	err := d.fields(msg, base, func(num protowire.Number, typ protowire.Type, value []byte, _ int) error {
		switch {
		case num == keyframeFrame && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(value)
			if n < 0 {
				return wireError(n)
			}
			k.Frame = models.Frame(v)
		case num >= keyframeTX && num <= keyframeQZ && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(value)
			if n < 0 {
				return wireError(n)
			}
			values[num-keyframeTX] = math.Float64frombits(v)
		case num <= keyframeQZ:
			return fmt.Errorf("field %d has wire type %d", num, typ)
		default:
			return nil
		}
		seen[num] = true
		return nil
	})
	if err != nil {
		return models.Keyframe{}, err
	}
	for num := keyframeFrame; num <= keyframeQZ; num++ {
		if !seen[num] {
			return models.Keyframe{}, fmt.Errorf("keyframe missing field %d", num)
		}
	}
	k.Transform.Translation = [3]float64{values[0], values[1], values[2]}
	k.Transform.Rotation.W = values[3]
	k.Transform.Rotation.V = [3]float64{values[4], values[5], values[6]}
	return k, nil
}

func consumeString(value []byte) (string, error) {
	v, n := protowire.ConsumeString(value)
	if n < 0 {
		return "", wireError(n)
	}
	return v, nil
}

func wireError(n int) error {
	return fmt.Errorf("malformed wire data: %w", protowire.ParseError(n))
}

// validate enforces the track invariants: unique names, equal lengths,
// strictly increasing frames below NextFrame and finite transforms.
func validate(s models.Snapshot) error {
	if _, err := track.FromSnapshot(s); err != nil {
		return err
	}
	for _, t := range s.Tracks {
		for _, k := range t.Keyframes {
			if k.Frame >= s.NextFrame {
				return fmt.Errorf("object %q: frame %d is not below next frame %d", t.Name, k.Frame, s.NextFrame)
			}
			if err := k.Transform.Validate(); err != nil {
				return fmt.Errorf("object %q frame %d: %w", t.Name, k.Frame, err)
			}
		}
	}
	return nil
}
