package cache

import (
	"time"

	"pobbin/svc/resp"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const (
	formatCBOR     byte = 1
	formatCBORZstd byte = 2
	// Bodies below this size are stored uncompressed.
	compressMin = 1024
	maxDecoded  = 16 << 20
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
	zenc    *zstd.Encoder
	zdec    *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1024, MaxMapPairs: 1024}.DecMode()
	if err != nil {
		panic("cache: cbor decoder: " + err.Error())
	}
	zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder: " + err.Error())
	}
	zdec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		panic("cache: zstd decoder: " + err.Error())
	}
}

type envelope struct {
	StoredAt int64         `cbor:"1,keyasint"`
	Snapshot resp.Snapshot `cbor:"2,keyasint"`
}

func encodeEntry(s resp.Snapshot, now time.Time) ([]byte, error) {
	raw, err := encMode.Marshal(envelope{StoredAt: now.UnixMilli(), Snapshot: s})
	if err != nil {
		return nil, errors.Wrap(err, "encode cache entry")
	}
	if len(s.Body) < compressMin {
		return append([]byte{formatCBOR}, raw...), nil
	}
	out := make([]byte, 1, len(raw)/2+1)
	out[0] = formatCBORZstd
	return zenc.EncodeAll(raw, out), nil
}

func decodeEntry(data []byte) (resp.Snapshot, error) {
	if len(data) == 0 {
		return resp.Snapshot{}, errors.New("empty cache entry")
	}
	raw := data[1:]
	switch data[0] {
	case formatCBOR:
	case formatCBORZstd:
		var err error
		raw, err = zdec.DecodeAll(raw, nil)
		if err != nil {
			return resp.Snapshot{}, errors.Wrap(err, "decompress cache entry")
		}
		if len(raw) > maxDecoded {
			return resp.Snapshot{}, errors.Errorf("cache entry of %d bytes exceeds limit", len(raw))
		}
	default:
		return resp.Snapshot{}, errors.Errorf("unknown cache entry format %d", data[0])
	}
	var env envelope
	if err := decMode.Unmarshal(raw, &env); err != nil {
		return resp.Snapshot{}, errors.Wrap(err, "decode cache entry")
	}
	return env.Snapshot, nil
}
