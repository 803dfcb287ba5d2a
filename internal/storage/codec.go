package storage

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/akave-ai/clockwork/internal/model"
)

// Format names a record serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode

	// zstd.Encoder and zstd.Decoder are safe for concurrent use.
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// Codec turns records into bytes for the blob-oriented backends.
type Codec struct {
	Format   Format
	Compress bool
}

// NewCodec validates format ("" means json).
func NewCodec(format string, compress bool) (Codec, error) {
	switch Format(format) {
	case "", FormatJSON:
		return Codec{Format: FormatJSON, Compress: compress}, nil
	case FormatCBOR:
		return Codec{Format: FormatCBOR, Compress: compress}, nil
	default:
		return Codec{}, fmt.Errorf("unknown storage format: %q", format)
	}
}

// Ext is the file extension / object key suffix for encoded records.
func (c Codec) Ext() string {
	ext := ".json"
	if c.Format == FormatCBOR {
		ext = ".cbor"
	}
	if c.Compress {
		ext += ".zst"
	}
	return ext
}

// ContentType is the MIME type of encoded records.
func (c Codec) ContentType() string {
	if c.Compress {
		return "application/zstd"
	}
	if c.Format == FormatCBOR {
		return "application/cbor"
	}
	return "application/json"
}

func (c Codec) Encode(req *model.Request) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if c.Format == FormatCBOR {
		data, err = cborEnc.Marshal(req)
	} else {
		data, err = json.Marshal(req)
	}
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.ID, err)
	}
	if c.Compress {
		data = zstdEncoder.EncodeAll(data, nil)
	}
	return data, nil
}

func (c Codec) Decode(data []byte) (*model.Request, error) {
	if c.Compress {
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		data = raw
	}
	req := &model.Request{}
	var err error
	if c.Format == FormatCBOR {
		err = cborDec.Unmarshal(data, req)
	} else {
		err = json.Unmarshal(data, req)
	}
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	ensureBuffers(req)
	return req, nil
}

// ensureBuffers gives decoded records a usable log and timeline even when
// the stored document omitted them.
func ensureBuffers(req *model.Request) {
	if req.Log == nil {
		req.Log = model.NewLog()
	}
	if req.Timeline == nil {
		req.Timeline = model.NewTimeline()
	}
}
