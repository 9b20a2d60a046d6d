package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// codec compresses journal payloads. EncodeAll and DecodeAll are safe for
// concurrent use, so one codec serves the whole store.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) pack(p payload) ([]byte, error) {
	if p == (payload{}) {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.enc.EncodeAll(raw, nil), nil
}

func (c *codec) unpack(blob []byte) (payload, error) {
	var p payload
	if len(blob) == 0 {
		return p, nil
	}
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return p, fmt.Errorf("decompress payload: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
