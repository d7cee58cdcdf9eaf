package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Максимальный размер кадра: защита от мусора в длине.
const maxFrameSize = 4 * 1024 * 1024

// FrameCodec преобразует полезную нагрузку кадра. Выбор кодека — общий
// для деплоя: обе стороны соединения используют один и тот же.
type FrameCodec interface {
	Name() string
	Encode(payload []byte) ([]byte, error)
	Decode(payload []byte) ([]byte, error)
}

// JSONCodec передаёт текстовые JSON кадры как есть.
type JSONCodec struct{}

func (JSONCodec) Name() string                          { return "json" }
func (JSONCodec) Encode(payload []byte) ([]byte, error) { return payload, nil }
func (JSONCodec) Decode(payload []byte) ([]byte, error) { return payload, nil }

// ZstdCodec сжимает JSON кадры в самоописывающие zstd-фреймы.
type ZstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCodec создаёт кодек со встроенными zstd кодерами.
func NewZstdCodec() (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ZstdCodec{enc: enc, dec: dec}, nil
}

func (c *ZstdCodec) Name() string { return "json+zstd" }

func (c *ZstdCodec) Encode(payload []byte) ([]byte, error) {
	return c.enc.EncodeAll(payload, nil), nil
}

func (c *ZstdCodec) Decode(payload []byte) ([]byte, error) {
	return c.dec.DecodeAll(payload, nil)
}

// NewFrameCodec создаёт кодек по имени из конфигурации.
func NewFrameCodec(name string) (FrameCodec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "json+zstd":
		return NewZstdCodec()
	default:
		return nil, fmt.Errorf("неизвестный кодек кадров: %q", name)
	}
}

// WriteFrame пишет кадр: 4 байта длины (big-endian) + полезная нагрузка.
func WriteFrame(w io.Writer, payload []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame читает один кадр целиком.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxFrameSize {
		return nil, fmt.Errorf("кадр слишком большой: %d байт", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
