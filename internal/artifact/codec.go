package artifact

import (
	"bytes"
	"image"
	"image/png"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
)

// Codec converts downloaded bytes into the artifact's canonical format.
type Codec interface {
	Normalize(data []byte) ([]byte, error)
	ContentType() string
}

// PNGCodec decodes any registered raster format and re-encodes it as PNG.
type PNGCodec struct {
	Encoder *png.Encoder
}

// Normalize returns data re-encoded as PNG. Unrecognized or corrupt input
// yields a CodecError.
func (c PNGCodec) Normalize(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, bridgeerr.Codec(err)
	}
	enc := c.Encoder
	if enc == nil {
		enc = &png.Encoder{CompressionLevel: png.DefaultCompression}
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, bridgeerr.Codec(err)
	}
	return buf.Bytes(), nil
}

// ContentType reports the MIME type of normalized output.
func (PNGCodec) ContentType() string {
	return "image/png"
}
