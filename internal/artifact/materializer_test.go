package artifact

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Download(ctx context.Context, url string) ([]byte, string, error) {
	args := m.Called(ctx, url)
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, name, data, contentType)
	return args.String(0), args.Error(1)
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestMaterialize_NormalizesToPNG(t *testing.T) {
	fetcher := new(MockFetcher)
	storage := new(MockStorage)
	src := jpegBytes(t)

	fetcher.On("Download", mock.Anything, "https://cdn.test/a.jpeg").Return(src, "image/jpeg", nil)
	storage.On("Put", mock.Anything, "pic.png", mock.MatchedBy(func(data []byte) bool {
		_, err := png.Decode(bytes.NewReader(data))
		return err == nil
	}), "image/png").Return("/pic.png", nil)

	m, err := New(Options{Fetcher: fetcher, Storage: storage})
	require.NoError(t, err)

	art, err := m.Materialize(context.Background(), "https://cdn.test/a.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "/pic.png", art.Ref)
	assert.True(t, art.Normalized)
	assert.Equal(t, "image/png", art.ContentType)
	assert.Equal(t, "https://cdn.test/a.jpeg", art.SourceURL)

	fetcher.AssertExpectations(t)
	storage.AssertExpectations(t)
}

func TestMaterialize_CodecRejectsStoresOriginalBytes(t *testing.T) {
	fetcher := new(MockFetcher)
	storage := new(MockStorage)
	src := []byte("definitely not an image \x00\x01\x02")

	fetcher.On("Download", mock.Anything, "https://cdn.test/b").Return(src, "application/octet-stream", nil)
	storage.On("Put", mock.Anything, "pic.png", src, "application/octet-stream").Return("/pic.png", nil)

	m, err := New(Options{Fetcher: fetcher, Storage: storage})
	require.NoError(t, err)

	art, err := m.Materialize(context.Background(), "https://cdn.test/b")
	require.NoError(t, err)
	assert.False(t, art.Normalized)
	assert.Equal(t, len(src), art.Size)

	storage.AssertExpectations(t)
}

func TestMaterialize_DownloadFailureIsTerminal(t *testing.T) {
	fetcher := new(MockFetcher)
	storage := new(MockStorage)

	fetcher.On("Download", mock.Anything, "https://cdn.test/c").
		Return([]byte(nil), "", bridgeerr.TransportStatus("download", 404, "404 Not Found"))

	m, err := New(Options{Fetcher: fetcher, Storage: storage})
	require.NoError(t, err)

	_, err = m.Materialize(context.Background(), "https://cdn.test/c")
	assert.True(t, errors.Is(err, bridgeerr.ErrTransport))
	storage.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMaterialize_FileStoreByteForByteFallback(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "/")
	require.NoError(t, err)

	src := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x10}
	fetcher := new(MockFetcher)
	fetcher.On("Download", mock.Anything, "https://cdn.test/raw").Return(src, "", nil)

	m, err := New(Options{Fetcher: fetcher, Storage: store, Name: "pic.png"})
	require.NoError(t, err)

	art, err := m.Materialize(context.Background(), "https://cdn.test/raw")
	require.NoError(t, err)
	assert.Equal(t, "/pic.png", art.Ref)

	written, err := os.ReadFile(filepath.Join(dir, "pic.png"))
	require.NoError(t, err)
	assert.Equal(t, src, written)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Storage: new(MockStorage)})
	assert.Error(t, err)
	_, err = New(Options{Fetcher: new(MockFetcher)})
	assert.Error(t, err)
}

func TestPNGCodecRejectsGarbage(t *testing.T) {
	_, err := PNGCodec{}.Normalize([]byte("nope"))
	assert.True(t, errors.Is(err, bridgeerr.ErrCodec))
}

func TestFileStoreRejectsPathNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "../escape.png", []byte("x"), "")
	assert.Error(t, err)
}
