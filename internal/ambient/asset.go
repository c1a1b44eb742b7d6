package ambient

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// ErrAssetLoad wraps every failure to open or decode the primary asset.
var ErrAssetLoad = errors.New("ambient: asset load failed")

// Asset is a decoded MP3 that loops forever.
type Asset struct {
	path string
	file *os.File
	dec  *mp3.Decoder
}

// LoadAsset opens and decodes an MP3. The asset must match sampleRate.
func LoadAsset(path string, sampleRate int) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetLoad, err)
	}

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: decode %s: %w", ErrAssetLoad, path, err)
	}

	if dec.SampleRate() != sampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d Hz, output is %d Hz", ErrAssetLoad, path, dec.SampleRate(), sampleRate)
	}

	return &Asset{path: path, file: f, dec: dec}, nil
}

// Read implements io.Reader, rewinding at the end of the stream.
func (a *Asset) Read(p []byte) (int, error) {
	n, err := a.dec.Read(p)
	if err == io.EOF {
		if _, serr := a.dec.Seek(0, io.SeekStart); serr != nil {
			return n, serr
		}
		if n == 0 {
			return a.dec.Read(p)
		}
		return n, nil
	}
	return n, err
}

// Path returns the file the asset was loaded from.
func (a *Asset) Path() string {
	return a.path
}

// Close releases the underlying file.
func (a *Asset) Close() error {
	return a.file.Close()
}
