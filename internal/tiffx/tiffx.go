// Package tiffx writes TIFF output with an embedded ICC color profile.
//
// The encoder is golang.org/x/image/tiff; since it has no hook for extra
// IFD tags, the InterColorProfile tag is spliced into the encoded file by
// appending the profile bytes and a rewritten IFD.
package tiffx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"

	"golang.org/x/image/tiff"
)

const (
	tagICCProfile = 34675 // InterColorProfile
	typeUndefined = 7
)

// ReadProfile loads an ICC profile and checks its header, so a bad profile
// path fails the run before any image is processed.
func ReadProfile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ICC profile: %w", err)
	}
	if len(data) < 132 || string(data[36:40]) != "acsp" {
		return nil, fmt.Errorf("read ICC profile: %s is not an ICC profile", path)
	}
	return data, nil
}

// Encode writes img as a deflate-compressed TIFF with the ICC profile
// embedded. An empty profile writes a plain TIFF.
func Encode(w io.Writer, img image.Image, icc []byte) error {
	var buf bytes.Buffer
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	if err := tiff.Encode(&buf, img, opts); err != nil {
		return fmt.Errorf("encode TIFF: %w", err)
	}

	data := buf.Bytes()
	if len(icc) > 0 {
		var err error
		data, err = embedICC(data, icc)
		if err != nil {
			return fmt.Errorf("embed ICC profile: %w", err)
		}
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write TIFF: %w", err)
	}
	return nil
}

// WriteFile encodes img to path with the ICC profile embedded.
func WriteFile(path string, img image.Image, icc []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write TIFF: %w", err)
	}
	if err := Encode(f, img, icc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// embedICC appends the profile bytes and a rewritten first IFD carrying the
// InterColorProfile tag, then repoints the header at the new IFD. Existing
// entries keep their value offsets since nothing before them moves.
func embedICC(src, icc []byte) ([]byte, error) {
	if len(src) < 8 {
		return nil, fmt.Errorf("truncated TIFF")
	}
	var bo binary.ByteOrder
	switch {
	case src[0] == 'I' && src[1] == 'I':
		bo = binary.LittleEndian
	case src[0] == 'M' && src[1] == 'M':
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("bad TIFF byte order mark %q", src[:2])
	}

	ifdOff := int(bo.Uint32(src[4:8]))
	if ifdOff < 8 || ifdOff+2 > len(src) {
		return nil, fmt.Errorf("IFD offset %d out of range", ifdOff)
	}
	n := int(bo.Uint16(src[ifdOff : ifdOff+2]))
	entriesEnd := ifdOff + 2 + n*12
	if entriesEnd+4 > len(src) {
		return nil, fmt.Errorf("IFD with %d entries out of range", n)
	}
	next := bo.Uint32(src[entriesEnd : entriesEnd+4])

	// IFD entries must stay sorted by tag; every baseline tag the encoder
	// writes sorts below InterColorProfile, so appending is enough.
	if n > 0 {
		lastTag := bo.Uint16(src[entriesEnd-12 : entriesEnd-10])
		if lastTag >= tagICCProfile {
			return nil, fmt.Errorf("unexpected tag %d at end of IFD", lastTag)
		}
	}

	out := make([]byte, len(src), len(src)+len(icc)+2+(n+1)*12+8)
	copy(out, src)
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	iccOff := uint32(len(out))
	out = append(out, icc...)
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	newIFDOff := uint32(len(out))

	ifd := make([]byte, 2+(n+1)*12+4)
	bo.PutUint16(ifd[0:2], uint16(n+1))
	copy(ifd[2:], src[ifdOff+2:entriesEnd])
	e := 2 + n*12
	bo.PutUint16(ifd[e:e+2], tagICCProfile)
	bo.PutUint16(ifd[e+2:e+4], typeUndefined)
	bo.PutUint32(ifd[e+4:e+8], uint32(len(icc)))
	bo.PutUint32(ifd[e+8:e+12], iccOff)
	bo.PutUint32(ifd[e+12:e+16], next)
	out = append(out, ifd...)

	bo.PutUint32(out[4:8], newIFDOff)
	return out, nil
}
