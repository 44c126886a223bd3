// Package image prepares firmware images for a flash write. Intel HEX files are flattened into a raw binary that
// starts at the flash base address; raw binaries are used as they are.
package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/marcinbor85/gohex"
)

// padding fills the gaps between HEX segments; it is the erased state of NOR flash.
const padding = 0xFF

// RangeError indicates image data outside the flash range.
type RangeError struct {
	Path       string
	Start, End uint64
	Base, Size uint32
}

// Error returns the error message for a RangeError.
func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: data 0x%08X-0x%08X lies outside flash 0x%08X-0x%08X",
		e.Path, e.Start, e.End, e.Base, uint64(e.Base)+uint64(e.Size))
}

// EmptyImageError indicates an image without data.
type EmptyImageError string

// Error returns the error message for a EmptyImageError.
func (e EmptyImageError) Error() string {
	return fmt.Sprintf("empty image: %q", string(e))
}

// Image is a raw binary ready for a flash write at offset 0.
type Image struct {
	// Path is the raw binary to hand to the flash write.
	Path string

	// Source is the file the image was prepared from.
	Source string

	// Size is the number of bytes to be written.
	Size uint32

	temp bool
}

// Close removes the temporary binary, if one was created.
func (i *Image) Close() error {
	if !i.temp {
		return nil
	}
	i.temp = false
	return os.Remove(i.Path)
}

// IsHex reports whether path names an Intel HEX file.
func IsHex(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihx":
		return true
	}
	return false
}

// Prepare checks that the image at path fits into size bytes of flash starting at base and returns it as a raw
// binary. Close the returned Image once the flash write is done.
func Prepare(path string, base, size uint32) (*Image, error) {
	if IsHex(path) {
		return prepareHex(path, base, size)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, EmptyImageError(path)
	}
	if fi.Size() > int64(size) {
		return nil, &RangeError{Path: path, Start: uint64(base), End: uint64(base) + uint64(fi.Size()), Base: base, Size: size}
	}

	return &Image{Path: path, Source: path, Size: uint32(fi.Size())}, nil
}

func prepareHex(path string, base, size uint32) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, EmptyImageError(path)
	}

	start, end := uint64(segments[0].Address), uint64(0)
	for _, seg := range segments {
		segEnd := uint64(seg.Address) + uint64(len(seg.Data))
		if uint64(seg.Address) < start {
			start = uint64(seg.Address)
		}
		if segEnd > end {
			end = segEnd
		}
	}
	if start < uint64(base) || end > uint64(base)+uint64(size) {
		return nil, &RangeError{Path: path, Start: start, End: end, Base: base, Size: size}
	}

	length := uint32(end - uint64(base))
	data := mem.ToBinary(base, length, padding)

	out, err := os.CreateTemp("", "bringup-*.bin")
	if err != nil {
		return nil, err
	}
	if _, err = out.Write(data); err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, err
	}
	if err = out.Close(); err != nil {
		os.Remove(out.Name())
		return nil, err
	}

	glog.V(1).Infof("image: %s: %d segments flattened to %d bytes in %s", path, len(segments), length, out.Name())
	return &Image{Path: out.Name(), Source: path, Size: length, temp: true}, nil
}

// Check that errors satisfy the error interface.
var _ error = (*RangeError)(nil)
var _ error = EmptyImageError("")
