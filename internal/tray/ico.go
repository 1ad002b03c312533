package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
)

// icoHeader is ICONDIR followed by a single ICONDIRENTRY
type icoHeader struct {
	Reserved   uint16
	Type       uint16 // 1 = icon
	Count      uint16
	Width      uint8 // 0 means 256
	Height     uint8
	Colors     uint8
	EntryRsvd  uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	Offset     uint32
}

// imageToICO wraps a PNG encoding of img in a single-image ICO container.
// Windows tray icons require ICO.
func imageToICO(img image.Image) []byte {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return nil
	}

	b := img.Bounds()
	hdr := icoHeader{
		Type:       1,
		Count:      1,
		Width:      icoDim(b.Dx()),
		Height:     icoDim(b.Dy()),
		Planes:     1,
		BitCount:   32,
		BytesInRes: uint32(pngBuf.Len()), // #nosec G115 -- a 64px PNG is far below 4 GiB
		Offset:     uint32(binary.Size(icoHeader{})),
	}

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, hdr); err != nil {
		return nil
	}
	out.Write(pngBuf.Bytes())
	return out.Bytes()
}

func icoDim(n int) uint8 {
	if n >= 256 {
		return 0
	}
	return uint8(n)
}
