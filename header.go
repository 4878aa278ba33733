package main

import "fmt"

// romBase is the fixed address every GBA cartridge image is linked
// against; execution begins here after the BIOS hands off.
const romBase = 0x0800_0000

// nintendoLogo is the fixed 156-byte bitmap the GBA BIOS checksums
// and displays during boot. Any cartridge whose header doesn't carry
// this exact sequence at offset 0x04 is rejected by real hardware, so
// it is baked in verbatim rather than accepted as configurable input.
var nintendoLogo = [156]byte{
	0x24, 0xFF, 0xAE, 0x51, 0x69, 0x9A, 0xA2, 0x21, 0x3D, 0x84, 0x82, 0x0A,
	0x84, 0xE4, 0x09, 0xAD, 0x11, 0x24, 0x8B, 0x98, 0xC0, 0x81, 0x7F, 0x21,
	0xA3, 0x52, 0xBE, 0x19, 0x93, 0x09, 0xCE, 0x20, 0x10, 0x46, 0x4A, 0x4A,
	0xF8, 0x27, 0x31, 0xEC, 0x58, 0xC7, 0xE8, 0x33, 0x82, 0xE3, 0xCE, 0xBF,
	0x85, 0xF4, 0xDF, 0x94, 0xCE, 0x4B, 0x09, 0xC1, 0x94, 0x56, 0x8A, 0xC0,
	0x13, 0x72, 0xA7, 0xFC, 0x9F, 0x84, 0x4D, 0x73, 0xA3, 0xCA, 0x9A, 0x61,
	0x58, 0x97, 0xA3, 0x27, 0xFC, 0x03, 0x98, 0x76, 0x23, 0x1D, 0xC7, 0x61,
	0x03, 0x04, 0xAE, 0x56, 0xBF, 0x38, 0x84, 0x00, 0x40, 0xA7, 0x0E, 0xFD,
	0xFF, 0x52, 0xFE, 0x03, 0x6F, 0x95, 0x30, 0xF1, 0x97, 0xFB, 0xC0, 0x85,
	0x60, 0xD6, 0x80, 0x25, 0xA9, 0x63, 0xBE, 0x03, 0x01, 0x4E, 0x38, 0xE2,
	0xF9, 0xA2, 0x34, 0xFF, 0xBB, 0x3E, 0x03, 0x44, 0x78, 0x00, 0x90, 0xCB,
	0x88, 0x11, 0x3A, 0x94, 0x65, 0xC0, 0x7C, 0x63, 0x87, 0xF0, 0x3C, 0xAF,
	0xD6, 0x25, 0xE4, 0x8B, 0x38, 0x0A, 0xAC, 0x72, 0x21, 0xD4, 0xF8, 0x07,
}

// HeaderFields is the set of values the cartridge header's `.header`
// directive fills in; everything not named here is either fixed
// (the boot branch, the logo) or computed (the CRC).
type HeaderFields struct {
	Title      string // up to 12 ASCII bytes, zero-padded
	GameCode   string // 4 ASCII bytes
	MakerCode  string // 2 ASCII bytes
	EntryPoint int64
}

// buildHeader assembles the 192-byte GBA ROM header: a branch to
// EntryPoint at offset 0x00, the fixed Nintendo logo at 0x04, title/
// game/maker codes from 0xA0, the fixed unit/device/version bytes,
// and a checksum at 0xBD computed over 0xA0..0xBC.
func buildHeader(f HeaderFields) ([]byte, error) {
	buf := make([]byte, 0xC0)

	branchWord, err := headerBootBranch(f.EntryPoint)
	if err != nil {
		return nil, err
	}
	copy(buf[0x00:0x04], branchWord)
	copy(buf[0x04:0x04+156], nintendoLogo[:])

	writeFixedASCII(buf[0xA0:0xAC], f.Title, 12)
	writeFixedASCII(buf[0xAC:0xB0], f.GameCode, 4)
	writeFixedASCII(buf[0xB0:0xB2], f.MakerCode, 2)
	buf[0xB2] = 0x96 // fixed value
	buf[0xB3] = 0x00 // unit code
	buf[0xB4] = 0x00 // device type
	// 0xB5..0xBC reserved, left zero
	buf[0xBD] = computeHeaderCRC(buf[0xA0:0xBD])
	// 0xBE..0xBF reserved, left zero

	return buf, nil
}

// headerBootBranch encodes the unconditional ARM `b entry` that
// occupies the header's first word: cond=al, target is entry relative
// to the branch instruction's own address (romBase, not romBase+8 —
// the header's own word IS at romBase, so the usual PC+8 pipeline
// offset applies exactly as for any other ARM branch).
func headerBootBranch(entry int64) ([]byte, error) {
	op := ARMBranch(armConditions["al"], false)
	word, err := encodeARM(op, OperandValues{"target": entry}, romBase, true)
	if err != nil {
		return nil, fmt.Errorf("header boot branch: %w", err)
	}
	b := bytesLE32(word)
	return b[:], nil
}

// writeFixedASCII copies s into dst, zero-padding any remaining bytes,
// and truncating s if it's longer than dst.
func writeFixedASCII(dst []byte, s string, width int) {
	for i := 0; i < width; i++ {
		if i < len(s) {
			dst[i] = s[i]
		} else {
			dst[i] = 0x00
		}
	}
}

// computeHeaderCRC implements the GBA header checksum: the BIOS
// requires byte 0xBD to equal (-0x19 - sum(bytes[0xA0:0xBD])) & 0xFF.
func computeHeaderCRC(region []byte) byte {
	var sum int
	for _, b := range region {
		sum += int(b)
	}
	return byte((-0x19 - sum) & 0xFF)
}
