// Package logpack implements the wlog on-disk binary format: the file
// header, log-pack headers, and log records of spec §3.1–3.2 and §6.1,
// plus the Reader/Writer pair of spec §4.B.
//
// On-disk layout:
//
//	[FileHeader, LogFileHeaderSize bytes][Pack]*[end-marker Pack]
//
// Each Pack is one PB-sized PackHeader (an inline array of LogRecords)
// followed by the concatenated payload blocks of its non-discard
// records, in record order.
//
// Reference: walb userspace core spec §6.1.
package logpack

import "encoding/binary"

// LogFileHeaderSize is the fixed on-disk size of the wlog file header,
// independent of the device's physical block size (read before pbs is
// known).
const LogFileHeaderSize = 512

// logFileMagic identifies a wlog stream.
var logFileMagic = [4]byte{'W', 'L', 'O', 'G'}

// LogFileVersion is the only supported on-disk version.
const LogFileVersion = 1

// SectorTypeLogpack is the required sector_type of every pack header.
const SectorTypeLogpack = 1

// recordSize is the fixed on-disk size of one LogRecord (spec §6.1).
const recordSize = 32

// packHeaderFixedSize is the size of the PackHeader fields preceding the
// inline record array.
const packHeaderFixedSize = 28

// Flag bits for LogRecord.Flags.
const (
	FlagExist   uint32 = 1 << 0
	FlagPadding uint32 = 1 << 1
	FlagDiscard uint32 = 1 << 2
)

// LogRecord is one entry of a pack header's inline record array.
type LogRecord struct {
	Checksum  uint32
	Lsid      uint64
	LsidLocal uint32
	Flags     uint32
	Offset    uint64 // LB, on the target device
	IoSize    uint32 // LB
}

// IsExist reports whether the EXIST flag is set.
func (r LogRecord) IsExist() bool { return r.Flags&FlagExist != 0 }

// IsPadding reports whether this is a padding record.
func (r LogRecord) IsPadding() bool { return r.Flags&FlagPadding != 0 }

// IsDiscard reports whether this is a discard record.
func (r LogRecord) IsDiscard() bool { return r.Flags&FlagDiscard != 0 }

// IsNormal reports whether this is neither a padding nor a discard
// record (spec §3.1 invariant (a)).
func (r LogRecord) IsNormal() bool { return !r.IsPadding() && !r.IsDiscard() }

func (r LogRecord) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], r.Checksum)
	binary.LittleEndian.PutUint64(dst[4:12], r.Lsid)
	binary.LittleEndian.PutUint32(dst[12:16], r.LsidLocal)
	binary.LittleEndian.PutUint32(dst[16:20], r.IoSize)
	binary.LittleEndian.PutUint64(dst[20:28], r.Offset)
	binary.LittleEndian.PutUint32(dst[28:32], r.Flags)
}

func decodeLogRecord(src []byte) LogRecord {
	return LogRecord{
		Checksum:  binary.LittleEndian.Uint32(src[0:4]),
		Lsid:      binary.LittleEndian.Uint64(src[4:12]),
		LsidLocal: binary.LittleEndian.Uint32(src[12:16]),
		IoSize:    binary.LittleEndian.Uint32(src[16:20]),
		Offset:    binary.LittleEndian.Uint64(src[20:28]),
		Flags:     binary.LittleEndian.Uint32(src[28:32]),
	}
}

// PackHeader is the parsed form of one PB-sized pack header.
type PackHeader struct {
	Checksum     uint32
	SectorType   uint16
	TotalIoSize  uint32 // PB
	LogpackLsid  uint64
	NRecords     uint16
	NPadding     uint16
	Records      []LogRecord
}

// IsEndMarker reports whether h is the end-of-stream marker (spec
// §3.2: n_records=0, logpack_lsid=MaxUint64).
func (h PackHeader) IsEndMarker() bool {
	return h.NRecords == 0 && h.LogpackLsid == ^uint64(0)
}

// MaxRecordsInOnePB returns the maximum number of LogRecords that fit
// inline within one PB-sized pack header.
func MaxRecordsInOnePB(pbs uint32) int {
	return (int(pbs) - packHeaderFixedSize) / recordSize
}

func encodePackHeader(h PackHeader, pbs uint32, salt uint32) []byte {
	buf := make([]byte, pbs)
	binary.LittleEndian.PutUint16(buf[4:6], h.SectorType)
	binary.LittleEndian.PutUint32(buf[8:12], h.TotalIoSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.LogpackLsid)
	binary.LittleEndian.PutUint16(buf[20:22], h.NRecords)
	binary.LittleEndian.PutUint16(buf[22:24], h.NPadding)
	for i, rec := range h.Records {
		off := packHeaderFixedSize + i*recordSize
		rec.encode(buf[off : off+recordSize])
	}
	// checksum field (offset 0) is computed with itself zeroed, then
	// XORed with salt, per spec §3.2.
	sum := blockChecksum(buf, 0) ^ salt
	binary.LittleEndian.PutUint32(buf[0:4], sum)
	return buf
}

func decodePackHeader(buf []byte, pbs uint32, salt uint32) (PackHeader, error) {
	if len(buf) != int(pbs) {
		return PackHeader{}, errBadPackSize
	}
	stored := binary.LittleEndian.Uint32(buf[0:4])
	check := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint32(check[0:4], 0)
	if blockChecksum(check, 0)^salt != stored {
		return PackHeader{}, errBadChecksum
	}

	h := PackHeader{
		Checksum:    stored,
		SectorType:  binary.LittleEndian.Uint16(buf[4:6]),
		TotalIoSize: binary.LittleEndian.Uint32(buf[8:12]),
		LogpackLsid: binary.LittleEndian.Uint64(buf[12:20]),
		NRecords:    binary.LittleEndian.Uint16(buf[20:22]),
		NPadding:    binary.LittleEndian.Uint16(buf[22:24]),
	}
	if h.IsEndMarker() {
		return h, nil
	}
	if h.SectorType != SectorTypeLogpack {
		return PackHeader{}, errBadFormat
	}
	maxRecs := MaxRecordsInOnePB(pbs)
	if int(h.NRecords) > maxRecs {
		return PackHeader{}, errBadFormat
	}
	h.Records = make([]LogRecord, h.NRecords)
	for i := range h.Records {
		off := packHeaderFixedSize + i*recordSize
		h.Records[i] = decodeLogRecord(buf[off : off+recordSize])
	}
	return h, nil
}

// FileHeader is the parsed form of the wlog file header.
type FileHeader struct {
	Salt      uint32
	Pbs       uint32
	UUID      [16]byte
	BeginLsid uint64
	EndLsid   uint64
}

func encodeFileHeader(h FileHeader) []byte {
	buf := make([]byte, LogFileHeaderSize)
	copy(buf[0:4], logFileMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], LogFileVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.Salt)
	binary.LittleEndian.PutUint32(buf[12:16], h.Pbs)
	copy(buf[16:32], h.UUID[:])
	binary.LittleEndian.PutUint64(buf[32:40], h.BeginLsid)
	binary.LittleEndian.PutUint64(buf[40:48], h.EndLsid)
	sum := blockChecksum(buf, 0)
	binary.LittleEndian.PutUint32(buf[48:52], sum)
	return buf
}

func decodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) != LogFileHeaderSize {
		return FileHeader{}, errBadPackSize
	}
	if string(buf[0:4]) != string(logFileMagic[:]) {
		return FileHeader{}, errBadFormat
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != LogFileVersion {
		return FileHeader{}, errBadFormat
	}
	stored := binary.LittleEndian.Uint32(buf[48:52])
	check := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint32(check[48:52], 0)
	if blockChecksum(check, 0) != stored {
		return FileHeader{}, errBadChecksum
	}
	var h FileHeader
	h.Salt = binary.LittleEndian.Uint32(buf[8:12])
	h.Pbs = binary.LittleEndian.Uint32(buf[12:16])
	copy(h.UUID[:], buf[16:32])
	h.BeginLsid = binary.LittleEndian.Uint64(buf[32:40])
	h.EndLsid = binary.LittleEndian.Uint64(buf[40:48])
	return h, nil
}
