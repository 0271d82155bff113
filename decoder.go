package rbperf

// Object-layout constants shared by the frame decoder. These mirror the
// target runtime's object header layout (RBasic flags word, low 5 bits
// encode the object type, as in ruby.h's RUBY_T_MASK/RUBY_T_STRING/
// RUBY_T_ARRAY) and are only needed by the decoder, never by the walker.
const (
	typeMask    = 0x1f
	typeString  = 0x05
	typeArray   = 0x07

	// rbasicSize is sizeof(struct RBasic): two machine words (flags + klass).
	rbasicSize = 16
	// pathTypeOffset is the offset of the backing string pointer inside
	// the extra indirection used when path_flavour==1.
	pathTypeOffset = 0

	// stringHeapBit marks a string object whose characters live on the
	// heap rather than embedded after the object header.
	stringHeapBit = 1 << 13

	// valueSize is sizeof(VALUE) on a 64-bit build of the target runtime.
	valueSize = 8

	// locationOffset is the offset, inside an instruction sequence body,
	// of the embedded location struct holding path/label.
	locationOffset = 0
	pathOffset     = 0
)

// DecodeFrame fills frame from the control frame at pc/body. frame must
// already be zeroed by the caller (interning identity depends on padding
// bytes being zero on every fill, including partial or aborted ones).
func DecodeFrame(r RemoteMemory, pc, body ptr, offs VersionOffsets, frame *FrameRecord) error {
	pathAddr, err := derefAt[uint64](r, body, uint64(locationOffset+pathOffset))
	if err != nil {
		return err
	}

	path, ok, err := resolvePath(r, ptr(pathAddr), offs)
	if err != nil {
		return err
	}
	if !ok {
		// Unknown object type: leave the frame zeroed rather than fail the walk.
		return nil
	}

	label, err := derefAt[uint64](r, body, offs.Label)
	if err != nil {
		return err
	}

	var pathBuf [PathSize]byte
	if err := readRubyString(r, ptr(path), pathBuf[:]); err != nil {
		return err
	}
	frame.Path = pathBuf

	lineno, err := readLineno(r, pc, body, offs)
	if err != nil {
		return err
	}
	frame.Lineno = lineno

	var nameBuf [MethodNameSize]byte
	if err := readRubyString(r, ptr(label), nameBuf[:]); err != nil {
		return err
	}
	frame.MethodName = nameBuf

	return nil
}

// resolvePath implements the path-extraction branch, including the
// RBasic-indirection case for path_flavour==1 and the path_flavour==0
// case where the path value is itself an array: rather than leaving path
// uninitialized, it resolves to the array pointer itself, consistent with
// the string case.
func resolvePath(r RemoteMemory, pathAddr ptr, offs VersionOffsets) (ptr, bool, error) {
	flags, err := deref[uint64](r, pathAddr)
	if err != nil {
		return 0, false, err
	}

	switch flags & typeMask {
	case typeString:
		return pathAddr, true, nil
	case typeArray:
		if offs.PathFlavour == 1 {
			indirectAddr := pathAddr + rbasicSize + pathTypeOffset
			real, err := deref[uint64](r, indirectAddr)
			if err != nil {
				return 0, false, err
			}
			return ptr(real), true, nil
		}
		return pathAddr, true, nil
	default:
		return 0, false, nil
	}
}

// readRubyString reads a runtime string object's characters into dst,
// NUL-terminating on truncation.
func readRubyString(r RemoteMemory, obj ptr, dst []byte) error {
	flags, err := deref[uint64](r, obj)
	if err != nil {
		return err
	}
	asOffset := ptr(rbasicSize)
	if flags&stringHeapBit != 0 {
		charPtr, err := deref[uint64](r, obj+asOffset+8)
		if err != nil {
			return err
		}
		return r.ReadUserStr(dst, ptr(charPtr))
	}
	return r.ReadUserStr(dst, obj+asOffset)
}

// readLineno implements the line-number lookup. It is only accurate for
// the primary supported dialect; for others it returns the last entry of
// the line-info table, an intentional approximation.
func readLineno(r RemoteMemory, pc, body ptr, offs VersionOffsets) (int32, error) {
	if pc == 0 {
		return 0, nil // native frame
	}

	posAddr, err := deref[uint64](r, pc-body+ptr(iseqEncodedOffset))
	if err != nil {
		return 0, err
	}
	pos, err := deref[uint64](r, ptr(posAddr))
	if err != nil {
		return 0, err
	}
	if pos != 0 {
		pos -= valueSize
	}
	_ = pos // computed to preserve the same arithmetic as the position lookup,
	// but unused: the returned lineno only ever comes from the last
	// line-info table entry below, an intentional approximation.

	lineInfoSize, err := derefAt[uint32](r, body, offs.LineInfoSize)
	if err != nil {
		return 0, err
	}
	if lineInfoSize == 0 {
		return 0, nil
	}

	infoTable, err := derefAt[uint64](r, body, offs.LineInfoTable)
	if err != nil {
		return 0, err
	}
	lineno, err := deref[int32](r, ptr(infoTable)+ptr(lineInfoSize-1)*8+ptr(offs.Lineno))
	if err != nil {
		return 0, err
	}
	return lineno, nil
}

// iseqEncodedOffset is the offset, inside an instruction sequence body, of
// the table that maps decoded instruction addresses back to bytecode
// positions. It is a fixed layout constant of the primary supported
// dialect, unlike the VersionOffsets fields, which vary across versions.
const iseqEncodedOffset = 0
