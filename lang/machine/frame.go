package machine

// tryRecord is a single active try/catch installed on a frame by TRY_BEGIN.
// Only one may be active per frame at a time — the compiler rejects nested
// try statements, so a frame never needs a stack of these.
type tryRecord struct {
	active        bool
	catchLocation int
	stackOffset   int // operand-stack length to truncate to on catch
}

// frame is one active call: the executing closure, the instruction pointer
// (a byte offset into closure.Fn.Proto.Chunk.Code), the operand-stack base,
// and any installed try record (spec.md §4.4).
type frame struct {
	closure     *Closure
	ip          int
	slotsOffset int
	try         tryRecord
}

func (f *frame) chunk() *[]byte { return &f.closure.Fn.Proto.Chunk.Code }

func (f *frame) readByte() byte {
	b := f.closure.Fn.Proto.Chunk.Code[f.ip]
	f.ip++
	return b
}

func (f *frame) readU16() uint16 {
	hi := f.readByte()
	lo := f.readByte()
	return uint16(hi)<<8 | uint16(lo)
}

func (f *frame) currentLine() int {
	return f.closure.Fn.Proto.Chunk.LineAt(f.ip - 1)
}
