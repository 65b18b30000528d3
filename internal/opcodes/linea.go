package opcodes

// lowerLineA handles line A, which on real 68000 hardware has no defined
// instructions at all — the entire line is reserved to trap unconditionally
// (the "Line-A emulator" vector used by classic Mac/Amiga toolbox calls),
// grounded on decodeGroupA's unconditional ProcessException call.
func lowerLineA(c *Context) (Marker, error) {
	return emitIllegal(c)
}
