package wasm

// Magic is "\0asm" read as a little-endian uint32.
const (
	Magic   uint32 = 0x6D736100
	Version uint32 = 0x01
)

// Section IDs.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// Import/export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

const (
	ValI32     ValType = 0x7F
	ValI64     ValType = 0x7E
	ValF32     ValType = 0x7D
	ValF64     ValType = 0x7C
	ValV128    ValType = 0x7B
	ValFuncRef ValType = 0x70
	ValExtern  ValType = 0x6F
)

const (
	FuncTypeByte  byte = 0x60
	BlockTypeVoid byte = 0x40

	LimitsHasMax byte = 0x01
	LimitsShared byte = 0x02
)

// Opcodes emitted by Code and understood in constant expressions.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0B
	OpBr           byte = 0x0C
	OpBrIf         byte = 0x0D
	OpBrTable      byte = 0x0E
	OpReturn       byte = 0x0F
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop         byte = 0x1A
	OpSelect       byte = 0x1B
	OpLocalGet     byte = 0x20
	OpLocalSet     byte = 0x21
	OpLocalTee     byte = 0x22
	OpGlobalGet    byte = 0x23
	OpGlobalSet    byte = 0x24
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
	OpF32Const     byte = 0x43
	OpF64Const     byte = 0x44
	OpI32Eqz       byte = 0x45
	OpI32Add       byte = 0x6A
	OpI32Sub       byte = 0x6B
	OpI32Mul       byte = 0x6C
	OpI64Add       byte = 0x7C
	OpTableGet     byte = 0x25
	OpTableSet     byte = 0x26
	OpRefNull      byte = 0xD0
	OpRefFunc      byte = 0xD2

	OpPrefixMisc   byte = 0xFC
	OpPrefixSIMD   byte = 0xFD
	OpPrefixAtomic byte = 0xFE
)

// 0xFC sub-opcodes that touch tables.
const (
	MiscTableInit uint32 = 12
	MiscElemDrop  uint32 = 13
	MiscTableCopy uint32 = 14
	MiscTableGrow uint32 = 15
	MiscTableSize uint32 = 16
	MiscTableFill uint32 = 17
)
