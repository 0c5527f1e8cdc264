package vm

func registerStackOps() {
	instrTable[OpPSH] = opPSH
	instrTable[OpLEA] = opLEA
	instrTable[OpIMM] = opIMM
	instrTable[OpLI] = opLI
	instrTable[OpLC] = opLC
	instrTable[OpSI] = opSI
	instrTable[OpSC] = opSC
}

// --- PSH ---

func opPSH(m *VM) {
	m.push(m.Reg.A)
}

// --- LEA k --- A := BP + k*word_size (frame-relative addressing)

func opLEA(m *VM) {
	k := m.fetch()
	m.Reg.A = m.Reg.BP + k*WordSize
}

// --- IMM v --- A := v

func opIMM(m *VM) {
	m.Reg.A = m.fetch()
}

// --- LI / LC --- dereference A as a word or byte (sign-extended)

func opLI(m *VM) {
	v, ok := m.Mem.ReadWord(m.Reg.A)
	if !ok || (m.CheckMemory && !m.checkRange(m.Reg.A, WordSize)) {
		m.fault(TrapSegv, m.Reg.A)
		return
	}
	m.Reg.A = v
}

func opLC(m *VM) {
	v, ok := m.Mem.ReadByte(m.Reg.A)
	if !ok || (m.CheckMemory && !m.checkRange(m.Reg.A, 1)) {
		m.fault(TrapSegv, m.Reg.A)
		return
	}
	m.Reg.A = v
}

// --- SI / SC --- store A through *SP++

func opSI(m *VM) {
	addr := m.pop()
	if m.CheckMemory && !m.checkRange(addr, WordSize) {
		m.fault(TrapSegv, addr)
		return
	}
	if !m.Mem.WriteWord(addr, m.Reg.A) {
		m.fault(TrapSegv, addr)
	}
}

func opSC(m *VM) {
	addr := m.pop()
	if m.CheckMemory && !m.checkRange(addr, 1) {
		m.fault(TrapSegv, addr)
		return
	}
	if !m.Mem.WriteByte(addr, m.Reg.A) {
		m.fault(TrapSegv, addr)
	}
}

// fetch reads the immediate operand word following the current opcode
// and advances PC past it.
func (m *VM) fetch() Word {
	if m.Reg.PC < 0 || int(m.Reg.PC) >= len(m.Code) {
		m.fault(TrapSegv, m.Reg.PC)
		return 0
	}
	v := m.Code[m.Reg.PC]
	m.Reg.PC++
	return v
}

// checkRange reports whether [addr, addr+width) lies within the data
// arena, used by the CheckMemory-gated SEGV check on LI/LC/SI/SC.
func (m *VM) checkRange(addr Word, width int) bool {
	return addr >= 0 && int64(addr)+int64(width) <= int64(m.Mem.Len())
}
