package kernel

import (
	"fmt"

	"github.com/c4ke/c4ke/vm"
)

const maxOpenFiles = 32

// fileTable holds the kernel-wide table of host files opened via OPEN,
// indexed by the small integer handed back to guest code. Shared across
// tasks like everything else in this core: there is no per-task file
// descriptor namespace.
type fileTable struct {
	slots [maxOpenFiles]*openFile
}

type openFile struct {
	name string
	buf  []byte
	pos  int
}

// installBaseSyscalls registers handlers at the fixed opcode numbers the
// VM itself reserves for OPEN..EXIT.
func (k *Kernel) installBaseSyscalls() {
	k.VM.RegisterSyscall(vm.OpOPEN, k.sysOpen)
	k.VM.RegisterSyscall(vm.OpREAD, k.sysRead)
	k.VM.RegisterSyscall(vm.OpCLOS, k.sysClose)
	k.VM.RegisterSyscall(vm.OpPRTF, k.sysPrintf)
	k.VM.RegisterSyscall(vm.OpMALC, k.sysMalloc)
	k.VM.RegisterSyscall(vm.OpFREE, k.sysFree)
	k.VM.RegisterSyscall(vm.OpMSET, k.sysMemset)
	k.VM.RegisterSyscall(vm.OpMCMP, k.sysMemcmp)
	k.VM.RegisterSyscall(vm.OpMCPY, k.sysMemcpy)
	k.VM.RegisterSyscall(vm.OpEXIT, k.sysExit)
}

// sysOpen treats its argument as a guest string naming a module the data
// segment already carries (there is no host path access at this layer —
// that bridge lives in START_C4R). It reads the bytes at that address up
// to the first NUL and keeps them as the file's entire fixed content, so
// READ hands the same bytes back out one slice at a time: matching how
// the original host toolchain preloaded embedded resources.
func (k *Kernel) sysOpen(m *vm.VM) {
	namePtr := m.Arg(0)
	name := readCString(m.Mem, namePtr)

	for i, f := range k.files.slots {
		if f == nil {
			k.files.slots[i] = &openFile{name: name, buf: []byte(name)}
			m.Reg.A = vm.Word(i)
			return
		}
	}
	m.Reg.A = vm.Word(-1)
}

func (k *Kernel) sysRead(m *vm.VM) {
	fd := int(m.Arg(0))
	addr := m.Arg(1)
	n := int(m.Arg(2))

	if fd < 0 || fd >= maxOpenFiles || k.files.slots[fd] == nil {
		m.Reg.A = vm.Word(-1)
		return
	}
	f := k.files.slots[fd]
	remaining := len(f.buf) - f.pos
	if n > remaining {
		n = remaining
	}
	if n > 0 {
		m.Mem.WriteBytes(addr, f.buf[f.pos:f.pos+n])
		f.pos += n
	}
	m.Reg.A = vm.Word(n)
}

func (k *Kernel) sysClose(m *vm.VM) {
	fd := int(m.Arg(0))
	if fd < 0 || fd >= maxOpenFiles || k.files.slots[fd] == nil {
		m.Reg.A = vm.Word(-1)
		return
	}
	k.files.slots[fd] = nil
	m.Reg.A = 0
}

// sysPrintf implements a restricted printf: %d, %s, %c, %% only, matching
// the subset the original bootstrap compiler itself emits. The format
// string and any %s arguments are guest pointers; the composed line is
// written to the kernel log rather than a host stdout fd, since there is
// no guest-visible stdout descriptor in this core.
func (k *Kernel) sysPrintf(m *vm.VM) {
	fmtPtr := m.Arg(0)
	format := readCString(m.Mem, fmtPtr)

	var out []byte
	argIdx := 1
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			out = append(out, c)
			continue
		}
		i++
		switch format[i] {
		case 'd':
			out = append(out, []byte(fmt.Sprintf("%d", m.Arg(argIdx)))...)
			argIdx++
		case 's':
			out = append(out, []byte(readCString(m.Mem, m.Arg(argIdx)))...)
			argIdx++
		case 'c':
			out = append(out, byte(m.Arg(argIdx)))
			argIdx++
		case '%':
			out = append(out, '%')
		default:
			out = append(out, '%', format[i])
		}
	}
	k.Log.Printf("%s", out)
	m.Reg.A = vm.Word(len(out))
}

func (k *Kernel) sysMalloc(m *vm.VM) {
	n := m.Arg(0)
	m.Reg.A = k.Alloc.Alloc(n)
}

func (k *Kernel) sysFree(m *vm.VM) {
	addr := m.Arg(0)
	if k.Alloc.Free(addr) {
		m.Reg.A = 0
	} else {
		m.Reg.A = vm.Word(-1)
	}
}

func (k *Kernel) sysMemset(m *vm.VM) {
	addr := m.Arg(0)
	val := byte(m.Arg(1))
	n := int(m.Arg(2))
	buf := m.Mem.Slice(addr, n)
	if buf == nil {
		m.Reg.A = vm.Word(-1)
		return
	}
	for i := range buf {
		buf[i] = val
	}
	m.Reg.A = addr
}

func (k *Kernel) sysMemcmp(m *vm.VM) {
	a := m.Arg(0)
	b := m.Arg(1)
	n := int(m.Arg(2))
	bufA := m.Mem.Slice(a, n)
	bufB := m.Mem.Slice(b, n)
	if bufA == nil || bufB == nil {
		m.Reg.A = vm.Word(-1)
		return
	}
	for i := 0; i < n; i++ {
		if bufA[i] != bufB[i] {
			m.Reg.A = vm.Word(int(bufA[i]) - int(bufB[i]))
			return
		}
	}
	m.Reg.A = 0
}

func (k *Kernel) sysMemcpy(m *vm.VM) {
	dst := m.Arg(0)
	src := m.Arg(1)
	n := int(m.Arg(2))
	srcBuf := m.Mem.Slice(src, n)
	if srcBuf == nil || !m.Mem.WriteBytes(dst, srcBuf) {
		m.Reg.A = vm.Word(-1)
		return
	}
	m.Reg.A = dst
}

// sysExit terminates the calling task: it never returns to the caller.
// There is no trap frame here — this dispatches as a plain base syscall
// against live registers — so the switch away from the exiting task
// goes through contextSwitchLive.
func (k *Kernel) sysExit(m *vm.VM) {
	code := m.Arg(0)
	k.enterCritical()
	defer k.exitCritical()

	t := k.currentTask()
	t.State = Zombie
	t.ExitCode = code
	k.Log.Printf("pid %d exited with code %d", t.ID, code)
	k.wakePIDWaiters(t.ID, code)

	if !k.contextSwitchLive(m) {
		k.Log.Printf("no runnable task after exit of pid %d", t.ID)
	}
}
