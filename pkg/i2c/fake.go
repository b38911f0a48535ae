package i2c

import "sync"

// Fake is an in-memory register file. Reads past a register auto-increment
// the address, except for registers marked as FIFO which repeat and pop
// from their queue instead.
type Fake struct {
	mu     sync.Mutex
	regs   [256]byte
	fifo   map[byte][]byte
	writes []Write
	closed bool

	// Err, when set, fails every transaction.
	Err error
}

// Write records one register write.
type Write struct {
	Reg   byte
	Value byte
}

// NewFake returns an empty register file.
func NewFake() *Fake {
	return &Fake{fifo: make(map[byte][]byte)}
}

// Set presets a register.
func (f *Fake) Set(reg, value byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg] = value
}

// Get returns a register's value.
func (f *Fake) Get(reg byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[reg]
}

// PushFIFO queues bytes to be returned by reads of reg.
func (f *Fake) PushFIFO(reg byte, data ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fifo[reg] = append(f.fifo[reg], data...)
}

// Writes returns the recorded writes.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

func (f *Fake) ReadReg(reg byte, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.Err != nil {
		return f.Err
	}
	if q, ok := f.fifo[reg]; ok {
		n := copy(buf, q)
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		f.fifo[reg] = q[n:]
		return nil
	}
	for i := range buf {
		buf[i] = f.regs[byte(int(reg)+i)]
	}
	return nil
}

func (f *Fake) WriteReg(reg, value byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.Err != nil {
		return f.Err
	}
	f.regs[reg] = value
	f.writes = append(f.writes, Write{Reg: reg, Value: value})
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
