package vm

type Key uint8

const (
	Key0 = Key(iota)
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
)

// KeyRelease passed to SetKeys releases every key.
const KeyRelease = uint8(0xFF)

// Keypad is the pressed state of the 16 CHIP-8 keys, indexed by Key.
type Keypad [KeyCount]bool

// Press marks key as pressed. Keys outside 0x0-0xF are ignored.
func (k *Keypad) Press(key Key) {
	if int(key) < KeyCount {
		k[key] = true
	}
}

// SetKeys replaces the latch with a single pressed key, or with no keys at
// all for KeyRelease. Other codes leave the latch as it is.
func (vm *VM) SetKeys(code uint8) {
	switch {
	case code == KeyRelease:
		vm.keypad = Keypad{}
	case int(code) < KeyCount:
		vm.keypad = Keypad{}
		vm.keypad[code] = true
	}
}

// SetKeypad replaces the latch with keys.
func (vm *VM) SetKeypad(keys Keypad) {
	vm.keypad = keys
}

func (vm *VM) pressed(key uint8) bool {
	return vm.keypad[key&0x0F]
}

func (vm *VM) beginKeyWait(x uint8) {
	vm.waiting = true
	vm.waitReg = x
	vm.waitSeen = vm.keypad

	// Hold PC on the FX0A instruction until a key arrives.
	vm.pc = (vm.pc - InstructionSize) & addressMask
}

// pollKeyWait completes FX0A when a key went down since the last look.
func (vm *VM) pollKeyWait() {
	for i, down := range vm.keypad {
		if down && !vm.waitSeen[i] {
			vm.registers[vm.waitReg] = uint8(i)
			vm.waiting = false
			vm.waitSeen = Keypad{}
			vm.pc = (vm.pc + InstructionSize) & addressMask
			return
		}
	}

	vm.waitSeen = vm.keypad
}
