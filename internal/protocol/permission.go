package protocol

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

const (
	bitSetuid = 0o4000
	bitSetgid = 0o2000
	bitSticky = 0o1000
	maxBits   = 0o7777
)

type permAction struct {
	who   uint32
	op    byte
	perms string
}

// PermissionChange is a parsed permission mode: either absolute bits or a
// list of symbolic actions applied to the current mode.
type PermissionChange struct {
	absolute bool
	bits     uint32
	actions  []permAction
}

// ParsePermission accepts raw integer bits, octal text ("600", "0o600") or
// chmod-style symbolic text ("u+rw,go-rwx"). An empty who list means "a";
// the process umask is not consulted.
func ParsePermission(m Mode) (PermissionChange, error) {
	if !m.IsSet() {
		return PermissionChange{}, fmt.Errorf("%w: mode is required", ErrValidation)
	}
	if m.IsNumeric() {
		if m.Int() < 0 || m.Int() > maxBits {
			return PermissionChange{}, fmt.Errorf("%w: mode %d out of range", ErrValidation, m.Int())
		}
		return PermissionChange{absolute: true, bits: uint32(m.Int())}, nil
	}

	text := strings.TrimSpace(m.String())
	if text == "" {
		return PermissionChange{}, fmt.Errorf("%w: mode is required", ErrValidation)
	}
	if isOctal(text) {
		digits := strings.TrimPrefix(strings.TrimPrefix(text, "0o"), "0O")
		n, err := strconv.ParseUint(digits, 8, 32)
		if err != nil || n > maxBits {
			return PermissionChange{}, fmt.Errorf("%w: invalid octal mode %q", ErrValidation, text)
		}
		return PermissionChange{absolute: true, bits: uint32(n)}, nil
	}

	var pc PermissionChange
	for _, clause := range strings.Split(text, ",") {
		actions, err := parseClause(clause)
		if err != nil {
			return PermissionChange{}, fmt.Errorf("%w: invalid mode %q: %v", ErrValidation, text, err)
		}
		pc.actions = append(pc.actions, actions...)
	}
	return pc, nil
}

func isOctal(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0o"), "0O")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '7' {
			return false
		}
	}
	return true
}

var whoBits = map[byte]uint32{
	'u': 0o4700,
	'g': 0o2070,
	'o': 0o1007,
	'a': maxBits,
}

func parseClause(clause string) ([]permAction, error) {
	var who uint32
	i := 0
	for ; i < len(clause); i++ {
		bits, ok := whoBits[clause[i]]
		if !ok {
			break
		}
		who |= bits
	}
	if who == 0 {
		who = maxBits
	}
	if i >= len(clause) {
		return nil, fmt.Errorf("missing operator in %q", clause)
	}

	var actions []permAction
	for i < len(clause) {
		op := clause[i]
		if op != '+' && op != '-' && op != '=' {
			return nil, fmt.Errorf("unexpected %q in %q", op, clause)
		}
		i++
		start := i
		for ; i < len(clause) && strings.IndexByte("rwxXst", clause[i]) >= 0; i++ {
		}
		if i < len(clause) && strings.IndexByte("+-=", clause[i]) < 0 {
			return nil, fmt.Errorf("unsupported permission %q in %q", clause[i], clause)
		}
		actions = append(actions, permAction{who: who, op: op, perms: clause[start:i]})
	}
	return actions, nil
}

// Apply returns the mode that results from applying the change to current.
func (p PermissionChange) Apply(current fs.FileMode) fs.FileMode {
	if p.absolute {
		return toFileMode(p.bits)
	}

	bits := fromFileMode(current)
	for _, a := range p.actions {
		var value uint32
		for i := 0; i < len(a.perms); i++ {
			switch a.perms[i] {
			case 'r':
				value |= 0o444
			case 'w':
				value |= 0o222
			case 'x':
				value |= 0o111
			case 'X':
				if current.IsDir() || bits&0o111 != 0 {
					value |= 0o111
				}
			case 's':
				value |= bitSetuid | bitSetgid
			case 't':
				value |= bitSticky
			}
		}
		value &= a.who

		switch a.op {
		case '+':
			bits |= value
		case '-':
			bits &^= value
		case '=':
			bits = bits&^a.who | value
		}
	}
	return toFileMode(bits)
}

func toFileMode(bits uint32) fs.FileMode {
	mode := fs.FileMode(bits & 0o777)
	if bits&bitSetuid != 0 {
		mode |= fs.ModeSetuid
	}
	if bits&bitSetgid != 0 {
		mode |= fs.ModeSetgid
	}
	if bits&bitSticky != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

func fromFileMode(mode fs.FileMode) uint32 {
	bits := uint32(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		bits |= bitSetuid
	}
	if mode&fs.ModeSetgid != 0 {
		bits |= bitSetgid
	}
	if mode&fs.ModeSticky != 0 {
		bits |= bitSticky
	}
	return bits
}
