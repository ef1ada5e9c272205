package actions

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/heliod-dev/heliod/pkg/errors"
)

// parseMode interprets a permissions option. Integers and digit
// strings are read as octal, so the YAML values 755 and "755" both
// mean rwxr-xr-x. Other strings are chmod style symbolic clauses
// applied on top of base. A nil option keeps base unchanged.
func parseMode(option interface{}, base os.FileMode) (os.FileMode, error) {
	switch v := option.(type) {
	case nil:
		return base, nil
	case int:
		return octalMode(fmt.Sprintf("%d", v))
	case int64:
		return octalMode(fmt.Sprintf("%d", v))
	case uint64:
		return octalMode(fmt.Sprintf("%d", v))
	case float64:
		return octalMode(fmt.Sprintf("%d", int64(v)))
	case string:
		if v == "" {
			return base, nil
		}
		if isDigits(v) {
			return octalMode(v)
		}
		return symbolicMode(v, base)
	default:
		return base, errors.Newf(errors.ErrActionInvalid,
			"permissions must be an octal number or a mode string, got %T", option)
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func octalMode(digits string) (os.FileMode, error) {
	value, err := strconv.ParseUint(digits, 8, 32)
	if err != nil || value > 0o7777 {
		return 0, errors.Newf(errors.ErrActionInvalid,
			"invalid octal permissions %q", digits)
	}
	return os.FileMode(value), nil
}

// who selects which permission bits a symbolic clause touches.
var whoMasks = map[rune]os.FileMode{
	'u': 0o700,
	'g': 0o070,
	'o': 0o007,
	'a': 0o777,
}

var permBits = map[rune]os.FileMode{
	'r': 0o444,
	'w': 0o222,
	'x': 0o111,
}

// symbolicMode applies chmod style clauses such as "u+x" or
// "a-w,u=rw" to base.
func symbolicMode(spec string, base os.FileMode) (os.FileMode, error) {
	mode := base
	for _, clause := range strings.Split(spec, ",") {
		if clause == "" {
			return 0, errors.Newf(errors.ErrActionInvalid,
				"invalid symbolic permissions %q", spec)
		}

		var who os.FileMode
		i := 0
		for ; i < len(clause); i++ {
			mask, ok := whoMasks[rune(clause[i])]
			if !ok {
				break
			}
			who |= mask
		}
		if who == 0 {
			who = 0o777
		}

		if i >= len(clause) {
			return 0, errors.Newf(errors.ErrActionInvalid,
				"symbolic permissions %q miss an operator", spec)
		}
		op := clause[i]
		if op != '+' && op != '-' && op != '=' {
			return 0, errors.Newf(errors.ErrActionInvalid,
				"invalid symbolic permissions operator %q in %q", string(op), spec)
		}

		var perms os.FileMode
		for _, r := range clause[i+1:] {
			switch r {
			case 'r', 'w', 'x':
				perms |= permBits[r]
			case 'X':
				// Execute only where some execute bit is already set.
				if mode&0o111 != 0 {
					perms |= permBits['x']
				}
			default:
				return 0, errors.Newf(errors.ErrActionInvalid,
					"invalid symbolic permission %q in %q", string(r), spec)
			}
		}

		switch op {
		case '+':
			mode |= perms & who
		case '-':
			mode &^= perms & who
		case '=':
			mode = mode&^who | perms&who
		}
	}
	return mode, nil
}
