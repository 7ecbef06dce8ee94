// Package descriptor reads and writes identifier registration descriptors:
// small .properties files handed from the ordering stage to the registrar.
package descriptor

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"dvetransfer/internal/nbn"
	"dvetransfer/internal/services"
)

// Suffix is the descriptor file extension.
const Suffix = ".properties"

// Keys written to every descriptor.
const (
	KeyNBN      = "nbn"
	KeyLocation = "location"
	KeyCreated  = "created"
	KeyDVE      = "dve"
)

// Descriptor asks the registrar to point nbn at location.
type Descriptor struct {
	NBN      string
	Location string
	Created  time.Time
	DVE      string
}

// FileName returns "<created-unix-millis>-<sanitized nbn>.properties", so
// lexical order follows creation order.
func (d Descriptor) FileName() string {
	return fmt.Sprintf("%013d-%s%s", d.Created.UnixMilli(), nbn.Sanitize(d.NBN), Suffix)
}

// Marshal renders d in properties syntax.
func (d Descriptor) Marshal() []byte {
	var buf bytes.Buffer
	pairs := [][2]string{
		{KeyNBN, d.NBN},
		{KeyLocation, d.Location},
		{KeyCreated, d.Created.UTC().Format(time.RFC3339Nano)},
		{KeyDVE, d.DVE},
	}
	for _, kv := range pairs {
		buf.WriteString(escape(kv[0], true))
		buf.WriteString(" = ")
		buf.WriteString(escape(kv[1], false))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Parse reads a descriptor. nbn and location are required.
func Parse(r io.Reader) (Descriptor, error) {
	props, err := ReadProperties(r)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		NBN:      strings.TrimSpace(props[KeyNBN]),
		Location: strings.TrimSpace(props[KeyLocation]),
		DVE:      props[KeyDVE],
	}
	if d.NBN == "" {
		return Descriptor{}, fmt.Errorf("descriptor: %s missing: %w", KeyNBN, services.ErrValidation)
	}
	if d.Location == "" {
		return Descriptor{}, fmt.Errorf("descriptor: %s missing: %w", KeyLocation, services.ErrValidation)
	}
	if raw := strings.TrimSpace(props[KeyCreated]); raw != "" {
		created, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Descriptor{}, fmt.Errorf("descriptor: %s %q: %w", KeyCreated, raw, services.ErrValidation)
		}
		d.Created = created
	}
	return d, nil
}

// ReadProperties parses the subset of properties syntax Marshal emits plus
// comments, ':' separators and blank lines. Continuation lines are not supported.
func ReadProperties(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimLeft(scanner.Text(), " \t\f")
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		key, value, ok := splitProperty(line)
		if !ok {
			return nil, fmt.Errorf("properties line %d: no separator: %w", lineNo, services.ErrValidation)
		}
		k, err := unescape(key)
		if err != nil {
			return nil, fmt.Errorf("properties line %d: %v: %w", lineNo, err, services.ErrValidation)
		}
		v, err := unescape(value)
		if err != nil {
			return nil, fmt.Errorf("properties line %d: %v: %w", lineNo, err, services.ErrValidation)
		}
		props[k] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	return props, nil
}

func splitProperty(line string) (string, string, bool) {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '=', ':':
			return strings.TrimRight(line[:i], " \t"), strings.TrimLeft(line[i+1:], " \t"), true
		}
	}
	return "", "", false
}

func escape(s string, key bool) string {
	var b strings.Builder
	for i, r := range s {
		switch r {
		case '\\', '=', ':', '#', '!':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case ' ':
			if key || i == 0 {
				b.WriteString(`\ `)
			} else {
				b.WriteRune(r)
			}
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape")
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'u':
			if i+4 >= len(s) {
				return "", fmt.Errorf("short unicode escape")
			}
			n, err := strconv.ParseUint(s[i+1:i+5], 16, 32)
			if err != nil {
				return "", fmt.Errorf("bad unicode escape %q", s[i+1:i+5])
			}
			b.WriteRune(rune(n))
			i += 4
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}
