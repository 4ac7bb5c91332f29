package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/natsline/natsline-go/pkg/natserr"
)

// Parser errors.
var (
	ErrLineTooLong = errors.New("control line too long")
)

// Parser decodes server operations from a byte stream.
// A Parser is not safe for concurrent use.
type Parser struct {
	r       *bufio.Reader
	line    []byte
	maxLine int
}

// NewParser returns a parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		r:       bufio.NewReaderSize(r, 32*1024),
		maxLine: MaxControlLine,
	}
}

// Next reads and decodes the next operation.
func (p *Parser) Next() (*Frame, error) {
	for {
		line, err := p.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		return p.decode(line)
	}
}

// readLine returns the next control line without its CRLF. The returned
// slice is only valid until the next read.
func (p *Parser) readLine() ([]byte, error) {
	p.line = p.line[:0]
	for {
		chunk, err := p.r.ReadSlice('\n')
		if err == nil {
			if len(p.line) == 0 {
				return trimCRLF(chunk), nil
			}
			p.line = append(p.line, chunk...)
			return trimCRLF(p.line), nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
		p.line = append(p.line, chunk...)
		if len(p.line) > p.maxLine {
			return nil, fmt.Errorf("%w: %w", natserr.ErrProtocol, ErrLineTooLong)
		}
	}
}

func trimCRLF(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

func (p *Parser) decode(line []byte) (*Frame, error) {
	op, rest := line, []byte(nil)
	if i := bytes.IndexAny(line, " \t"); i >= 0 {
		op, rest = line[:i], line[i+1:]
	}

	switch string(bytes.ToUpper(op)) {
	case "MSG":
		m, err := p.decodeMsg(rest)
		if err != nil {
			return nil, err
		}
		return &Frame{Kind: KindMsg, Msg: m}, nil
	case "PING":
		return &Frame{Kind: KindPing}, nil
	case "PONG":
		return &Frame{Kind: KindPong}, nil
	case "+OK":
		return &Frame{Kind: KindOK}, nil
	case "-ERR":
		return &Frame{Kind: KindErr, Err: unquote(string(bytes.TrimSpace(rest)))}, nil
	case "INFO":
		var info Info
		if err := json.Unmarshal(bytes.TrimSpace(rest), &info); err != nil {
			return nil, fmt.Errorf("%w: bad INFO: %w", natserr.ErrProtocol, err)
		}
		return &Frame{Kind: KindInfo, Info: &info}, nil
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", natserr.ErrProtocol, op)
	}
}

// decodeMsg parses "subject sid [reply] size" and reads the payload.
func (p *Parser) decodeMsg(args []byte) (*Msg, error) {
	fields := bytes.Fields(args)
	if len(fields) != 3 && len(fields) != 4 {
		return nil, fmt.Errorf("%w: bad MSG arguments %q", natserr.ErrProtocol, args)
	}

	sid, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad MSG sid %q", natserr.ErrProtocol, fields[1])
	}
	size, err := strconv.Atoi(string(fields[len(fields)-1]))
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: bad MSG size %q", natserr.ErrProtocol, fields[len(fields)-1])
	}

	m := &Msg{
		Subject: string(fields[0]),
		Sid:     sid,
	}
	if len(fields) == 4 {
		m.Reply = string(fields[2])
	}

	buf := make([]byte, size+2)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, err
	}
	if buf[size] != '\r' || buf[size+1] != '\n' {
		return nil, fmt.Errorf("%w: MSG payload not terminated by CRLF", natserr.ErrProtocol)
	}
	m.Data = buf[:size:size]
	return m, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}
