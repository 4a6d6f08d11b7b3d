package stream

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/xtaci/aiogo/aioerr"
)

// LineParser returns a Parser that splits incoming bytes on delim,
// enforcing limit (<=0 for unbounded) per line, feeding each complete line
// (delimiter included) to out. On upstream EOF it propagates by calling
// out.FeedEOF and returns, leaving any undelimited residue in the
// ParserBuffer.
func LineParser(delim []byte, limit int) Parser {
	return func(pb *ParserBuffer, out *DataBuffer) error {
		for {
			line, err := pb.ReadUntil(delim, limit)
			if err != nil {
				if err == aioerr.ErrEofStream {
					out.FeedEOF()
					return nil
				}
				return err
			}
			out.FeedData(line)
		}
	}
}

// ChunkedParser returns a Parser for HTTP/1.1-style chunked transfer
// encoding: a hex size line, that many payload bytes, a trailing CRLF,
// repeated until a zero-size chunk (optionally followed by trailer header
// lines) ends the stream. Each decoded chunk's payload is fed as one item.
func ChunkedParser() Parser {
	return func(pb *ParserBuffer, out *DataBuffer) error {
		for {
			sizeLine, err := pb.ReadUntil([]byte("\r\n"), 4096)
			if err != nil {
				if err == aioerr.ErrEofStream {
					out.FeedEOF()
					return nil
				}
				return err
			}
			sizeStr := bytes.TrimSuffix(sizeLine, []byte("\r\n"))
			if idx := bytes.IndexByte(sizeStr, ';'); idx >= 0 {
				sizeStr = sizeStr[:idx]
			}
			size, perr := strconv.ParseInt(strings.TrimSpace(string(sizeStr)), 16, 64)
			if perr != nil {
				return aioerr.Wrapf(perr, "invalid chunk size line %q", sizeStr)
			}
			if size == 0 {
				if err := skipTrailers(pb); err != nil {
					if err == aioerr.ErrEofStream {
						out.FeedEOF()
						return nil
					}
					return err
				}
				out.FeedEOF()
				return nil
			}
			data, err := pb.Read(int(size))
			if err != nil {
				if err == aioerr.ErrEofStream {
					return aioerr.Wrap(aioerr.ErrIncompleteRead, "eof mid chunk")
				}
				return err
			}
			if err := pb.Skip(2); err != nil { // chunk-terminating CRLF
				if err == aioerr.ErrEofStream {
					return aioerr.Wrap(aioerr.ErrIncompleteRead, "eof after chunk data")
				}
				return err
			}
			out.FeedData(data)
		}
	}
}

func skipTrailers(pb *ParserBuffer) error {
	for {
		trailer, err := pb.ReadUntil([]byte("\r\n"), 4096)
		if err != nil {
			return err
		}
		if len(trailer) == 2 {
			return nil
		}
	}
}
