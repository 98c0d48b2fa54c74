package provider

import (
	"bufio"
	"io"
	"net/http"
	"strconv"

	"github.com/zeroai/gateway/internal/errs"
)

// sseLines scans resp line by line and feeds every "data: " payload (or the
// occasional provider that omits the space) to yield, skipping "[DONE]" and
// blank lines. It stops at the first read error or when yield returns false.
func sseLines(r io.Reader, yield func(data []byte) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := cutSSEData(line)
		if !ok {
			continue
		}
		if string(data) == "[DONE]" {
			break
		}
		if !yield(data) {
			break
		}
	}
	return scanner.Err()
}

func cutSSEData(line []byte) ([]byte, bool) {
	const prefix = "data: "
	const uglyPrefix = "data:"
	if len(line) >= len(prefix) && string(line[:len(prefix)]) == prefix {
		return line[len(prefix):], true
	}
	if len(line) >= len(uglyPrefix) && string(line[:len(uglyPrefix)]) == uglyPrefix {
		return line[len(uglyPrefix):], true
	}
	return nil, false
}

// readUpstreamError builds a gateway error from a non-2xx HTTP response,
// parsing Retry-After when present.
func readUpstreamError(resp *http.Response, body []byte) error {
	ms, has := parseRetryAfterHeader(resp.Header.Get("Retry-After"))
	return errs.HTTPUpstream(resp.StatusCode, string(body), ms, has)
}

func parseRetryAfterHeader(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return int64(secs * 1000), true
	}
	return 0, false
}
