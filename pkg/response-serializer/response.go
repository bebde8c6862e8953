package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was stored.
	StoredAt time.Time
}

// BytesToStoredResponse rebuilds a stored response.
// The returned response is bound to req, which should be the request being answered.
func BytesToStoredResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	if storedAt := res.Header.Get(storedAtHeaderName); storedAt != "" {
		millis, err := strconv.ParseInt(storedAt, 10, 64)
		if err != nil {
			return sRes, fmt.Errorf("parse %s header: %w", storedAtHeaderName, err)
		}
		sRes.StoredAt = time.UnixMilli(millis)
	}
	// delete extra headers
	sRes.Response.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// StoredResponseToBytes returns an independent HTTP/1.1 copy of the response.
// The response body is consumed and replaced by an in-memory copy,
// so the response can still be sent to the client afterwards.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.UnixMilli(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header just in case
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// Buffer reads the whole response body into memory and closes the original body.
// Use it when a response outlives the connection it was read from.
func Buffer(res *http.Response) error {
	if res.Body == nil || res.Body == http.NoBody {
		return nil
	}
	buf := &bytes.Buffer{}
	_, err := buf.ReadFrom(res.Body)
	res.Body.Close()
	res.Body = readCloser{bytes.NewReader(buf.Bytes())}
	return err
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// a known length avoids storing `Connection: close` for unframed bodies
	if res.ContentLength < 0 || len(res.TransferEncoding) > 0 {
		if err := Buffer(res); err != nil {
			return nil, err
		}
		res.ContentLength = 0
		if rc, ok := res.Body.(readCloser); ok {
			res.ContentLength = int64(rc.Len())
		}
		res.TransferEncoding = nil
	}
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	res.ContentLength = clonedRes.ContentLength
	// return buffer bytes
	return bts, nil
}

type readCloser struct {
	*bytes.Reader
}

func (readCloser) Close() error {
	return nil
}
