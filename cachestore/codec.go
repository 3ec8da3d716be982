package cachestore

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/jasmine-nahrain/trafficserver/transact"
)

// timeHeaderRequestSent / timeHeaderResponseRecvd / timeHeaderNegativeUntil /
// timeHeaderNeedRevalidate stash the CachedObject fields that don't fit
// naturally into an http.Response as synthetic headers, stripped again on
// decode. Grounded on the teacher's age.go, which uses the same trick
// (X-Request-Time/X-Response-Time) to carry timing metadata through a
// byte-oriented Cache.
const (
	timeHeaderRequestSent      = "X-Cachestore-Request-Sent"
	timeHeaderResponseRecvd    = "X-Cachestore-Response-Recvd"
	timeHeaderNegativeUntil    = "X-Cachestore-Negative-Until"
	timeHeaderNeedRevalidate   = "X-Cachestore-Need-Revalidate"
	timeHeaderBodySize         = "X-Cachestore-Body-Size"
)

// Encode serializes a CachedObject into the bytes a Cache backend stores,
// using the same httputil.DumpResponse wire format the teacher's
// Transport.RoundTrip uses for its own cache entries. The object's body is
// not carried here: backends that store bodies alongside headers (e.g. a
// blob store) persist body bytes under a companion key; the pure core
// never needs to see body bytes.
func Encode(obj *transact.CachedObject) ([]byte, error) {
	header := obj.Header.Clone()
	if !obj.RequestSent.IsZero() {
		header.Set(timeHeaderRequestSent, obj.RequestSent.Format(time.RFC3339Nano))
	}
	if !obj.ResponseRecvd.IsZero() {
		header.Set(timeHeaderResponseRecvd, obj.ResponseRecvd.Format(time.RFC3339Nano))
	}
	if !obj.NegativeUntil.IsZero() {
		header.Set(timeHeaderNegativeUntil, obj.NegativeUntil.Format(time.RFC3339Nano))
	}
	if obj.NeedRevalidateOnce {
		header.Set(timeHeaderNeedRevalidate, "1")
	}
	header.Set(timeHeaderBodySize, strconv.FormatInt(obj.BodySize, 10))

	resp := &http.Response{
		Status:        http.StatusText(obj.StatusCode),
		StatusCode:    obj.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          http.NoBody,
		ContentLength: 0,
	}
	return httputil.DumpResponse(resp, false)
}

// Decode reverses Encode, reconstructing a transact.CachedObject from the
// bytes a Cache backend returned.
func Decode(url string, data []byte) (*transact.CachedObject, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	obj := &transact.CachedObject{
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}
	if v := obj.Header.Get(timeHeaderRequestSent); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			obj.RequestSent = t
		}
		obj.Header.Del(timeHeaderRequestSent)
	}
	if v := obj.Header.Get(timeHeaderResponseRecvd); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			obj.ResponseRecvd = t
		}
		obj.Header.Del(timeHeaderResponseRecvd)
	}
	if v := obj.Header.Get(timeHeaderNegativeUntil); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			obj.NegativeUntil = t
		}
		obj.Header.Del(timeHeaderNegativeUntil)
	}
	if obj.Header.Get(timeHeaderNeedRevalidate) == "1" {
		obj.NeedRevalidateOnce = true
	}
	obj.Header.Del(timeHeaderNeedRevalidate)
	if v := obj.Header.Get(timeHeaderBodySize); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			obj.BodySize = n
		}
		obj.Header.Del(timeHeaderBodySize)
	}
	return obj, nil
}
