package probe

import (
	"errors"
	"fmt"
	"time"

	"CaptureBridge/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrBadRecord is returned when a NATS payload is not a valid pair record.
var ErrBadRecord = errors.New("malformed pair record")

// Field numbers of the pair record message.
const (
	fieldID protowire.Number = iota + 1
	fieldCreatedAt
	fieldTimestamp
	fieldMethod
	fieldHost
	fieldURL
	fieldStatusCode
	fieldPort
	fieldHTTPS
	fieldComplete
	fieldProcessName
	fieldPID
	fieldClientIP
	fieldClientPort
	fieldServerIP
	fieldServerPort
	fieldRequest
	fieldResponse
)

// MarshalRecord encodes rec in protobuf wire format.
func MarshalRecord(rec model.PairRecord) []byte {
	var b []byte
	b = appendString(b, fieldID, rec.ID)
	b = appendVarint(b, fieldCreatedAt, uint64(unixNano(rec.CreatedAt)))
	b = appendVarint(b, fieldTimestamp, uint64(unixNano(rec.Timestamp)))
	b = appendString(b, fieldMethod, rec.Method)
	b = appendString(b, fieldHost, rec.Host)
	b = appendString(b, fieldURL, rec.URL)
	b = appendString(b, fieldStatusCode, rec.StatusCode)
	b = appendVarint(b, fieldPort, uint64(rec.Port))
	b = appendVarint(b, fieldHTTPS, protowire.EncodeBool(rec.HTTPS))
	b = appendVarint(b, fieldComplete, protowire.EncodeBool(rec.Complete))
	b = appendString(b, fieldProcessName, rec.ProcessName)
	b = appendVarint(b, fieldPID, uint64(rec.PID))
	b = appendString(b, fieldClientIP, rec.ClientIP)
	b = appendVarint(b, fieldClientPort, uint64(rec.ClientPort))
	b = appendString(b, fieldServerIP, rec.ServerIP)
	b = appendVarint(b, fieldServerPort, uint64(rec.ServerPort))
	b = appendBytes(b, fieldRequest, rec.Request)
	b = appendBytes(b, fieldResponse, rec.Response)
	return b
}

// UnmarshalRecord decodes a record produced by MarshalRecord. Unknown fields
// are skipped.
func UnmarshalRecord(data []byte) (model.PairRecord, error) {
	var rec model.PairRecord
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return rec, fmt.Errorf("%w: %v", ErrBadRecord, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return rec, fmt.Errorf("%w: field %d: %v", ErrBadRecord, num, protowire.ParseError(m))
			}
			data = data[m:]
			setVarint(&rec, num, v)
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return rec, fmt.Errorf("%w: field %d: %v", ErrBadRecord, num, protowire.ParseError(m))
			}
			data = data[m:]
			setBytes(&rec, num, v)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return rec, fmt.Errorf("%w: field %d: %v", ErrBadRecord, num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return rec, nil
}

func setVarint(rec *model.PairRecord, num protowire.Number, v uint64) {
	switch num {
	case fieldCreatedAt:
		rec.CreatedAt = fromUnixNano(int64(v))
	case fieldTimestamp:
		rec.Timestamp = fromUnixNano(int64(v))
	case fieldPort:
		rec.Port = int(v)
	case fieldHTTPS:
		rec.HTTPS = protowire.DecodeBool(v)
	case fieldComplete:
		rec.Complete = protowire.DecodeBool(v)
	case fieldPID:
		rec.PID = int64(v)
	case fieldClientPort:
		rec.ClientPort = uint32(v)
	case fieldServerPort:
		rec.ServerPort = uint32(v)
	}
}

func setBytes(rec *model.PairRecord, num protowire.Number, v []byte) {
	switch num {
	case fieldID:
		rec.ID = string(v)
	case fieldMethod:
		rec.Method = string(v)
	case fieldHost:
		rec.Host = string(v)
	case fieldURL:
		rec.URL = string(v)
	case fieldStatusCode:
		rec.StatusCode = string(v)
	case fieldProcessName:
		rec.ProcessName = string(v)
	case fieldClientIP:
		rec.ClientIP = string(v)
	case fieldServerIP:
		rec.ServerIP = string(v)
	case fieldRequest:
		rec.Request = append([]byte(nil), v...)
	case fieldResponse:
		rec.Response = append([]byte(nil), v...)
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
