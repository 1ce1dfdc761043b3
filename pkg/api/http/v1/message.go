package v1

import (
	"errors"
	"strconv"
)

const (
	// SessionIDHeader carries the session token on requests and on the 409
	// response that rotates it.
	SessionIDHeader = "X-Transmission-Session-Id"

	ResultSuccess = "success"
)

var ErrInvalidTag = errors.New("tag must be an integer or a string")

// Tag correlates a request with its response. Integer and string tags are
// distinct: IntTag(1) never equals StringTag("1").
type Tag struct {
	numeric bool
	n       int64
	s       string
}

func IntTag(n int64) Tag { return Tag{numeric: true, n: n} }

func StringTag(s string) Tag { return Tag{s: s} }

func (t Tag) IsInt() bool { return t.numeric }

func (t Tag) Int() (int64, bool) { return t.n, t.numeric }

func (t Tag) Str() (string, bool) { return t.s, !t.numeric }

func (t Tag) String() string {
	if t.numeric {
		return strconv.FormatInt(t.n, 10)
	}

	return strconv.Quote(t.s)
}

func (t Tag) MarshalJSON() ([]byte, error) {
	if t.numeric {
		return Int(t.n).MarshalJSON()
	}

	return String(t.s).MarshalJSON()
}

func (t *Tag) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}

	switch v.Kind() {
	case KindInt:
		n, _ := v.AsInt()
		*t = IntTag(n)
	case KindString:
		s, _ := v.AsString()
		*t = StringTag(s)
	default:
		return ErrInvalidTag
	}

	return nil
}

// Request is the body POSTed to the daemon. There is no envelope version
// field on the wire.
type Request struct {
	Method    string `json:"method"`
	Arguments *Value `json:"arguments,omitempty"`
	Tag       *Tag   `json:"tag,omitempty"`
}

// NewRequest builds a request; nil arguments are omitted from the wire.
func NewRequest(method string, arguments map[string]Value) Request {
	req := Request{Method: method}
	if arguments != nil {
		args := Object(arguments)
		req.Arguments = &args
	}

	return req
}

func (r Request) WithTag(tag Tag) Request {
	r.Tag = &tag

	return r
}

type Response struct {
	Result    string `json:"result"`
	Arguments *Value `json:"arguments,omitempty"`
	Tag       *Tag   `json:"tag,omitempty"`
}

func (r Response) IsSuccess() bool {
	return r.Result == ResultSuccess
}

// ErrorMessage returns the daemon's result string for failed responses and
// an empty string for successful ones.
func (r Response) ErrorMessage() string {
	if r.IsSuccess() {
		return ""
	}

	return r.Result
}

func EncodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func DecodeResponse(data []byte) (Response, error) {
	var res Response
	if err := json.Unmarshal(data, &res); err != nil {
		return Response{}, err
	}

	return res, nil
}
