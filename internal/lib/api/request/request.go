package request

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Request is the envelope of every API call: the payload sits under "data".
type Request struct {
	Data json.RawMessage `json:"data,omitempty"`
}

var (
	ErrEmptyBody = errors.New("request body is empty")
	ErrNoData    = errors.New("data field is empty")
)

const maxBodySize = 1 << 20

// Decode decodes request body into Request struct
func Decode(r *http.Request) (*Request, error) {
	var req Request
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyBody
		}
		return nil, err
	}
	return &req, nil
}

// UnmarshalData unmarshals the Data field into a typed value
func (r *Request) UnmarshalData(target interface{}) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return ErrNoData
	}
	return json.Unmarshal(r.Data, target)
}
