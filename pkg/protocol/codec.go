package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned by Decode for frames that are not a valid envelope.
	ErrMalformed = errors.New("protocol: malformed envelope")

	// ErrInvalidParams is returned when request params are not a JSON array.
	ErrInvalidParams = errors.New("protocol: params must be a JSON array")
)

var jsonNull = json.RawMessage("null")

// wire is the flat JSON shape shared by every envelope.
type wire struct {
	Type             Kind            `json:"type"`
	ID               string          `json:"id,omitempty"`
	Method           string          `json:"method,omitempty"`
	Params           json.RawMessage `json:"params,omitempty"`
	RequiresApproval *bool           `json:"requiresApproval,omitempty"`
	Timestamp        int64           `json:"timestamp,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            *RPCError       `json:"error,omitempty"`
	Event            string          `json:"event,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
}

// Encode serialises m into a frame.
func Encode(m Message) ([]byte, error) {
	var w wire
	switch v := m.(type) {
	case *Request:
		params := v.Params
		if len(params) == 0 {
			params = json.RawMessage("[]")
		}
		approval := v.RequiresApproval
		w = wire{
			Type:             KindRequest,
			ID:               v.ID,
			Method:           v.Method,
			Params:           params,
			RequiresApproval: &approval,
			Timestamp:        v.Timestamp,
		}
	case *Response:
		w = wire{Type: KindResponse, ID: v.ID, Method: v.Method}
		if v.Error != nil {
			w.Error = v.Error
		} else {
			w.Result = v.Result
			if len(w.Result) == 0 {
				w.Result = jsonNull
			}
		}
	case *Event:
		w = wire{Type: KindEvent, Event: v.Event, Data: v.Data}
		if len(w.Data) == 0 {
			w.Data = jsonNull
		}
	case *Ping:
		w = wire{Type: KindPing, ID: v.ID}
	case *Pong:
		w = wire{Type: KindPong, ID: v.ID}
	case *Unknown:
		return nil, fmt.Errorf("%w: cannot encode unknown type %q", ErrMalformed, v.Type)
	default:
		return nil, fmt.Errorf("%w: %T", ErrMalformed, m)
	}
	return json.Marshal(w)
}

// Decode parses a frame. Unrecognised tags decode to *Unknown without
// error; structurally invalid envelopes return ErrMalformed.
func Decode(data []byte) (Message, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch w.Type {
	case KindRequest:
		if w.ID == "" || w.Method == "" {
			return nil, fmt.Errorf("%w: request without id or method", ErrMalformed)
		}
		return &Request{
			ID:               w.ID,
			Method:           w.Method,
			Params:           w.Params,
			RequiresApproval: w.RequiresApproval != nil && *w.RequiresApproval,
			Timestamp:        w.Timestamp,
		}, nil
	case KindResponse:
		if w.ID == "" {
			return nil, fmt.Errorf("%w: response without id", ErrMalformed)
		}
		if w.Error != nil && len(w.Result) > 0 && !isNull(w.Result) {
			return nil, fmt.Errorf("%w: response carries both result and error", ErrMalformed)
		}
		resp := &Response{ID: w.ID, Method: w.Method, Error: w.Error}
		if w.Error == nil {
			resp.Result = w.Result
			if len(resp.Result) == 0 {
				resp.Result = jsonNull
			}
		}
		return resp, nil
	case KindEvent:
		if w.Event == "" {
			return nil, fmt.Errorf("%w: event without name", ErrMalformed)
		}
		return &Event{Event: w.Event, Data: w.Data}, nil
	case KindPing:
		return &Ping{ID: w.ID}, nil
	case KindPong:
		return &Pong{ID: w.ID}, nil
	default:
		return &Unknown{Type: string(w.Type)}, nil
	}
}

// ParamsArray validates that raw is absent or a JSON array and splits it.
func ParamsArray(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, ErrInvalidParams
	}
	return params, nil
}

// MarshalParams encodes Go values as a params array. A json.RawMessage
// holding an array is passed through.
func MarshalParams(params any) (json.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return json.RawMessage("[]"), nil
	case json.RawMessage:
		if _, err := ParamsArray(v); err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return json.RawMessage("[]"), nil
		}
		return v, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if _, err := ParamsArray(raw); err != nil {
		return nil, err
	}
	if isNull(raw) {
		return json.RawMessage("[]"), nil
	}
	return raw, nil
}

// MustMarshal encodes v, panicking on failure. Only for values known to
// be encodable.
func MustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}
