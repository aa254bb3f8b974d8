package ipc

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/g960059/itch/internal/model"
)

const (
	TypeRequest  = "request"
	TypeResponse = "response"

	DefaultReadBufferSize = 1 << 20 // 1 MiB
)

var ErrProtocolDecode = errors.New("ipc: cannot decode envelope")

// Kind names a request/response variant. A response carries the same kind
// as the request it answers.
type Kind string

const (
	KindSwitchToBackground  Kind = "switchToBackground"
	KindRearrangeBackground Kind = "rearrangeBackground"
	KindGetQueue            Kind = "getQueue"
	KindSetDayNight         Kind = "setDayNight"
	KindSwapPlaylist        Kind = "swapPlaylist"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSwitchToBackground, KindRearrangeBackground, KindGetQueue, KindSetDayNight, KindSwapPlaylist:
		return true
	}
	return false
}

type Request struct {
	Kind     Kind
	Path     string
	Moved    string
	Position model.Position
	Target   string
	Enabled  bool
	Variant  model.Variant
}

func SwitchToBackground(path string) Request {
	return Request{Kind: KindSwitchToBackground, Path: path}
}

func RearrangeBackground(moved string, pos model.Position, target string) Request {
	return Request{Kind: KindRearrangeBackground, Moved: moved, Position: pos, Target: target}
}

func GetQueue() Request {
	return Request{Kind: KindGetQueue}
}

func SetDayNight(enabled bool) Request {
	return Request{Kind: KindSetDayNight, Enabled: enabled}
}

func SwapPlaylist(which model.Variant) Request {
	return Request{Kind: KindSwapPlaylist, Variant: which}
}

type Response struct {
	Kind        Kind
	OK          bool
	MovedIndex  uint
	TargetIndex uint
	Items       []string
	Changed     bool
}

// Failure is the reply to a rejected request of the given kind.
func Failure(kind Kind) Response {
	return Response{Kind: kind}
}

func EncodeRequest(req Request) ([]byte, error) {
	var payload any
	switch req.Kind {
	case KindSwitchToBackground:
		payload = req.Path
	case KindRearrangeBackground:
		if !req.Position.Valid() {
			return nil, fmt.Errorf("encode request: invalid position %q", req.Position)
		}
		payload = [3]string{req.Moved, string(req.Position), req.Target}
	case KindGetQueue:
		payload = nil
	case KindSetDayNight:
		payload = req.Enabled
	case KindSwapPlaylist:
		if !req.Variant.Valid() {
			return nil, fmt.Errorf("encode request: invalid variant %q", req.Variant)
		}
		payload = string(req.Variant)
	default:
		return nil, fmt.Errorf("encode request: unknown kind %q", req.Kind)
	}
	return encodeEnvelope(TypeRequest, req.Kind, payload)
}

func DecodeRequest(b []byte) (Request, error) {
	kind, raw, err := decodeEnvelope(b, TypeRequest)
	if err != nil {
		return Request{}, err
	}
	req := Request{Kind: kind}
	switch kind {
	case KindSwitchToBackground:
		if err := json.Unmarshal(raw, &req.Path); err != nil {
			return Request{}, decodeErr(kind, err)
		}
	case KindRearrangeBackground:
		var parts [3]string
		if err := json.Unmarshal(raw, &parts); err != nil {
			return Request{}, decodeErr(kind, err)
		}
		pos, err := model.ParsePosition(parts[1])
		if err != nil {
			return Request{}, decodeErr(kind, err)
		}
		req.Moved, req.Position, req.Target = parts[0], pos, parts[2]
	case KindGetQueue:
	case KindSetDayNight:
		if err := json.Unmarshal(raw, &req.Enabled); err != nil {
			return Request{}, decodeErr(kind, err)
		}
	case KindSwapPlaylist:
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return Request{}, decodeErr(kind, err)
		}
		v, err := model.ParseVariant(name)
		if err != nil {
			return Request{}, decodeErr(kind, err)
		}
		req.Variant = v
	}
	return req, nil
}

func EncodeResponse(resp Response) ([]byte, error) {
	var payload any
	switch resp.Kind {
	case KindSwitchToBackground, KindSwapPlaylist:
		payload = resp.OK
	case KindRearrangeBackground:
		payload = []any{resp.OK, resp.MovedIndex, resp.TargetIndex}
	case KindGetQueue:
		items := resp.Items
		if items == nil {
			items = []string{}
		}
		payload = items
	case KindSetDayNight:
		payload = [2]bool{resp.OK, resp.Changed}
	default:
		return nil, fmt.Errorf("encode response: unknown kind %q", resp.Kind)
	}
	return encodeEnvelope(TypeResponse, resp.Kind, payload)
}

func DecodeResponse(b []byte) (Response, error) {
	kind, raw, err := decodeEnvelope(b, TypeResponse)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Kind: kind}
	switch kind {
	case KindSwitchToBackground, KindSwapPlaylist:
		if err := json.Unmarshal(raw, &resp.OK); err != nil {
			return Response{}, decodeErr(kind, err)
		}
	case KindRearrangeBackground:
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return Response{}, decodeErr(kind, err)
		}
		if len(parts) != 3 {
			return Response{}, decodeErr(kind, fmt.Errorf("expected 3 elements, got %d", len(parts)))
		}
		if err := json.Unmarshal(parts[0], &resp.OK); err != nil {
			return Response{}, decodeErr(kind, err)
		}
		if err := json.Unmarshal(parts[1], &resp.MovedIndex); err != nil {
			return Response{}, decodeErr(kind, err)
		}
		if err := json.Unmarshal(parts[2], &resp.TargetIndex); err != nil {
			return Response{}, decodeErr(kind, err)
		}
	case KindGetQueue:
		if err := json.Unmarshal(raw, &resp.Items); err != nil {
			return Response{}, decodeErr(kind, err)
		}
		if resp.Items == nil {
			resp.Items = []string{}
		}
	case KindSetDayNight:
		var parts [2]bool
		if err := json.Unmarshal(raw, &parts); err != nil {
			return Response{}, decodeErr(kind, err)
		}
		resp.OK, resp.Changed = parts[0], parts[1]
	}
	return resp, nil
}

func encodeEnvelope(typ string, kind Kind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	typeBody, err := json.Marshal(typ)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope type: %w", err)
	}
	out, err := json.Marshal(map[string]json.RawMessage{
		"type":       typeBody,
		string(kind): body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

func decodeEnvelope(b []byte, wantType string) (Kind, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}
	rawType, ok := fields["type"]
	if !ok {
		return "", nil, fmt.Errorf("%w: missing type", ErrProtocolDecode)
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return "", nil, fmt.Errorf("%w: type: %v", ErrProtocolDecode, err)
	}
	if typ != wantType {
		return "", nil, fmt.Errorf("%w: expected %s, got %q", ErrProtocolDecode, wantType, typ)
	}
	delete(fields, "type")
	if len(fields) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant, got %d", ErrProtocolDecode, len(fields))
	}
	for key, raw := range fields {
		kind := Kind(key)
		if !kind.Valid() {
			return "", nil, fmt.Errorf("%w: unknown variant %q", ErrProtocolDecode, key)
		}
		return kind, raw, nil
	}
	return "", nil, ErrProtocolDecode
}

func decodeErr(kind Kind, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProtocolDecode, kind, err)
}
