package alpaca

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Vendor message types ("T" field).
const (
	msgSuccess      = "success"
	msgError        = "error"
	msgSubscription = "subscription"
	msgBar          = "b"
	msgUpdatedBar   = "u"
	msgDailyBar     = "d"
	msgTrade        = "t"
)

// Vendor control messages.
const (
	ctlConnected     = "connected"
	ctlAuthenticated = "authenticated"
)

// Vendor error codes that change session handling.
const (
	codeAuthFailed      = 401
	codeConnectionLimit = 406
)

// -----------------------------------------------------------------------------
// Wire types. The same key means different things per message type ("c" is
// close on a bar and conditions on a trade), so frames are decoded in two
// steps: split into raw elements, then decode each by its "T".
// -----------------------------------------------------------------------------

type wireControl struct {
	T    string `json:"T" msgpack:"T"`
	Msg  string `json:"msg" msgpack:"msg"`
	Code int    `json:"code" msgpack:"code"`
}

type wireSubscription struct {
	T           string   `json:"T" msgpack:"T"`
	Bars        []string `json:"bars" msgpack:"bars"`
	UpdatedBars []string `json:"updatedBars" msgpack:"updatedBars"`
	Trades      []string `json:"trades" msgpack:"trades"`
}

type wireBar struct {
	T          string    `json:"T" msgpack:"T"`
	Symbol     string    `json:"S" msgpack:"S"`
	Open       float64   `json:"o" msgpack:"o"`
	High       float64   `json:"h" msgpack:"h"`
	Low        float64   `json:"l" msgpack:"l"`
	Close      float64   `json:"c" msgpack:"c"`
	Volume     float64   `json:"v" msgpack:"v"`
	Timestamp  time.Time `json:"t" msgpack:"t"`
	TradeCount int64     `json:"n" msgpack:"n"`
	VWAP       float64   `json:"vw" msgpack:"vw"`
}

type wireTrade struct {
	T          string    `json:"T" msgpack:"T"`
	ID         int64     `json:"i" msgpack:"i"`
	Symbol     string    `json:"S" msgpack:"S"`
	Exchange   string    `json:"x" msgpack:"x"`
	Price      float64   `json:"p" msgpack:"p"`
	Size       float64   `json:"s" msgpack:"s"`
	Timestamp  time.Time `json:"t" msgpack:"t"`
	Conditions []string  `json:"c" msgpack:"c"`
	Tape       string    `json:"z" msgpack:"z"`
}

type authRequest struct {
	Action string `json:"action" msgpack:"action"`
	Key    string `json:"key" msgpack:"key"`
	Secret string `json:"secret" msgpack:"secret"`
}

type subscribeRequest struct {
	Action      string   `json:"action" msgpack:"action"`
	Bars        []string `json:"bars,omitempty" msgpack:"bars,omitempty"`
	UpdatedBars []string `json:"updatedBars,omitempty" msgpack:"updatedBars,omitempty"`
	Trades      []string `json:"trades,omitempty" msgpack:"trades,omitempty"`
}

// -----------------------------------------------------------------------------

// codec frames outbound requests and splits inbound frames.
type codec interface {
	Name() string
	MessageType() int
	ContentType() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	// Split returns the elements of a frame array.
	Split(frame []byte) ([][]byte, error)
	// Kind returns the "T" of one element.
	Kind(element []byte) (string, error)
}

func newCodec(name string) (codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec '%s'", name)
	}
}

// -----------------------------------------------------------------------------

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) MessageType() int    { return websocket.TextMessage }
func (jsonCodec) ContentType() string { return "" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Split(frame []byte) ([][]byte, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("json frame: %w", err)
	}
	out := make([][]byte, len(raw))
	for i, r := range raw {
		out[i] = r
	}
	return out, nil
}

// Kind reads "T" through a map; a struct would also match "t" case-insensitively.
func (jsonCodec) Kind(element []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(element, &fields); err != nil {
		return "", err
	}
	var kind string
	if raw, ok := fields["T"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return "", err
		}
	}
	return kind, nil
}

// -----------------------------------------------------------------------------

type msgpackCodec struct{}

func (msgpackCodec) Name() string        { return "msgpack" }
func (msgpackCodec) MessageType() int    { return websocket.BinaryMessage }
func (msgpackCodec) ContentType() string { return "application/msgpack" }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) { return msgpack.Marshal(v) }

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }

func (msgpackCodec) Split(frame []byte) ([][]byte, error) {
	var raw []msgpack.RawMessage
	if err := msgpack.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("msgpack frame: %w", err)
	}
	out := make([][]byte, len(raw))
	for i, r := range raw {
		out[i] = r
	}
	return out, nil
}

func (msgpackCodec) Kind(element []byte) (string, error) {
	var fields map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(element, &fields); err != nil {
		return "", err
	}
	var kind string
	if raw, ok := fields["T"]; ok {
		if err := msgpack.Unmarshal(raw, &kind); err != nil {
			return "", err
		}
	}
	return kind, nil
}
