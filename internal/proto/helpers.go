package proto

import "encoding/json"

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// EncodeParcel renders a parcel as a message body.
func EncodeParcel(p Parcel) json.RawMessage {
	return MustMarshal(p)
}

// DecodeParcel parses a message body produced by EncodeParcel.
func DecodeParcel(body []byte) (Parcel, error) {
	var p Parcel
	err := json.Unmarshal(body, &p)
	return p, err
}
